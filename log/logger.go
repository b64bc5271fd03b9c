// Package log provides the structured logger used across relaybus.
//
// It wraps log/slog behind a small interface so components depend on a
// contract, not a concrete logging library, matching the rest of the
// module's style (config, telemetry, preflight all take interfaces).
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LogLevel is the minimum severity a Logger will emit.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	ErrorLevel
)

// Logger is the logging contract every relaybus component accepts.
type Logger interface {
	Debug(msg string, args ...any)
	Debugf(format string, args ...any)
	Info(msg string, args ...any)
	Infof(format string, args ...any)
	Error(msg string, args ...any)
	Errorf(format string, args ...any)
	With(args ...any) Logger
}

// NewLogger builds a Logger that writes structured text to stderr at the
// given level ("debug", "info", "error"; anything else defaults to info).
func NewLogger(level string) Logger {
	logLevel := parseLevel(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: toSlogLevel(logLevel),
	})
	return &slogLogger{
		logger:   slog.New(handler),
		logLevel: logLevel,
	}
}

// NewNoopLogger returns a Logger that discards everything. Useful as a
// default for components constructed without an explicit logger.
func NewNoopLogger() Logger {
	return &slogLogger{
		logger:   slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1})),
		logLevel: ErrorLevel + 1,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type slogLogger struct {
	logger   *slog.Logger
	logLevel LogLevel
}

func (l *slogLogger) Debug(msg string, args ...any) {
	if l.logLevel <= DebugLevel {
		l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
	}
}

func (l *slogLogger) Debugf(format string, args ...any) {
	if l.logLevel <= DebugLevel {
		l.logger.Log(context.Background(), slog.LevelDebug, sprintf(format, args...))
	}
}

func (l *slogLogger) Info(msg string, args ...any) {
	if l.logLevel <= InfoLevel {
		l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
	}
}

func (l *slogLogger) Infof(format string, args ...any) {
	if l.logLevel <= InfoLevel {
		l.logger.Log(context.Background(), slog.LevelInfo, sprintf(format, args...))
	}
}

func (l *slogLogger) Error(msg string, args ...any) {
	if l.logLevel <= ErrorLevel {
		l.logger.Log(context.Background(), slog.LevelError, msg, args...)
	}
}

func (l *slogLogger) Errorf(format string, args ...any) {
	if l.logLevel <= ErrorLevel {
		l.logger.Log(context.Background(), slog.LevelError, sprintf(format, args...))
	}
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{
		logger:   l.logger.With(args...),
		logLevel: l.logLevel,
	}
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "dbg":
		return DebugLevel
	case "info", "inf":
		return InfoLevel
	case "error", "err":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func toSlogLevel(l LogLevel) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
