// Package buserr defines the closed set of error kinds that cross every
// relaybus component boundary, so callers can classify a failure with
// errors.Is regardless of which layer produced it.
package buserr

import "errors"

var (
	ErrTransport         = errors.New("transport error")
	ErrNameResolution    = errors.New("name resolution failed")
	ErrConnectionRefused = errors.New("connection refused")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotAcknowledged   = errors.New("not acknowledged")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrTopicNotFound     = errors.New("topic not found")
	ErrNoEndpoints       = errors.New("no endpoints resolved")
	ErrQueueExists       = errors.New("queue already exists")
	ErrQueueNotFound     = errors.New("queue not found")
	ErrUnknownMessage    = errors.New("unknown message name")
	ErrCancelled         = errors.New("operation cancelled")
	ErrDisposed          = errors.New("bus disposed")
)
