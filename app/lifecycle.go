package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relaybus/relaybus/log"
)

// RouteRegistrar is implemented by components that expose HTTP routes
// (the inbound transport listener, debug endpoints, health checks).
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// startable is duck-typed so components opt in by implementing Start
// without importing this package.
type startable interface {
	Start(ctx context.Context) error
}

// stoppable is duck-typed so components opt in by implementing Stop
// without importing this package.
type stoppable interface {
	Stop(ctx context.Context) error
}

// Setup inspects each component and collects its start/stop functions and
// route registrar, in the order the components were given. It does not
// invoke RegisterRoutes: routes are only wired in once every component has
// started successfully, so a half-started bus never serves traffic.
func Setup(ctx context.Context, r chi.Router, components ...interface{}) (
	starts []func(context.Context) error,
	stops []func(context.Context) error,
	registrars []RouteRegistrar,
) {
	for _, c := range components {
		if s, ok := c.(startable); ok {
			starts = append(starts, s.Start)
		}
		if s, ok := c.(stoppable); ok {
			stops = append(stops, s.Stop)
		}
		if rr, ok := c.(RouteRegistrar); ok {
			registrars = append(registrars, rr)
		}
	}
	return starts, stops, registrars
}

// Start runs each start function in order. If one fails, every component
// that already started is rolled back (stopped, in reverse order) before
// the original start error is returned; a rollback failure is logged but
// never masks the start error. Routes are registered only after every
// start succeeds.
func Start(
	ctx context.Context,
	logger log.Logger,
	starts []func(context.Context) error,
	stops []func(context.Context) error,
	registrars []RouteRegistrar,
	r chi.Router,
) error {
	started := 0

	for i, start := range starts {
		if err := start(ctx); err != nil {
			for j := started - 1; j >= 0; j-- {
				if j < len(stops) {
					if stopErr := stops[j](ctx); stopErr != nil {
						logger.Error("Rollback stop failed", "index", j, "error", stopErr)
					}
				}
			}
			logger.Error("Component failed to start, rolled back", "index", i, "error", err)
			return err
		}
		started++
	}

	for _, rr := range registrars {
		rr.RegisterRoutes(r)
	}

	return nil
}

// Shutdown stops accepting new HTTP connections, then runs every stop
// function in reverse order regardless of individual failures, logging
// each one it encounters.
func Shutdown(server *http.Server, logger log.Logger, stops []func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}

	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](ctx); err != nil {
			logger.Error("Component stop failed", "index", i, "error", err)
		}
	}
}
