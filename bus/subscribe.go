package bus

import (
	"context"
	"errors"
	"time"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/transport"
)

// transientRetryDelay is how long a subscription worker waits after a
// transient transport failure before retrying the Add request.
const transientRetryDelay = 30 * time.Second

// maintainSubscription runs the long-lived renewal loop for one
// configured OutboundSubscription: send Add, sleep TTL/2 on success (or
// return if TTL is non-expiring), back off 30s on transient errors, and
// stop permanently on a terminal classification.
func (b *Bus) maintainSubscription(sub OutboundSubscription) {
	logger := b.logger.With("endpoint", sub.PublisherEndpoint, "topic", sub.Topic)

	for {
		publisher, ok := b.endpoints.ByName(sub.PublisherEndpoint)
		if !ok {
			logger.Errorf("subscription worker: unknown endpoint %q, stopping", sub.PublisherEndpoint)
			return
		}

		err := b.sendSubscriptionRequest(publisher, sub)
		if err == nil {
			if sub.TTL <= 0 {
				return
			}
			if !b.sleepOrStop(sub.TTL / 2) {
				return
			}
			continue
		}

		switch {
		case errors.Is(err, buserr.ErrNameResolution), errors.Is(err, buserr.ErrConnectionRefused), errors.Is(err, buserr.ErrTransport):
			logger.Errorf("subscription worker: transient failure, retrying in %s: %v", transientRetryDelay, err)
			if !b.sleepOrStop(transientRetryDelay) {
				return
			}
		case errors.Is(err, buserr.ErrInvalidRequest), errors.Is(err, buserr.ErrEndpointNotFound):
			logger.Errorf("subscription worker: terminal failure, stopping: %v", err)
			return
		default:
			logger.Errorf("subscription worker: unclassified failure, retrying in %s: %v", transientRetryDelay, err)
			if !b.sleepOrStop(transientRetryDelay) {
				return
			}
		}
	}
}

func (b *Bus) sendSubscriptionRequest(publisher endpoint.Endpoint, sub OutboundSubscription) error {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	ttlSeconds := int64(sub.TTL / time.Second)
	return b.transport.SendSubscriptionRequest(ctx, transport.SubscriptionAdd, publisher, sub.Topic, b.selfURI, ttlSeconds)
}

// sleepOrStop sleeps for d, returning false if the bus is disposed
// before the sleep elapses so the caller can exit its loop promptly.
func (b *Bus) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-b.ctx.Done():
		return false
	}
}
