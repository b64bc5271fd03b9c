// Package subscription implements the Subscription Tracker (C3): a
// durable (topic -> set of subscriber URIs with TTLs) table that answers
// "who subscribes to T?" for publish fan-out.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/model"
)

// Subscriber is one inbound subscription record: a topic, the
// subscriber's URI, and the time after which it is no longer valid.
// Duplicates by (Topic, URI) replace the older ExpiresAt.
type Subscriber struct {
	Topic     string
	URI       string
	ExpiresAt time.Time
}

// Expired reports whether this subscriber's TTL has elapsed as of now.
func (s Subscriber) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Store is the persistence contract the tracker requires. Add is an
// upsert keyed by (topic, uri); Remove is idempotent; List returns every
// record for a topic regardless of expiration (the tracker itself
// filters on read).
type Store interface {
	Add(ctx context.Context, s Subscriber) error
	Remove(ctx context.Context, topic, uri string) error
	List(ctx context.Context, topic string) ([]Subscriber, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Tracker is the in-process Subscription Tracker: it persists through a
// Store and additionally runs a periodic sweep to prune expired entries,
// so both pruning strategies (lazy filter on read, background sweep) are
// present at once.
type Tracker struct {
	store  Store
	logger log.Logger

	sweepInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithSweepInterval overrides the default 30s expired-entry sweep
// interval. A non-positive interval disables the background sweep;
// expired entries are still excluded from GetSubscribers by lazy
// filtering.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sweepInterval = d }
}

// New builds a Tracker over the given Store.
func New(store Store, logger log.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	t := &Tracker{store: store, logger: logger, sweepInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the background sweep goroutine. Safe to call once;
// subsequent calls are no-ops until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil || t.sweepInterval <= 0 {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.sweepLoop(sweepCtx)

	return nil
}

// Stop halts the background sweep and waits for it to exit.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *Tracker) sweepLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := t.store.DeleteExpired(ctx, model.Now())
			if err != nil {
				t.logger.Errorf("subscription: sweep failed: %v", err)
				continue
			}
			if n > 0 {
				t.logger.Debugf("subscription: swept %d expired subscriber(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// AddSubscription upserts a subscriber for a topic. ttl<=0 means
// non-expiring. Calling it twice for the same (topic, uri) overwrites
// the earlier TTL with the latest one.
func (t *Tracker) AddSubscription(ctx context.Context, topic, uri string, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = model.Now().Add(ttl)
	}
	return t.store.Add(ctx, Subscriber{Topic: topic, URI: uri, ExpiresAt: expires})
}

// RemoveSubscription deletes a subscriber record for a topic.
func (t *Tracker) RemoveSubscription(ctx context.Context, topic, uri string) error {
	return t.store.Remove(ctx, topic, uri)
}

// GetSubscribers returns the URIs subscribed to topic whose TTL has not
// elapsed, enumerated atomically at the time of the call: additions or
// removals that happen afterward do not retroactively affect the
// snapshot a caller already received.
func (t *Tracker) GetSubscribers(ctx context.Context, topic string) ([]string, error) {
	all, err := t.store.List(ctx, topic)
	if err != nil {
		return nil, err
	}

	now := model.Now()
	out := make([]string, 0, len(all))
	for _, s := range all {
		if !s.Expired(now) {
			out = append(out, s.URI)
		}
	}
	return out, nil
}
