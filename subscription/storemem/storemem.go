// Package storemem is the default in-memory subscription.Store.
package storemem

import (
	"context"
	"sync"
	"time"

	"github.com/relaybus/relaybus/subscription"
)

type key struct {
	topic string
	uri   string
}

// Store is an in-memory implementation of subscription.Store.
type Store struct {
	mu   sync.Mutex
	subs map[key]subscription.Subscriber
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{subs: make(map[key]subscription.Subscriber)}
}

func (s *Store) Add(_ context.Context, sub subscription.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[key{sub.Topic, sub.URI}] = sub
	return nil
}

func (s *Store) Remove(_ context.Context, topic, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, key{topic, uri})
	return nil
}

func (s *Store) List(_ context.Context, topic string) ([]subscription.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []subscription.Subscriber
	for k, sub := range s.subs {
		if k.topic == topic {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, sub := range s.subs {
		if sub.Expired(before) {
			delete(s.subs, k)
			n++
		}
	}
	return n, nil
}
