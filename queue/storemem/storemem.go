// Package storemem is the default in-memory queue.Store: a process-local
// map guarded by a mutex. It satisfies the engine's durability contract
// only within one process's lifetime — it does not survive a restart.
// The concrete persistence backend is a pluggable concern; storage/postgres
// provides one that does survive a restart.
package storemem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybus/relaybus/queue"
)

// Store is an in-memory implementation of queue.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]*queue.QueuedMessage
	order   []string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*queue.QueuedMessage)}
}

func (s *Store) Insert(_ context.Context, m queue.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[m.ID]; exists {
		return fmt.Errorf("storemem: message %s already inserted", m.ID)
	}

	rec := m
	s.records[m.ID] = &rec
	s.order = append(s.order, m.ID)
	return nil
}

func (s *Store) LoadPending(_ context.Context, queueName queue.Name) ([]queue.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []queue.QueuedMessage
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Queue == queueName && !rec.Terminal() {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *Store) RecordAttempt(_ context.Context, id string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("storemem: unknown message %s", id)
	}
	rec.Attempts = attempts
	return nil
}

func (s *Store) Acknowledge(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("storemem: unknown message %s", id)
	}
	rec.AcknowledgedAt = &at
	return nil
}

func (s *Store) Abandon(_ context.Context, id string, at time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("storemem: unknown message %s", id)
	}
	rec.Attempts = attempts
	rec.AbandonedAt = &at
	return nil
}

// Snapshot returns a copy of every record, for test assertions about
// crash-recovery replay (the multiset of non-terminal messages).
func (s *Store) Snapshot() []queue.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]queue.QueuedMessage, 0, len(s.records))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}
