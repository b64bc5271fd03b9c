// Package queue implements the durable FIFO queue engine (C2): per-queue
// listener dispatch with bounded concurrency, retry, expiration, and
// acknowledgement, backed by a pluggable Store.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/model"
	"golang.org/x/sync/semaphore"
)

// Name identifies a queue uniquely within a bus process.
type Name string

func (n Name) String() string { return string(n) }

// Options configures a queue created via Engine.CreateQueue.
type Options struct {
	// ConcurrencyLimit bounds the number of messages dispatched to the
	// listener at once. Must be >= 1; defaults to 1.
	ConcurrencyLimit int
	// AutoAcknowledge acknowledges every delivered message regardless of
	// whether the listener calls Acknowledge explicitly.
	AutoAcknowledge bool
	// MaxAttempts bounds how many times a message is dispatched before
	// it is abandoned. Must be >= 1; defaults to 10.
	MaxAttempts int
	// RetryDelay is slept in place before a failed message is
	// redispatched. Defaults to 0.
	RetryDelay time.Duration
	// BufferSize sizes the in-memory channel that feeds the pull loop.
	// Defaults to 64.
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyLimit < 1 {
		o.ConcurrencyLimit = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 10
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.BufferSize < 1 {
		o.BufferSize = 64
	}
	return o
}

// QueuedMessage is the persistent record of one message enqueued onto a
// named queue. Exactly one of AcknowledgedAt/AbandonedAt is set once the
// message reaches a terminal state.
type QueuedMessage struct {
	ID              string
	Queue           Name
	Message         message.Message
	SenderPrincipal string
	Attempts        int
	AcknowledgedAt  *time.Time
	AbandonedAt     *time.Time
}

// Terminal reports whether this queued message has reached a terminal
// state (acknowledged or abandoned).
func (m QueuedMessage) Terminal() bool {
	return m.AcknowledgedAt != nil || m.AbandonedAt != nil
}

// QueuedMessageContext is passed to a Listener for each dispatch attempt.
// The listener observes acknowledgement through Acknowledge; the engine
// reads it back via Acknowledged after the listener returns.
type QueuedMessageContext struct {
	Headers         message.Headers
	Content         []byte
	SenderPrincipal string
	Attempts        int

	mu  sync.Mutex
	ack bool
}

// Acknowledge marks the message as successfully handled. Safe to call
// from concurrent handlers fanned out over the same delivery (C7).
func (c *QueuedMessageContext) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ack = true
}

// Acknowledged reports whether Acknowledge was called.
func (c *QueuedMessageContext) Acknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ack
}

// Listener processes one queued message per dispatch attempt. Returning
// an error (or panicking, which the engine recovers and treats the same
// way) leaves the message unacknowledged unless AutoAcknowledge is set.
type Listener interface {
	HandleQueuedMessage(ctx context.Context, qctx *QueuedMessageContext) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, qctx *QueuedMessageContext) error

func (f ListenerFunc) HandleQueuedMessage(ctx context.Context, qctx *QueuedMessageContext) error {
	return f(ctx, qctx)
}

// Store is the persistence contract the engine requires: insert, select
// non-terminal entries for replay, and record terminal/attempt updates.
// Each method must be atomic with respect to the record it touches; the
// engine never holds two concurrent mutations for the same entry.
type Store interface {
	Insert(ctx context.Context, m QueuedMessage) error
	LoadPending(ctx context.Context, queue Name) ([]QueuedMessage, error)
	RecordAttempt(ctx context.Context, id string, attempts int) error
	Acknowledge(ctx context.Context, id string, at time.Time) error
	Abandon(ctx context.Context, id string, at time.Time, attempts int) error
}

type queueState struct {
	name     Name
	listener Listener
	opts     Options
	buffer   chan QueuedMessage
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// Engine is the per-process queue runtime: it owns zero or more named
// queues, each with its own buffer, pull loop, and concurrency semaphore.
type Engine struct {
	store  Store
	logger log.Logger

	mu     sync.Mutex
	queues map[Name]*queueState

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a queue engine over the given Store. The engine's
// background work (pull loops, retry sleeps) is cancelled by Stop.
func New(store Store, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		logger: logger,
		queues: make(map[Name]*queueState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// CreateQueue creates a named queue if absent, loads its non-terminal
// backlog into the in-memory buffer, and starts its pull loop. Fails
// with ErrQueueExists if this queue was already created in this process.
func (e *Engine) CreateQueue(name Name, listener Listener, opts Options) error {
	opts = opts.withDefaults()

	e.mu.Lock()
	if _, exists := e.queues[name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("queue: %w: %q", buserr.ErrQueueExists, name)
	}

	qs := &queueState{
		name:     name,
		listener: listener,
		opts:     opts,
		buffer:   make(chan QueuedMessage, opts.BufferSize),
		sem:      semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
	}
	e.queues[name] = qs
	e.mu.Unlock()

	pending, err := e.store.LoadPending(e.ctx, name)
	if err != nil {
		return fmt.Errorf("queue: load pending for %q: %w", name, err)
	}

	go e.runPullLoop(qs)

	for _, qm := range pending {
		select {
		case qs.buffer <- qm:
		case <-e.ctx.Done():
			return nil
		}
	}

	return nil
}

// EnqueueMessage persists a message onto a named queue and signals the
// dispatcher. Fails with ErrQueueNotFound if the queue was not created.
func (e *Engine) EnqueueMessage(ctx context.Context, name Name, msg message.Message, senderPrincipal string) error {
	e.mu.Lock()
	qs, ok := e.queues[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("queue: %w: %q", buserr.ErrQueueNotFound, name)
	}

	qm := QueuedMessage{
		ID:              msg.Headers.MessageID().String(),
		Queue:           name,
		Message:         msg,
		SenderPrincipal: senderPrincipal,
	}

	if err := e.store.Insert(ctx, qm); err != nil {
		return fmt.Errorf("queue: insert onto %q: %w", name, err)
	}

	select {
	case qs.buffer <- qm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return fmt.Errorf("queue: %w", buserr.ErrDisposed)
	}
}

// Stats is a point-in-time snapshot of one queue's depth and
// configuration, for diagnostic endpoints.
type Stats struct {
	Name             Name
	Depth            int
	ConcurrencyLimit int
	MaxAttempts      int
}

// Stats returns a snapshot of every queue this engine owns.
func (e *Engine) Stats() []Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Stats, 0, len(e.queues))
	for name, qs := range e.queues {
		out = append(out, Stats{
			Name:             name,
			Depth:            len(qs.buffer),
			ConcurrencyLimit: qs.opts.ConcurrencyLimit,
			MaxAttempts:      qs.opts.MaxAttempts,
		})
	}
	return out
}

// Stop cancels every queue's background work and waits for in-flight
// process tasks to observe cancellation and exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()

	e.mu.Lock()
	queues := make([]*queueState, 0, len(e.queues))
	for _, qs := range e.queues {
		queues = append(queues, qs)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, qs := range queues {
			qs.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPullLoop receives from the queue's buffer and launches one process
// task per message. The loop acquires a permit from the queue's semaphore
// before launching each task and the task releases it when done, so the
// loop blocks while ConcurrencyLimit tasks are in flight and further
// messages wait in the buffer.
func (e *Engine) runPullLoop(qs *queueState) {
	for {
		select {
		case qm, ok := <-qs.buffer:
			if !ok {
				return
			}
			if err := qs.sem.Acquire(e.ctx, 1); err != nil {
				return
			}
			qs.wg.Add(1)
			go func(qm QueuedMessage) {
				defer qs.wg.Done()
				defer qs.sem.Release(1)
				e.process(qs, qm)
			}(qm)
		case <-e.ctx.Done():
			return
		}
	}
}

// process runs one attempt cycle for a queued message: expiration check,
// dispatch, and the branch into acknowledged/retry/abandoned.
func (e *Engine) process(qs *queueState, qm QueuedMessage) {
	if qm.Message.Headers.IsExpired(time.Now()) {
		if err := e.store.Acknowledge(e.ctx, qm.ID, model.Now()); err != nil {
			e.logger.Errorf("queue %q: auto-ack expired message %s: %v", qs.name, qm.ID, err)
		}
		return
	}

	qm.Attempts++

	qctx := &QueuedMessageContext{
		Headers:         qm.Message.Headers,
		Content:         qm.Message.Content,
		SenderPrincipal: qm.SenderPrincipal,
		Attempts:        qm.Attempts,
	}

	err := e.dispatch(qs, qctx)
	acked := qctx.Acknowledged() || qs.opts.AutoAcknowledge

	if err != nil {
		e.logger.Errorf("queue %q: listener error for %s (attempt %d): %v", qs.name, qm.ID, qm.Attempts, err)
	}

	if acked && err == nil {
		if err := e.store.Acknowledge(e.ctx, qm.ID, model.Now()); err != nil {
			e.logger.Errorf("queue %q: persist acknowledgement for %s: %v", qs.name, qm.ID, err)
		}
		return
	}

	if qm.Attempts >= qs.opts.MaxAttempts {
		if err := e.store.Abandon(e.ctx, qm.ID, model.Now(), qm.Attempts); err != nil {
			e.logger.Errorf("queue %q: persist abandonment for %s: %v", qs.name, qm.ID, err)
		}
		return
	}

	if err := e.store.RecordAttempt(e.ctx, qm.ID, qm.Attempts); err != nil {
		e.logger.Errorf("queue %q: persist attempt count for %s: %v", qs.name, qm.ID, err)
	}

	// Retry in place: this preserves the message's position relative to
	// later arrivals at ConcurrencyLimit>1 but head-of-line-blocks a
	// single-worker queue behind a perpetually failing message. The
	// in-place model is simpler to make durable (no re-enqueue race
	// against a concurrent Stop) and is the documented trade-off for
	// operators running ConcurrencyLimit=1.
	select {
	case <-time.After(qs.opts.RetryDelay):
	case <-e.ctx.Done():
		return
	}

	e.process(qs, qm)
}

func (e *Engine) dispatch(qs *queueState, qctx *QueuedMessageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %q: listener panic: %v", qs.name, r)
		}
	}()
	return qs.listener.HandleQueuedMessage(e.ctx, qctx)
}
