// Package replyhub implements the Reply Hub (C4): correlates inbound
// reply messages to the originating outbound message and exposes a lazy
// reply stream per sent message, evicted after an idle TTL.
package replyhub

import (
	"sync"
	"time"

	"github.com/relaybus/relaybus/message"
)

// DefaultIdleTTL is how long a SentMessage's reply stream survives
// without a new reply before the hub evicts it.
const DefaultIdleTTL = 5 * time.Minute

// defaultStreamBuffer sizes each reply stream's channel; replies beyond
// this depth block the deliverer until a consumer drains the stream.
const defaultStreamBuffer = 16

// Stream is the sequence of decoded reply payloads for one sent message,
// carried on the single channel C. It is finite: it closes when
// NotifyLastReplyReceived is called, the hub evicts it on idle TTL, or
// the hub is closed.
//
// Any number of goroutines may receive from C, but each reply is
// delivered to exactly one of them; receivers do not each get a copy of
// the sequence. A reply already received by someone is not replayed.
type Stream struct {
	C <-chan Reply

	ch     chan Reply
	closed chan struct{}
	once   sync.Once
}

// Reply is one decoded reply delivered on a Stream.
type Reply struct {
	Payload     any
	ContentType string
}

func newStream() *Stream {
	ch := make(chan Reply, defaultStreamBuffer)
	return &Stream{C: ch, ch: ch, closed: make(chan struct{})}
}

func (s *Stream) push(r Reply) {
	select {
	case s.ch <- r:
	case <-s.closed:
	}
}

func (s *Stream) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

type entry struct {
	stream     *Stream
	lastTouch  time.Time
}

// Hub is the process-wide, concurrency-safe table of
// message.ID -> *Stream. Registration must happen before the outbound
// transport is started, so ObserveReplies is safe to call immediately
// after Send returns and before any reply arrives.
type Hub struct {
	idleTTL time.Duration

	mu      sync.Mutex
	entries map[message.ID]*entry

	cancel chan struct{}
	done   chan struct{}
}

// Option customizes a Hub.
type Option func(*Hub)

// WithIdleTTL overrides DefaultIdleTTL.
func WithIdleTTL(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.idleTTL = d
		}
	}
}

// New builds a Hub and starts its background reaper goroutine.
func New(opts ...Option) *Hub {
	h := &Hub{
		idleTTL: DefaultIdleTTL,
		entries: make(map[message.ID]*entry),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.reapLoop()
	return h
}

// CreateSentMessage registers a reply stream keyed by id. Calling it
// twice for the same id replaces the earlier stream.
func (h *Hub) CreateSentMessage(id message.ID) *Stream {
	s := newStream()

	h.mu.Lock()
	h.entries[id] = &entry{stream: s, lastTouch: time.Now()}
	h.mu.Unlock()

	return s
}

// ReplyReceived delivers a decoded reply payload to the stream
// registered for relatedTo. It is a no-op if no SentMessage is
// registered for that id (e.g. it already idled out).
func (h *Hub) ReplyReceived(relatedTo message.ID, payload any, contentType string) {
	h.mu.Lock()
	e, ok := h.entries[relatedTo]
	if ok {
		e.lastTouch = time.Now()
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	e.stream.push(Reply{Payload: payload, ContentType: contentType})
}

// NotifyLastReplyReceived completes the stream for relatedTo: no more
// replies will be delivered and ranging consumers see the channel
// close. The entry is evicted immediately.
func (h *Hub) NotifyLastReplyReceived(relatedTo message.ID) {
	h.mu.Lock()
	e, ok := h.entries[relatedTo]
	delete(h.entries, relatedTo)
	h.mu.Unlock()

	if ok {
		e.stream.close()
	}
}

// Close evicts every registered stream, closing each one, and stops the
// reaper goroutine.
func (h *Hub) Close() {
	close(h.cancel)
	<-h.done

	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[message.ID]*entry)
	h.mu.Unlock()

	for _, e := range entries {
		e.stream.close()
	}
}

func (h *Hub) reapLoop() {
	defer close(h.done)

	ticker := time.NewTicker(h.idleTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.reapIdle()
		case <-h.cancel:
			return
		}
	}
}

func (h *Hub) reapIdle() {
	now := time.Now()

	h.mu.Lock()
	var expired []*Stream
	for id, e := range h.entries {
		if now.Sub(e.lastTouch) >= h.idleTTL {
			expired = append(expired, e.stream)
			delete(h.entries, id)
		}
	}
	h.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
}
