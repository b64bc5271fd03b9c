package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/queue/storemem"
)

func newMessage() message.Message {
	return message.New(message.NewHeaders(), []byte("payload"))
}

func TestEngine_EnqueueMessage_NotFound(t *testing.T) {
	e := queue.New(storemem.New(), nil)
	err := e.EnqueueMessage(context.Background(), "missing", newMessage(), "")
	require.Error(t, err)
}

func TestEngine_CreateQueue_Duplicate(t *testing.T) {
	e := queue.New(storemem.New(), nil)
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		qctx.Acknowledge()
		return nil
	})
	require.NoError(t, e.CreateQueue("q", listener, queue.Options{}))
	err := e.CreateQueue("q", listener, queue.Options{})
	require.Error(t, err)
}

func TestEngine_DispatchAndAcknowledge(t *testing.T) {
	store := storemem.New()
	e := queue.New(store, nil)

	var delivered int32
	done := make(chan struct{})
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		atomic.AddInt32(&delivered, 1)
		qctx.Acknowledge()
		close(done)
		return nil
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{ConcurrencyLimit: 1}))
	require.NoError(t, e.EnqueueMessage(context.Background(), "q", newMessage(), "alice"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not dispatched")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap) == 1 && snap[0].AcknowledgedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_RetryThenAbandon(t *testing.T) {
	store := storemem.New()
	e := queue.New(store, nil)

	var attempts int32
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		atomic.AddInt32(&attempts, 1)
		return assert.AnError
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{
		ConcurrencyLimit: 1,
		MaxAttempts:      3,
		RetryDelay:       time.Millisecond,
	}))
	require.NoError(t, e.EnqueueMessage(context.Background(), "q", newMessage(), ""))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap) == 1 && snap[0].AbandonedAt != nil
	}, time.Second, 10*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, 3, snap[0].Attempts)
	assert.Nil(t, snap[0].AcknowledgedAt)
}

func TestEngine_AutoAcknowledge(t *testing.T) {
	store := storemem.New()
	e := queue.New(store, nil)

	done := make(chan struct{})
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		close(done)
		return nil
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{AutoAcknowledge: true}))
	require.NoError(t, e.EnqueueMessage(context.Background(), "q", newMessage(), ""))

	<-done

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap) == 1 && snap[0].AcknowledgedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_ExpiredMessageSkipped(t *testing.T) {
	store := storemem.New()
	e := queue.New(store, nil)

	var invoked int32
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		atomic.AddInt32(&invoked, 1)
		qctx.Acknowledge()
		return nil
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{}))

	headers := message.NewHeaders()
	headers.SetExpires(time.Now().Add(-time.Hour))
	msg := message.New(headers, []byte("stale"))

	require.NoError(t, e.EnqueueMessage(context.Background(), "q", msg, ""))

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return len(snap) == 1 && snap[0].AcknowledgedAt != nil
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))
}

func TestEngine_ConcurrencyLimitBounded(t *testing.T) {
	store := storemem.New()
	e := queue.New(store, nil)

	var inFlight, maxObserved int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)

	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		cur := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if cur > maxObserved {
			maxObserved = cur
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		qctx.Acknowledge()
		wg.Done()
		return nil
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{ConcurrencyLimit: 2, BufferSize: n}))
	for i := 0; i < n; i++ {
		msg := message.New(message.NewHeaders(), []byte("x"))
		require.NoError(t, e.EnqueueMessage(context.Background(), "q", msg, ""))
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxObserved, int32(2))
}

func TestEngine_CrashRecoveryReplay(t *testing.T) {
	store := storemem.New()

	msg := message.New(message.NewHeaders(), []byte("pending"))
	require.NoError(t, store.Insert(context.Background(), queue.QueuedMessage{
		ID:      msg.Headers.MessageID().String(),
		Queue:   "q",
		Message: msg,
	}))

	e := queue.New(store, nil)
	done := make(chan struct{})
	listener := queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		qctx.Acknowledge()
		close(done)
		return nil
	})

	require.NoError(t, e.CreateQueue("q", listener, queue.Options{}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replayed message was not dispatched")
	}
}
