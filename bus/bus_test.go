package bus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/bus"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/queue/storemem"
	"github.com/relaybus/relaybus/rule"
	subscriptionmem "github.com/relaybus/relaybus/subscription/storemem"
	"github.com/relaybus/relaybus/transport"
)

// fakeTransport routes messages and subscription requests directly
// between in-process buses by address, bypassing HTTP entirely. It lets
// these tests exercise the bus contract without a transport/http round
// trip, which is already covered by transport's own tests.
type fakeTransport struct {
	mu    sync.Mutex
	nodes map[string]*bus.Bus
	down  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nodes: make(map[string]*bus.Bus), down: make(map[string]bool)}
}

func (f *fakeTransport) register(address string, b *bus.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[address] = b
}

func (f *fakeTransport) setDown(address string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[address] = down
}

func (f *fakeTransport) SendMessage(ctx context.Context, dest endpoint.Endpoint, msg message.Message) error {
	f.mu.Lock()
	target, ok := f.nodes[dest.Address]
	down := f.down[dest.Address]
	f.mu.Unlock()

	if down {
		return buserr.ErrConnectionRefused
	}
	if !ok {
		return fmt.Errorf("fakeTransport: %w: %q", buserr.ErrNameResolution, dest.Address)
	}
	return target.AcceptMessage(ctx, msg, "")
}

func (f *fakeTransport) SendSubscriptionRequest(ctx context.Context, kind transport.SubscriptionRequestKind, publisher endpoint.Endpoint, topic, subscriberURI string, ttl int64) error {
	f.mu.Lock()
	target, ok := f.nodes[publisher.Address]
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("fakeTransport: %w: %q", buserr.ErrNameResolution, publisher.Address)
	}
	return target.AcceptSubscriptionRequest(ctx, kind, topic, subscriberURI, ttl, "")
}

type pingRequest struct {
	Text string
}

type pongReply struct {
	Echo string
}

// newTestBus builds a minimally configured Bus over the shared
// fakeTransport, registering it under selfURI so peers can address it.
func newTestBus(t *testing.T, tr *fakeTransport, selfURI string, rules *rule.Table, topics []string, opts ...bus.Option) *bus.Bus {
	t.Helper()

	b, err := bus.New(selfURI, tr, endpoint.NewTable(), rules, topics, storemem.New(), subscriptionmem.New(), opts...)
	require.NoError(t, err)
	tr.register(selfURI, b)

	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(context.Background())
	})

	return b
}

func TestBus_SendAndReply(t *testing.T) {
	tr := newFakeTransport()

	serverRules := rule.NewTable()
	serverRules.AddHandlingRule(rule.HandlingRule{
		Specification: rule.NameEquals("PingRequest"),
		QueueName:     "server.inbound",
		Handler: rule.MessageHandlerFunc(func(ctx rule.MessageContext) error {
			var req pingRequest
			if err := json.Unmarshal(ctx.Content(), &req); err != nil {
				return err
			}
			reply, _ := json.Marshal(pongReply{Echo: req.Text})
			return ctx.SendReply(reply, rule.WithReplyMessageName("PongReply"))
		}),
	})
	newTestBus(t, tr, "relaybus://server", serverRules, nil)

	clientEndpoints := endpoint.NewTable()
	require.NoError(t, clientEndpoints.Add(endpoint.Endpoint{Name: "server", Address: "relaybus://server"}))
	clientRules := rule.NewTable()
	clientRules.AddSendRule(rule.SendRule{Specification: rule.NameEquals("PingRequest"), EndpointName: "server"})

	client, err := bus.New("relaybus://client", tr, clientEndpoints, clientRules, nil, storemem.New(), subscriptionmem.New())
	require.NoError(t, err)
	tr.register("relaybus://client", client)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	client.RegisterName("PingRequest", pingRequest{})
	client.RegisterName("PongReply", pongReply{})

	sent, err := client.Send(context.Background(), pingRequest{Text: "hello"})
	require.NoError(t, err)

	select {
	case reply := <-sent.ObserveReplies():
		pong, ok := reply.Payload.(pongReply)
		require.True(t, ok, "expected pongReply, got %T", reply.Payload)
		assert.Equal(t, "hello", pong.Echo)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive reply")
	}
}

func TestBus_Send_NoMatchingEndpoint(t *testing.T) {
	tr := newFakeTransport()

	rules := rule.NewTable()
	client := newTestBus(t, tr, "relaybus://lonely", rules, nil)
	client.RegisterName("Unrouted", pingRequest{})

	_, err := client.Send(context.Background(), pingRequest{Text: "x"})
	require.ErrorIs(t, err, buserr.ErrNoEndpoints)
}

func TestBus_Publish_FanOutToSubscribers(t *testing.T) {
	tr := newFakeTransport()

	type eventPayload struct {
		Value int
	}

	var mu sync.Mutex
	var received []int

	subRules := rule.NewTable()
	newTestBus(t, tr, "relaybus://subscriber", subRules, nil)

	publisherRules := rule.NewTable()
	publisher := newTestBus(t, tr, "relaybus://publisher", publisherRules, []string{"events.created"})
	publisher.RegisterName("EventPayload", eventPayload{})

	// The subscriber observes published events on its own inbound
	// handling rule, since Publish delivers them as ordinary messages
	// carrying a Topic header.
	subRules.AddHandlingRule(rule.HandlingRule{
		Specification: rule.NameEquals("EventPayload"),
		QueueName:     "subscriber.inbound",
		Handler: rule.MessageHandlerFunc(func(ctx rule.MessageContext) error {
			var evt eventPayload
			if err := json.Unmarshal(ctx.Content(), &evt); err != nil {
				return err
			}
			mu.Lock()
			received = append(received, evt.Value)
			mu.Unlock()
			return nil
		}),
	})

	require.NoError(t, publisher.AcceptSubscriptionRequest(context.Background(), transport.SubscriptionAdd, "events.created", "relaybus://subscriber", 3600, ""))

	require.NoError(t, publisher.Publish(context.Background(), eventPayload{Value: 42}, "events.created"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == 42
	}, time.Second, 10*time.Millisecond)
}

func TestBus_Publish_UnknownTopic(t *testing.T) {
	tr := newFakeTransport()
	rules := rule.NewTable()
	b := newTestBus(t, tr, "relaybus://solo", rules, []string{"known"})

	err := b.Publish(context.Background(), struct{}{}, "unknown")
	require.ErrorIs(t, err, buserr.ErrTopicNotFound)
}

func TestBus_AcceptMessage_NoHandlerAcknowledges(t *testing.T) {
	tr := newFakeTransport()
	rules := rule.NewTable()
	b := newTestBus(t, tr, "relaybus://noop", rules, nil)

	headers := message.NewHeaders()
	headers.SetMessageID(message.NewID())
	headers.SetMessageName("Nobody Handles This")
	msg := message.Message{Headers: headers, Content: []byte("{}")}

	err := b.AcceptMessage(context.Background(), msg, "")
	assert.NoError(t, err)
}

func TestBus_AcceptMessage_HandlerErrorNotAcknowledged(t *testing.T) {
	tr := newFakeTransport()
	rules := rule.NewTable()
	rules.AddHandlingRule(rule.HandlingRule{
		Specification: rule.NameEquals("Failing"),
		QueueName:     "q",
		Handler: rule.MessageHandlerFunc(func(ctx rule.MessageContext) error {
			return assert.AnError
		}),
	})
	b := newTestBus(t, tr, "relaybus://failing", rules, nil)

	headers := message.NewHeaders()
	headers.SetMessageID(message.NewID())
	headers.SetMessageName("Failing")
	msg := message.Message{Headers: headers, Content: []byte("{}")}

	err := b.AcceptMessage(context.Background(), msg, "")
	require.ErrorIs(t, err, buserr.ErrNotAcknowledged)
}

func TestBus_WithRouter_MountsDebugRoutesAfterStart(t *testing.T) {
	tr := newFakeTransport()
	router := chi.NewRouter()

	b, err := bus.New("relaybus://routed", tr, endpoint.NewTable(), rule.NewTable(), []string{"events.created"},
		storemem.New(), subscriptionmem.New(), bus.WithRouter(router))
	require.NoError(t, err)
	tr.register("relaybus://routed", b)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	resp, err := srv.Client().Get(srv.URL + "/debug/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestBus_DurableSend_SurvivesTransientDown(t *testing.T) {
	tr := newFakeTransport()

	var received int32
	serverRules := rule.NewTable()
	serverRules.AddHandlingRule(rule.HandlingRule{
		Specification: rule.NameEquals("PingRequest"),
		QueueName:     "server.inbound",
		Handler: rule.MessageHandlerFunc(func(ctx rule.MessageContext) error {
			atomic.AddInt32(&received, 1)
			return nil
		}),
	})
	newTestBus(t, tr, "relaybus://durable-server", serverRules, nil)

	clientEndpoints := endpoint.NewTable()
	require.NoError(t, clientEndpoints.Add(endpoint.Endpoint{Name: "server", Address: "relaybus://durable-server"}))
	clientRules := rule.NewTable()
	clientRules.AddSendRule(rule.SendRule{Specification: rule.NameEquals("PingRequest"), EndpointName: "server"})

	client, err := bus.New("relaybus://durable-client", tr, clientEndpoints, clientRules, nil, storemem.New(), subscriptionmem.New(),
		bus.WithOutboundQueueOptions(queue.Options{ConcurrencyLimit: 1, MaxAttempts: 5, RetryDelay: 10 * time.Millisecond, BufferSize: 8}),
	)
	require.NoError(t, err)
	tr.register("relaybus://durable-client", client)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	client.RegisterName("PingRequest", pingRequest{})

	tr.setDown("relaybus://durable-server", true)

	_, err = client.Send(context.Background(), pingRequest{Text: "queued"}, bus.WithDurableTransport())
	require.NoError(t, err)

	tr.setDown("relaybus://durable-server", false)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
