// Package bus implements the Bus Core (C6): the public surface that
// composes transport, queue engine, subscription tracker, reply hub, and
// naming/serialization into Send, Publish, Subscribe, and handler
// dispatch.
package bus

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relaybus/app"
	"github.com/relaybus/relaybus/codec"
	"github.com/relaybus/relaybus/credential"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/preflight"
	"github.com/relaybus/relaybus/pubsub"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/replyhub"
	"github.com/relaybus/relaybus/rule"
	"github.com/relaybus/relaybus/subscription"
	"github.com/relaybus/relaybus/telemetry"
	"github.com/relaybus/relaybus/transport"
)

// OutboundQueueName is the durable queue every durable Send enqueues
// onto before the outbound transport leg actually runs.
const OutboundQueueName queue.Name = "relaybus.outbound"

// Bus is one configured node: it owns the endpoint table, topic list,
// routing rules, and the runtime components (transport, queue engine,
// subscription tracker, reply hub) wired together.
//
// The endpoint table, topic list, and rule table are assembled by the
// options passed to New and are treated as immutable once New returns:
// they are read concurrently from many goroutines without a lock.
type Bus struct {
	selfURI     string
	transport   transport.Transport
	server      *transport.Server
	identity    *credential.HostIdentity
	basicStore  credential.BasicStore
	endpoints   *endpoint.Table
	rules       *rule.Table
	topics      map[string]bool
	tracker     *subscription.Tracker
	queueEngine *queue.Engine
	replyHub    *replyhub.Hub
	names       *codec.NameRegistry
	serializers *codec.SerializerRegistry
	journal     pubsub.Publisher
	preflight   *preflight.Checker
	logger      log.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer
	router      chi.Router

	replyTimeout      time.Duration
	outboundQueueOpts queue.Options
	queueOptsByName   map[queue.Name]queue.Options
	subscriptions     []OutboundSubscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stops  []func(context.Context) error

	mu       sync.Mutex
	disposed bool
}

// New builds a Bus from its required collaborators and applies opts.
// Queues for every distinct HandlingRule queue name, plus the internal
// durable outbound queue, are created before New returns, matching the
// "assembled during configuration, immutable after Init" contract.
func New(
	selfURI string,
	tr transport.Transport,
	endpoints *endpoint.Table,
	rules *rule.Table,
	topics []string,
	queueStore queue.Store,
	subscriptionStore subscription.Store,
	opts ...Option,
) (*Bus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		selfURI:           selfURI,
		transport:         tr,
		endpoints:         endpoints,
		rules:             rules,
		topics:            make(map[string]bool, len(topics)),
		names:             codec.NewNameRegistry(),
		serializers:       codec.NewSerializerRegistry(),
		logger:            log.NewNoopLogger(),
		metrics:           telemetry.NoopMetrics{},
		tracer:            telemetry.NoopTracer{},
		replyTimeout:      replyhub.DefaultIdleTTL,
		outboundQueueOpts: queue.Options{ConcurrencyLimit: 4, MaxAttempts: 10, RetryDelay: 5 * time.Second},
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, t := range topics {
		b.topics[t] = true
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.tracker == nil {
		b.tracker = subscription.New(subscriptionStore, b.logger)
	}

	b.queueEngine = queue.New(queueStore, b.logger)
	b.replyHub = replyhub.New(replyhub.WithIdleTTL(b.replyTimeout))

	if err := b.queueEngine.CreateQueue(OutboundQueueName, b.outboundListener(), b.outboundQueueOpts); err != nil {
		cancel()
		return nil, fmt.Errorf("bus: create outbound queue: %w", err)
	}

	for _, qname := range b.distinctHandlingQueues() {
		opts := b.queueOptsByName[qname]
		if err := b.queueEngine.CreateQueue(qname, &inboundListener{bus: b, queueName: qname}, opts); err != nil {
			cancel()
			return nil, fmt.Errorf("bus: create handling queue %q: %w", qname, err)
		}
	}

	if b.server != nil {
		b.server.OnMessage(transport.MessageObserverFunc(b.AcceptMessage))
		b.server.OnSubscriptionRequest(transport.SubscriptionObserverFunc(b.AcceptSubscriptionRequest))

		if b.identity != nil || b.basicStore != nil {
			var peerKeys []ed25519.PublicKey
			if b.identity != nil {
				peerKeys = append(peerKeys, b.identity.PublicKey())
			}
			b.server.SetIdentifier(credential.NewIdentifier(b.basicStore, peerKeys...))
		}
	}

	return b, nil
}

func (b *Bus) distinctHandlingQueues() []queue.Name {
	seen := make(map[queue.Name]bool)
	var out []queue.Name
	for _, name := range b.rules.AllQueueNames() {
		qn := queue.Name(name)
		if !seen[qn] {
			seen[qn] = true
			out = append(out, qn)
		}
	}
	return out
}

func (b *Bus) rootCtx() context.Context { return b.ctx }

// RegisterName associates a stable wire name with a payload type, so
// Send can derive MessageName from the content's Go type and replies
// decode back into it. Safe to call after New, before Start.
func (b *Bus) RegisterName(name string, sample interface{}) {
	b.names.Register(name, sample)
}

// Names exposes the bus's codec.NameRegistry for callers that need to
// register payload types directly.
func (b *Bus) Names() *codec.NameRegistry { return b.names }

// Serializers exposes the bus's codec.SerializerRegistry so callers can
// register additional content types.
func (b *Bus) Serializers() *codec.SerializerRegistry { return b.serializers }

// Start launches the bus's background workers: the subscription
// tracker's expiry sweep, the queue engine, the inbound HTTP listener
// (if any), and one renewal worker per configured outbound subscription.
// It runs preflight checks first, if configured.
//
// Component startup and route mounting are delegated to app.Setup/
// app.Start so the ordered-start-with-rollback and
// routes-only-after-every-start-succeeds contract lives in one place
// rather than being reimplemented here. When WithRouter was not given,
// the start functions still run (in order, no rollback) so a bus used
// purely in-process (no inbound HTTP front end) behaves as before.
func (b *Bus) Start(ctx context.Context) error {
	if b.preflight != nil {
		if err := b.preflight.RunAll(ctx); err != nil {
			return err
		}
	}

	components := []interface{}{b.tracker, b.queueEngine}
	if b.server != nil {
		components = append(components, b.server)
	}
	starts, stops, registrars := app.Setup(ctx, b.router, components...)
	registrars = append(registrars, b)
	b.stops = stops

	if b.router != nil {
		if err := app.ApplyRouterOptions(b.router, app.WithMetricsMiddleware(b.metrics)); err != nil {
			return fmt.Errorf("bus: apply router options: %w", err)
		}
		if err := app.Start(ctx, b.logger, starts, stops, registrars, b.router); err != nil {
			return fmt.Errorf("bus: start components: %w", err)
		}
	} else {
		for _, start := range starts {
			if err := start(ctx); err != nil {
				return fmt.Errorf("bus: start components: %w", err)
			}
		}
	}

	for _, sub := range b.subscriptions {
		b.wg.Add(1)
		go func(sub OutboundSubscription) {
			defer b.wg.Done()
			b.maintainSubscription(sub)
		}(sub)
	}

	return nil
}

// Stop cancels the bus-wide signal, waits for subscription workers to
// exit, and tears down the queue engine, tracker, and reply hub. Stop
// functions collected at Start run in reverse order via app.Shutdown,
// matching the rollback discipline Start uses on its own failure path.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	b.mu.Unlock()

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	app.Shutdown(nil, b.logger, b.stops)
	b.replyHub.Close()

	return nil
}

// Dispose is an alias for Stop, for callers that prefer the IDisposable
// naming convention.
func (b *Bus) Dispose(ctx context.Context) error { return b.Stop(ctx) }

func (b *Bus) isDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// outboundListener returns the Listener backing the internal durable
// outbound queue: it resolves credentials by the message's Destination
// address and transports the message, leaving it unacknowledged (and
// thus subject to retry) on any transport failure.
func (b *Bus) outboundListener() queue.Listener {
	return queue.ListenerFunc(func(ctx context.Context, qctx *queue.QueuedMessageContext) error {
		dest := qctx.Headers.Destination()
		ep, ok := b.endpoints.ByAddress(dest)
		if !ok {
			ep = endpoint.Endpoint{Address: dest}
		}
		msg := message.Message{Headers: qctx.Headers, Content: qctx.Content}

		if err := b.transport.SendMessage(ctx, ep, msg); err != nil {
			return err
		}
		qctx.Acknowledge()
		return nil
	})
}
