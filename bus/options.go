package bus

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relaybus/codec"
	"github.com/relaybus/relaybus/credential"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/log"
	"github.com/relaybus/relaybus/preflight"
	"github.com/relaybus/relaybus/pubsub"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/subscription"
	"github.com/relaybus/relaybus/telemetry"
	"github.com/relaybus/relaybus/transport"
)

// OutboundSubscription is one configured outbound subscription
// maintained by a long-lived renewal worker: subscribe to Topic on
// PublisherEndpoint, renewing every TTL/2 until TTL elapses without
// renewal or the bus is disposed.
type OutboundSubscription struct {
	PublisherEndpoint endpoint.Name
	Topic             string
	TTL               time.Duration
}

// Option customizes a Bus at construction.
type Option func(*Bus)

// WithLogger sets the logger used by the bus and every component it owns
// that was not already given an explicit logger.
func WithLogger(logger log.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics wires a telemetry.Metrics sink for per-Send/Publish spans.
func WithMetrics(m telemetry.Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTracer wires a telemetry.Tracer for per-Send/Publish spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(b *Bus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithServer wires the inbound HTTP front end: the bus registers itself
// as the server's message and subscription-request observer. The
// server's own HTTP lifecycle remains the caller's responsibility (it is
// just another app.RouteRegistrar); the bus only consumes its events.
func WithServer(server *transport.Server) Option {
	return func(b *Bus) {
		b.server = server
	}
}

// WithRouter mounts the bus's diagnostic routes (and the inbound
// transport.Server's routes, if WithServer was also given) onto r once
// Start completes successfully. Without a router, Start still runs
// every component's Start function (in order, no route mounting, no
// rollback on failure) — a bus with no inbound HTTP front end needs no
// router at all.
func WithRouter(r chi.Router) Option {
	return func(b *Bus) {
		b.router = r
	}
}

// WithIdentity attaches this bus's HostIdentity. When a Server is also
// configured via WithServer, New uses identity's public key to verify
// inbound DefaultHostIdentity bearer tokens, on the assumption that
// every trusted peer in this deployment authenticates with the same
// shared identity; per-peer keys are not modeled.
func WithIdentity(identity *credential.HostIdentity) Option {
	return func(b *Bus) {
		b.identity = identity
	}
}

// WithBasicCredentials attaches a BasicStore the bus consults to
// verify inbound HTTP Basic credentials, when a Server is also
// configured via WithServer.
func WithBasicCredentials(store credential.BasicStore) Option {
	return func(b *Bus) {
		b.basicStore = store
	}
}

// WithJournal wires a best-effort publish journal (C8). Journal errors
// are logged and swallowed, never surfaced to the Publish caller.
func WithJournal(journal pubsub.Publisher) Option {
	return func(b *Bus) {
		b.journal = journal
	}
}

// WithPreflight runs the given checks before Start returns.
func WithPreflight(checker *preflight.Checker) Option {
	return func(b *Bus) {
		b.preflight = checker
	}
}

// WithReplyTimeout bounds how long a Send waits on this client side
// before its SentMessage's stream goes idle; it is advisory for callers
// of ObserveReplies and does not cancel in-flight transport.
func WithReplyTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.replyTimeout = d
		}
	}
}

// WithOutboundQueueOptions overrides the default options used for the
// internal durable-send queue.
func WithOutboundQueueOptions(opts queue.Options) Option {
	return func(b *Bus) {
		b.outboundQueueOpts = opts
	}
}

// WithQueueOptions overrides the options used when creating the queue
// backing a given HandlingRule queue name.
func WithQueueOptions(name queue.Name, opts queue.Options) Option {
	return func(b *Bus) {
		if b.queueOptsByName == nil {
			b.queueOptsByName = make(map[queue.Name]queue.Options)
		}
		b.queueOptsByName[name] = opts
	}
}

// WithOutboundSubscriptions configures the outbound subscriptions this
// bus maintains once Start is called.
func WithOutboundSubscriptions(subs ...OutboundSubscription) Option {
	return func(b *Bus) {
		b.subscriptions = append(b.subscriptions, subs...)
	}
}

// WithNameRegistry overrides the default, empty codec.NameRegistry.
func WithNameRegistry(r *codec.NameRegistry) Option {
	return func(b *Bus) {
		if r != nil {
			b.names = r
		}
	}
}

// WithSerializerRegistry overrides the default JSON/XML/octet-stream
// codec.SerializerRegistry.
func WithSerializerRegistry(r *codec.SerializerRegistry) Option {
	return func(b *Bus) {
		if r != nil {
			b.serializers = r
		}
	}
}

// WithSubscriptionTracker overrides the default in-memory subscription
// tracker.
func WithSubscriptionTracker(t *subscription.Tracker) Option {
	return func(b *Bus) {
		if t != nil {
			b.tracker = t
		}
	}
}

// SendOption customizes one Send call.
type SendOption func(*SendOptions)

// SendOptions collects the customizable fields of an outbound message.
type SendOptions struct {
	UseDurableTransport bool
	Importance          int
	ContentType         string
	TTL                 time.Duration
}

// WithDurableTransport routes the send through the durable outbound
// queue: Send persists the message and returns before the network I/O
// that actually delivers it happens.
func WithDurableTransport() SendOption {
	return func(o *SendOptions) { o.UseDurableTransport = true }
}

// WithImportance sets the Importance header, which influences whether
// the receiving bus must queue the message before dispatch.
func WithImportance(i int) SendOption {
	return func(o *SendOptions) { o.Importance = i }
}

// WithContentType overrides the default application/json content type.
func WithContentType(ct string) SendOption {
	return func(o *SendOptions) { o.ContentType = ct }
}

// WithTTL sets Headers.Expires to now+d.
func WithTTL(d time.Duration) SendOption {
	return func(o *SendOptions) { o.TTL = d }
}

func resolveSendOptions(opts []SendOption) SendOptions {
	o := SendOptions{ContentType: codec.DefaultContentType}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
