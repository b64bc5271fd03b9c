package bus

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/message"
)

// Send builds a message from content, resolves its destinations from
// the configured SendRules, registers its SentMessage before any
// network I/O, and transports one copy per resolved endpoint in
// parallel. Fails with ErrNoEndpoints if no rule matches content's
// registered message name.
func (b *Bus) Send(ctx context.Context, content interface{}, opts ...SendOption) (*SentMessage, error) {
	o := resolveSendOptions(opts)

	msg, err := b.buildMessage(content, o)
	if err != nil {
		return nil, err
	}

	names := b.rules.ResolveSendEndpoints(msg.Headers.MessageName())
	var targets []endpoint.Endpoint
	for _, n := range names {
		if ep, ok := b.endpoints.ByName(n); ok {
			targets = append(targets, ep)
		}
	}

	return b.sendInternal(ctx, msg, targets, o)
}

// SendToEndpoint sends directly to a named, pre-configured endpoint,
// bypassing SendRule resolution.
func (b *Bus) SendToEndpoint(ctx context.Context, content interface{}, name endpoint.Name, opts ...SendOption) (*SentMessage, error) {
	o := resolveSendOptions(opts)

	msg, err := b.buildMessage(content, o)
	if err != nil {
		return nil, err
	}

	ep, ok := b.endpoints.ByName(name)
	if !ok {
		return nil, fmt.Errorf("bus: %w: %q", buserr.ErrEndpointNotFound, name)
	}

	return b.sendInternal(ctx, msg, []endpoint.Endpoint{ep}, o)
}

// SendToURI sends to an ad-hoc, unconfigured endpoint URI with
// caller-supplied credentials.
func (b *Bus) SendToURI(ctx context.Context, content interface{}, uri string, creds endpoint.Credentials, opts ...SendOption) (*SentMessage, error) {
	o := resolveSendOptions(opts)

	msg, err := b.buildMessage(content, o)
	if err != nil {
		return nil, err
	}

	ep := endpoint.Endpoint{Address: uri, Credentials: creds}

	return b.sendInternal(ctx, msg, []endpoint.Endpoint{ep}, o)
}

func (b *Bus) buildMessage(content interface{}, opts SendOptions) (message.Message, error) {
	name, err := b.names.NameForType(content)
	if err != nil {
		return message.Message{}, err
	}

	serializer, err := b.serializers.GetSerializer(opts.ContentType)
	if err != nil {
		return message.Message{}, err
	}

	payload, err := serializer.Serialize(content)
	if err != nil {
		return message.Message{}, fmt.Errorf("bus: serialize %s: %w", name, err)
	}

	headers := message.NewHeaders()
	headers.SetMessageID(message.NewID())
	headers.SetMessageName(name)
	headers.SetOrigination(b.selfURI)
	headers.SetContentType(opts.ContentType)
	headers.SetImportance(message.Importance(opts.Importance))
	if opts.TTL > 0 {
		headers.SetExpires(time.Now().Add(opts.TTL))
	}

	return message.Message{Headers: headers, Content: payload}, nil
}

// sendInternal registers the SentMessage's reply stream, then transports
// one header-cloned copy per target (durable or direct) in parallel,
// awaiting all before returning.
func (b *Bus) sendInternal(ctx context.Context, msg message.Message, targets []endpoint.Endpoint, opts SendOptions) (*SentMessage, error) {
	if b.isDisposed() {
		return nil, buserr.ErrDisposed
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("bus: %w", buserr.ErrNoEndpoints)
	}

	spanCtx, span := b.tracer.Start(ctx, "bus.Send", map[string]any{
		"messageName": msg.Headers.MessageName(),
		"targets":     len(targets),
	})
	var err error
	defer func() { span.End(err) }()

	id := msg.Headers.MessageID()
	stream := b.replyHub.CreateSentMessage(id)
	sent := &SentMessage{MessageID: id, stream: stream}

	g, gctx := errgroup.WithContext(spanCtx)
	for _, ep := range targets {
		ep := ep
		g.Go(func() error {
			headers := msg.Headers.Clone()
			headers.SetDestination(ep.Address)
			copyMsg := message.Message{Headers: headers, Content: msg.Content}

			if opts.UseDurableTransport {
				return b.queueEngine.EnqueueMessage(gctx, OutboundQueueName, copyMsg, "")
			}
			return b.transport.SendMessage(gctx, ep, copyMsg)
		})
	}

	if err = g.Wait(); err != nil {
		b.metrics.Counter(ctx, "relaybus.send.errors", 1, map[string]string{"messageName": msg.Headers.MessageName()})
		return nil, err
	}

	b.metrics.Counter(ctx, "relaybus.send.total", float64(len(targets)), map[string]string{"messageName": msg.Headers.MessageName()})

	return sent, nil
}
