package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/rule"
	"github.com/relaybus/relaybus/transport"
)

// AcceptMessage implements transport.MessageObserver: it is invoked by
// the inbound transport for every accepted message. A message carrying
// RelatedTo is a reply and is routed to the Reply Hub; otherwise it is
// either enqueued (Importance.RequiresQueueing) or dispatched in-line.
func (b *Bus) AcceptMessage(ctx context.Context, msg message.Message, senderIdentity string) error {
	if b.isDisposed() {
		return buserr.ErrDisposed
	}

	if relatedTo := msg.Headers.RelatedTo(); !relatedTo.IsZero() {
		b.deliverReply(relatedTo, msg)
		return nil
	}

	name := msg.Headers.MessageName()

	if msg.Headers.Importance().RequiresQueueing() {
		for _, qname := range b.rules.QueueNames(name) {
			if err := b.queueEngine.EnqueueMessage(ctx, queue.Name(qname), msg, senderIdentity); err != nil {
				return err
			}
		}
		return nil
	}

	matches := b.rules.MatchingHandlingRules(name)
	if len(matches) == 0 {
		return nil
	}

	mc := b.newMessageContext(msg.Headers, msg.Content)

	var wg sync.WaitGroup
	errs := make([]error, len(matches))
	for i, r := range matches {
		wg.Add(1)
		go func(i int, h rule.MessageHandler) {
			defer wg.Done()
			errs[i] = invokeHandler(h, mc)
		}(i, r.Handler)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}

	return fmt.Errorf("bus: %w", buserr.ErrNotAcknowledged)
}

// deliverReply decodes an inbound reply's content using the sender's
// declared MessageName and content type, then delivers the decoded
// value to the Reply Hub. The stream is left open for subsequent
// replies; relaybus does not assume a wire-level "last reply" signal,
// relying on the hub's idle-TTL eviction to terminate streams that
// receive no further replies.
func (b *Bus) deliverReply(relatedTo message.ID, msg message.Message) {
	name := msg.Headers.MessageName()
	contentType := msg.Headers.ContentType()

	payload, err := b.decode(name, contentType, msg.Content)
	if err != nil {
		b.logger.Errorf("bus: decode reply %s for %s: %v", name, relatedTo, err)
		payload = msg.Content
	}

	b.replyHub.ReplyReceived(relatedTo, payload, contentType)
}

func (b *Bus) decode(name, contentType string, content []byte) (interface{}, error) {
	t, err := b.names.TypeForName(name)
	if err != nil {
		return nil, err
	}

	serializer, err := b.serializers.GetSerializer(contentType)
	if err != nil {
		return nil, err
	}

	out := newZeroPointer(t)
	if err := serializer.Deserialize(content, out); err != nil {
		return nil, err
	}
	return derefIfPointer(out), nil
}

// AcceptSubscriptionRequest implements transport.SubscriptionObserver:
// it is invoked by the inbound transport for every accepted
// subscribe/unsubscribe request. Fails with ErrTopicNotFound if topic
// was not declared at configuration time.
func (b *Bus) AcceptSubscriptionRequest(ctx context.Context, kind transport.SubscriptionRequestKind, topic, subscriberURI string, ttl int64, senderIdentity string) error {
	if b.isDisposed() {
		return buserr.ErrDisposed
	}
	if !b.topics[topic] {
		return fmt.Errorf("bus: %w: %q", buserr.ErrTopicNotFound, topic)
	}

	if kind == transport.SubscriptionRemove {
		return b.tracker.RemoveSubscription(ctx, topic, subscriberURI)
	}

	return b.tracker.AddSubscription(ctx, topic, subscriberURI, time.Duration(ttl)*time.Second)
}
