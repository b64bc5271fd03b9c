package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybus/relaybus/buserr"
	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/pubsub"
)

// Publish fans a message out to every subscriber currently known to the
// Subscription Tracker for topic. Fails with ErrTopicNotFound if topic
// was not declared at configuration time. The publish record is
// journaled best-effort (errors are logged, never surfaced); fan-out to
// each subscriber always uses non-durable transport — subscribers are
// advisory, durability covers only the journaled publish itself.
func (b *Bus) Publish(ctx context.Context, content interface{}, topic string) error {
	if b.isDisposed() {
		return buserr.ErrDisposed
	}
	if !b.topics[topic] {
		return fmt.Errorf("bus: %w: %q", buserr.ErrTopicNotFound, topic)
	}

	ctx, span := b.tracer.Start(ctx, "bus.Publish", map[string]any{"topic": topic})
	var err error
	defer func() { span.End(err) }()

	msg, err := b.buildMessage(content, SendOptions{ContentType: "application/json"})
	if err != nil {
		return err
	}
	msg.Headers.SetTopic(topic)
	msg.Headers.SetPublished(time.Now())

	b.journalPublish(ctx, topic, msg)

	subscribers, err := b.tracker.GetSubscribers(ctx, topic)
	if err != nil {
		return fmt.Errorf("bus: resolve subscribers for %q: %w", topic, err)
	}

	delivered := 0
	for _, uri := range subscribers {
		ep, ok := b.endpoints.ByAddress(uri)
		if !ok {
			ep = endpoint.Endpoint{Address: uri}
		}

		headers := msg.Headers.Clone()
		headers.SetDestination(uri)
		copyMsg := message.Message{Headers: headers, Content: msg.Content}

		if sendErr := b.transport.SendMessage(ctx, ep, copyMsg); sendErr != nil {
			b.logger.Errorf("bus: publish to subscriber %s failed: %v", uri, sendErr)
			continue
		}
		delivered++
	}

	b.metrics.Counter(ctx, "relaybus.publish.delivered", float64(delivered), map[string]string{"topic": topic})

	return nil
}

// journalPublish best-effort-records the published envelope before
// fan-out. Errors are swallowed with a warning: a journal sink outage
// must never block message delivery.
func (b *Bus) journalPublish(ctx context.Context, topic string, msg message.Message) {
	if b.journal == nil {
		return
	}

	env := pubsub.NewEnvelope(topic, msg.Content)
	env.Metadata["messageId"] = msg.Headers.MessageID().String()
	env.Metadata["messageName"] = msg.Headers.MessageName()

	if err := b.journal.Publish(ctx, topic, env); err != nil {
		b.logger.Errorf("bus: journal publish for topic %q failed (best-effort): %v", topic, err)
	}
}
