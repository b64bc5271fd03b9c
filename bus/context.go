package bus

import (
	"fmt"

	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/rule"
)

// messageContext implements rule.MessageContext for one inbound
// message, giving handlers access to its content and a way to send a
// correlated reply back to the originator.
type messageContext struct {
	bus     *Bus
	headers message.Headers
	content []byte
}

func (b *Bus) newMessageContext(headers message.Headers, content []byte) *messageContext {
	return &messageContext{bus: b, headers: headers, content: content}
}

func (c *messageContext) MessageName() string { return c.headers.MessageName() }

func (c *messageContext) Content() []byte { return c.content }

// SendReply transports a new message back to the inbound message's
// origination, with RelatedTo set to the inbound MessageId, using the
// endpoint's credentials if the origination is a known endpoint.
func (c *messageContext) SendReply(content []byte, opts ...rule.ReplyOption) error {
	var ro rule.ReplyOptions
	for _, opt := range opts {
		opt(&ro)
	}

	dest := c.headers.ReplyTo()
	if dest == "" {
		dest = c.headers.Origination()
	}
	if dest == "" {
		return fmt.Errorf("bus: cannot reply: inbound message has no Origination or Reply-To")
	}

	ep, ok := c.bus.endpoints.ByAddress(dest)
	if !ok {
		ep = endpoint.Endpoint{Address: dest}
	}

	name := ro.MessageName
	if name == "" {
		name = c.headers.MessageName()
	}

	headers := message.NewHeaders()
	headers.SetMessageID(message.NewID())
	headers.SetMessageName(name)
	headers.SetOrigination(c.bus.selfURI)
	headers.SetDestination(dest)
	headers.SetRelatedTo(c.headers.MessageID())
	contentType := ro.ContentType
	if contentType == "" {
		contentType = c.headers.ContentType()
	}
	headers.SetContentType(contentType)

	msg := message.Message{Headers: headers, Content: content}

	return c.bus.transport.SendMessage(c.bus.rootCtx(), ep, msg)
}
