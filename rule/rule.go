// Package rule matches inbound and outbound messages against configured
// routing rules: SendRules select destination endpoints for outbound
// messages, HandlingRules select queues for inbound dispatch.
package rule

import (
	"regexp"
	"strings"

	"github.com/relaybus/relaybus/endpoint"
)

// MessageSpecification matches a message by its MessageName, either by
// exact (case-insensitive) equality or by regular expression.
type MessageSpecification struct {
	pattern string
	regex   *regexp.Regexp
}

// NameEquals builds a specification matching MessageName exactly,
// case-insensitively.
func NameEquals(name string) MessageSpecification {
	return MessageSpecification{pattern: strings.ToLower(name)}
}

// NameMatches builds a specification matching MessageName against a
// regular expression. An invalid expression matches nothing.
func NameMatches(expr string) MessageSpecification {
	re, err := regexp.Compile(expr)
	if err != nil {
		return MessageSpecification{}
	}
	return MessageSpecification{regex: re}
}

// Matches reports whether the given message name satisfies this
// specification.
func (s MessageSpecification) Matches(messageName string) bool {
	if s.regex != nil {
		return s.regex.MatchString(messageName)
	}
	if s.pattern == "" {
		return false
	}
	return strings.ToLower(messageName) == s.pattern
}

// SendRule maps an outbound MessageSpecification to the named endpoint
// that should receive matching messages.
type SendRule struct {
	Specification MessageSpecification
	EndpointName  endpoint.Name
}

// MessageHandler processes an inbound message delivered off a queue or
// dispatched in-line. Implementations acknowledge by returning a nil
// error; any non-nil error leaves the message unacknowledged.
type MessageHandler interface {
	HandleMessage(ctx MessageContext) error
}

// MessageHandlerFunc adapts a plain function to MessageHandler.
type MessageHandlerFunc func(ctx MessageContext) error

func (f MessageHandlerFunc) HandleMessage(ctx MessageContext) error { return f(ctx) }

// MessageContext is the minimal surface a handler needs to inspect the
// inbound message and send a correlated reply. It is defined here,
// rather than in a handler-specific package, so that rule stays the
// single place HandlingRule and MessageHandler are declared together.
type MessageContext interface {
	MessageName() string
	Content() []byte
	SendReply(content []byte, options ...ReplyOption) error
}

// ReplyOption customizes a reply sent via MessageContext.SendReply.
type ReplyOption func(*ReplyOptions)

// ReplyOptions collects the customizable fields of a reply.
type ReplyOptions struct {
	ContentType string
	MessageName string
}

// WithReplyContentType overrides the reply's Content-Type header.
func WithReplyContentType(ct string) ReplyOption {
	return func(o *ReplyOptions) { o.ContentType = ct }
}

// WithReplyMessageName sets the reply's MessageName explicitly. A
// handler's reply content is raw, already-serialized bytes, so it
// carries no Go type for name resolution; callers that want the
// originating bus to decode the reply into a specific registered type
// must name it here. Without it, the reply inherits the inbound
// message's own name.
func WithReplyMessageName(name string) ReplyOption {
	return func(o *ReplyOptions) { o.MessageName = name }
}

// HandlingRule maps an inbound MessageSpecification to the handler that
// processes it and the named queue it is dispatched through. Multiple
// rules may share a QueueName; a listener on that queue fans out to
// every handler whose specification matches the delivered message.
type HandlingRule struct {
	Specification MessageSpecification
	Handler       MessageHandler
	QueueName     string
}

// Table holds the configured send and handling rules for a bus
// instance and resolves matches against them.
type Table struct {
	sendRules     []SendRule
	handlingRules []HandlingRule
}

// NewTable builds an empty rule table.
func NewTable() *Table {
	return &Table{}
}

// AddSendRule registers an outbound routing rule.
func (t *Table) AddSendRule(r SendRule) {
	t.sendRules = append(t.sendRules, r)
}

// AddHandlingRule registers an inbound routing rule.
func (t *Table) AddHandlingRule(r HandlingRule) {
	t.handlingRules = append(t.handlingRules, r)
}

// ResolveSendEndpoints returns the distinct endpoint names of every
// SendRule whose specification matches messageName.
func (t *Table) ResolveSendEndpoints(messageName string) []endpoint.Name {
	seen := make(map[endpoint.Name]bool)
	var out []endpoint.Name
	for _, r := range t.sendRules {
		if r.Specification.Matches(messageName) && !seen[r.EndpointName] {
			seen[r.EndpointName] = true
			out = append(out, r.EndpointName)
		}
	}
	return out
}

// MatchingHandlingRules returns every HandlingRule whose specification
// matches messageName, in registration order.
func (t *Table) MatchingHandlingRules(messageName string) []HandlingRule {
	var out []HandlingRule
	for _, r := range t.handlingRules {
		if r.Specification.Matches(messageName) {
			out = append(out, r)
		}
	}
	return out
}

// AllQueueNames returns the distinct queue names referenced by every
// registered handling rule, regardless of message name, so the bus can
// create every handler queue up front during configuration.
func (t *Table) AllQueueNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.handlingRules {
		if !seen[r.QueueName] {
			seen[r.QueueName] = true
			out = append(out, r.QueueName)
		}
	}
	return out
}

// QueueNames returns the distinct queue names referenced by handling
// rules whose specification matches messageName.
func (t *Table) QueueNames(messageName string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.MatchingHandlingRules(messageName) {
		if !seen[r.QueueName] {
			seen[r.QueueName] = true
			out = append(out, r.QueueName)
		}
	}
	return out
}
