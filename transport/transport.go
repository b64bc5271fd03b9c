// Package transport moves messages and subscription requests between
// bus instances over HTTP, normalizing every failure mode to the
// closed error set in buserr so upstream layers can decide retry
// policy without inspecting HTTP status codes.
package transport

import (
	"context"

	"github.com/relaybus/relaybus/endpoint"
	"github.com/relaybus/relaybus/message"
)

// SubscriptionRequestKind distinguishes adding a subscriber from
// removing one.
type SubscriptionRequestKind int

const (
	SubscriptionAdd SubscriptionRequestKind = iota
	SubscriptionRemove
)

func (k SubscriptionRequestKind) String() string {
	if k == SubscriptionRemove {
		return "Remove"
	}
	return "Add"
}

// MessageObserver is notified whenever this transport accepts an
// inbound message from a peer.
type MessageObserver interface {
	AcceptMessage(ctx context.Context, msg message.Message, senderIdentity string) error
}

// MessageObserverFunc adapts a function to MessageObserver.
type MessageObserverFunc func(ctx context.Context, msg message.Message, senderIdentity string) error

func (f MessageObserverFunc) AcceptMessage(ctx context.Context, msg message.Message, senderIdentity string) error {
	return f(ctx, msg, senderIdentity)
}

// SubscriptionObserver is notified whenever this transport accepts an
// inbound subscription request from a peer.
type SubscriptionObserver interface {
	AcceptSubscriptionRequest(ctx context.Context, kind SubscriptionRequestKind, topic, subscriberURI string, ttl int64, senderIdentity string) error
}

// SubscriptionObserverFunc adapts a function to SubscriptionObserver.
type SubscriptionObserverFunc func(ctx context.Context, kind SubscriptionRequestKind, topic, subscriberURI string, ttl int64, senderIdentity string) error

func (f SubscriptionObserverFunc) AcceptSubscriptionRequest(ctx context.Context, kind SubscriptionRequestKind, topic, subscriberURI string, ttl int64, senderIdentity string) error {
	return f(ctx, kind, topic, subscriberURI, ttl, senderIdentity)
}

// Transport is the outbound half of C1: it delivers messages and
// subscription requests to a peer endpoint, classifying every failure
// into the buserr closed set.
type Transport interface {
	SendMessage(ctx context.Context, destination endpoint.Endpoint, msg message.Message) error
	SendSubscriptionRequest(ctx context.Context, kind SubscriptionRequestKind, publisher endpoint.Endpoint, topic, subscriberURI string, ttl int64) error
}
