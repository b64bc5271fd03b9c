package bus

import (
	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/replyhub"
)

// SentMessage is the in-memory handle Send returns: it owns the reply
// stream keyed by the sent message's MessageId. Every call to
// ObserveReplies on the same SentMessage returns the same channel, so
// concurrent receivers split the replies between them; each reply is
// seen by exactly one receiver, not by every caller.
type SentMessage struct {
	MessageID message.ID
	stream    *replyhub.Stream
}

// ObserveReplies returns the lazy reply stream for this sent message.
// It is safe to call immediately after Send returns; the hub registers
// the stream before any outbound transport runs.
func (s *SentMessage) ObserveReplies() <-chan replyhub.Reply {
	return s.stream.C
}
