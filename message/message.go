// Package message defines the immutable wire message and its recognized
// headers: the data model every other relaybus component (transport,
// queue, reply hub) exchanges.
package message

import (
	"strings"
	"time"

	"github.com/relaybus/relaybus/model"
)

// ID identifies a message uniquely within a bus process's lifetime.
type ID string

// NewID returns a freshly generated message ID.
func NewID() ID {
	return ID(model.NewID())
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool { return id == "" }

// HeaderName is a recognized, case-insensitive message header key.
type HeaderName string

// Recognized header names, per the wire contract.
const (
	HeaderMessageID   HeaderName = "Message-Id"
	HeaderMessageName HeaderName = "Message-Name"
	HeaderOrigination HeaderName = "Origination"
	HeaderDestination HeaderName = "Destination"
	HeaderReplyTo     HeaderName = "Reply-To"
	HeaderRelatedTo   HeaderName = "Related-To"
	HeaderPublished   HeaderName = "Published"
	HeaderTopic       HeaderName = "Topic"
	HeaderImportance  HeaderName = "Importance"
	HeaderExpires     HeaderName = "Expires"
	HeaderContentType HeaderName = "Content-Type"
)

// Importance is an enumerated severity tag influencing whether a
// receiving bus must queue an inbound message before dispatch.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceNormal
	ImportanceHigh
	ImportanceCritical
)

// RequiresQueueing reports whether this importance level forces the
// inbound path to enqueue rather than dispatch in-line.
func (i Importance) RequiresQueueing() bool {
	return i >= ImportanceHigh
}

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "Low"
	case ImportanceNormal:
		return "Normal"
	case ImportanceHigh:
		return "High"
	case ImportanceCritical:
		return "Critical"
	default:
		return "Normal"
	}
}

func ParseImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ImportanceLow
	case "high":
		return ImportanceHigh
	case "critical":
		return ImportanceCritical
	default:
		return ImportanceNormal
	}
}

// DefaultContentType is used whenever a message does not specify one.
const DefaultContentType = "application/json"

const timeLayout = time.RFC3339Nano

// Headers is a case-insensitive, single-valued header map with typed
// accessors for the recognized fields.
type Headers map[string]string

// NewHeaders returns an empty, ready-to-use Headers map.
func NewHeaders() Headers {
	return make(Headers)
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns the raw string value for a header name, case-insensitively.
func (h Headers) Get(name string) string {
	return h[canonical(name)]
}

// Set stores a header value, case-insensitively.
func (h Headers) Set(name, value string) {
	h[canonical(name)] = value
}

// Del removes a header, case-insensitively.
func (h Headers) Del(name string) {
	delete(h, canonical(name))
}

// Clone returns a deep copy of the header map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (h Headers) MessageID() ID            { return ID(h.Get(string(HeaderMessageID))) }
func (h Headers) SetMessageID(id ID)       { h.Set(string(HeaderMessageID), id.String()) }
func (h Headers) MessageName() string      { return h.Get(string(HeaderMessageName)) }
func (h Headers) SetMessageName(n string)  { h.Set(string(HeaderMessageName), n) }
func (h Headers) Origination() string      { return h.Get(string(HeaderOrigination)) }
func (h Headers) SetOrigination(uri string) { h.Set(string(HeaderOrigination), uri) }
func (h Headers) Destination() string      { return h.Get(string(HeaderDestination)) }
func (h Headers) SetDestination(uri string) { h.Set(string(HeaderDestination), uri) }
func (h Headers) ReplyTo() string          { return h.Get(string(HeaderReplyTo)) }
func (h Headers) SetReplyTo(uri string)    { h.Set(string(HeaderReplyTo), uri) }
func (h Headers) RelatedTo() ID            { return ID(h.Get(string(HeaderRelatedTo))) }
func (h Headers) SetRelatedTo(id ID)       { h.Set(string(HeaderRelatedTo), id.String()) }
func (h Headers) Topic() string            { return h.Get(string(HeaderTopic)) }
func (h Headers) SetTopic(topic string)    { h.Set(string(HeaderTopic), topic) }
func (h Headers) ContentType() string {
	if ct := h.Get(string(HeaderContentType)); ct != "" {
		return ct
	}
	return DefaultContentType
}
func (h Headers) SetContentType(ct string) { h.Set(string(HeaderContentType), ct) }

func (h Headers) Importance() Importance {
	return ParseImportance(h.Get(string(HeaderImportance)))
}
func (h Headers) SetImportance(i Importance) {
	h.Set(string(HeaderImportance), i.String())
}

func (h Headers) Published() (time.Time, bool) {
	return parseTime(h.Get(string(HeaderPublished)))
}
func (h Headers) SetPublished(t time.Time) {
	h.Set(string(HeaderPublished), t.UTC().Format(timeLayout))
}

func (h Headers) Expires() (time.Time, bool) {
	return parseTime(h.Get(string(HeaderExpires)))
}
func (h Headers) SetExpires(t time.Time) {
	h.Set(string(HeaderExpires), t.UTC().Format(timeLayout))
}

// IsExpired reports whether the message's Expires header has a value and
// is in the past relative to now.
func (h Headers) IsExpired(now time.Time) bool {
	exp, ok := h.Expires()
	return ok && exp.Before(now)
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Message is an immutable (Headers, Content) pair.
type Message struct {
	Headers Headers
	Content []byte
}

// New builds a message, assigning a fresh MessageId when headers has none.
func New(headers Headers, content []byte) Message {
	if headers == nil {
		headers = NewHeaders()
	}
	if headers.MessageID().IsZero() {
		headers.SetMessageID(NewID())
	}
	return Message{Headers: headers, Content: content}
}
