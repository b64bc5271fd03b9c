// Package codec maps payload types to stable wire names and serializes
// message content by media type.
package codec

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/relaybus/relaybus/buserr"
)

// NameRegistry maps a payload type to a stable MessageName and back,
// for a single process's lifetime. It is safe for concurrent use.
type NameRegistry struct {
	byType sync.Map // reflect.Type -> string
	byName sync.Map // string -> reflect.Type
}

// NewNameRegistry returns an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{}
}

// Register associates name with the type of the given zero-value
// sample. Subsequent calls to NameForType/TypeForName resolve using
// this association.
func (r *NameRegistry) Register(name string, sample interface{}) {
	t := reflect.TypeOf(sample)
	r.byType.Store(t, name)
	r.byName.Store(name, t)
}

// NameForType returns the registered name for value's type.
func (r *NameRegistry) NameForType(value interface{}) (string, error) {
	t := reflect.TypeOf(value)
	if name, ok := r.byType.Load(t); ok {
		return name.(string), nil
	}
	return "", fmt.Errorf("codec: %w: no name registered for type %v", buserr.ErrUnknownMessage, t)
}

// TypeForName returns the registered reflect.Type for a message name.
func (r *NameRegistry) TypeForName(name string) (reflect.Type, error) {
	if t, ok := r.byName.Load(name); ok {
		return t.(reflect.Type), nil
	}
	return nil, fmt.Errorf("codec: %w: %q", buserr.ErrUnknownMessage, name)
}

// Serializer converts values to and from a wire representation for one
// content type.
type Serializer interface {
	Serialize(value interface{}) ([]byte, error)
	Deserialize(payload []byte, out interface{}) error
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(value interface{}) ([]byte, error) { return json.Marshal(value) }
func (jsonSerializer) Deserialize(payload []byte, out interface{}) error {
	return json.Unmarshal(payload, out)
}

type xmlSerializer struct{}

func (xmlSerializer) Serialize(value interface{}) ([]byte, error) { return xml.Marshal(value) }
func (xmlSerializer) Deserialize(payload []byte, out interface{}) error {
	return xml.Unmarshal(payload, out)
}

// octetStreamSerializer passes raw []byte payloads through unchanged;
// it is the fallback for opaque binary content.
type octetStreamSerializer struct{}

func (octetStreamSerializer) Serialize(value interface{}) ([]byte, error) {
	if b, ok := value.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("codec: application/octet-stream requires []byte, got %T", value)
}

func (octetStreamSerializer) Deserialize(payload []byte, out interface{}) error {
	ptr, ok := out.(*[]byte)
	if !ok {
		return fmt.Errorf("codec: application/octet-stream requires *[]byte, got %T", out)
	}
	*ptr = append((*ptr)[:0], payload...)
	return nil
}

// SerializerRegistry resolves a Serializer by content type,
// case-insensitively, defaulting to application/json.
type SerializerRegistry struct {
	mu          sync.RWMutex
	serializers map[string]Serializer
}

// DefaultContentType is used when a caller does not ask for a specific
// media type.
const DefaultContentType = "application/json"

// NewSerializerRegistry returns a registry pre-populated with the
// standard JSON, XML, and octet-stream serializers.
func NewSerializerRegistry() *SerializerRegistry {
	r := &SerializerRegistry{serializers: make(map[string]Serializer)}
	r.Register("application/json", jsonSerializer{})
	r.Register("application/xml", xmlSerializer{})
	r.Register("application/octet-stream", octetStreamSerializer{})
	return r
}

// Register adds or replaces the serializer for a content type.
func (r *SerializerRegistry) Register(contentType string, s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[canonicalContentType(contentType)] = s
}

// GetSerializer resolves the serializer registered for contentType. An
// empty contentType resolves to DefaultContentType.
func (r *SerializerRegistry) GetSerializer(contentType string) (Serializer, error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serializers[canonicalContentType(contentType)]
	if !ok {
		return nil, fmt.Errorf("codec: no serializer registered for content type %q", contentType)
	}
	return s, nil
}

func canonicalContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
