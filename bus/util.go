package bus

import "reflect"

// newZeroPointer allocates a new *T for a registered payload type T,
// the pointer-to-value shape every codec.Serializer expects as a
// Deserialize target.
func newZeroPointer(t reflect.Type) interface{} {
	return reflect.New(t).Interface()
}

// derefIfPointer unwraps a pointer produced by newZeroPointer back to
// the plain value callers registered, so ObserveReplies yields the same
// shape the handler was asked to reply with.
func derefIfPointer(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		return rv.Elem().Interface()
	}
	return v
}
