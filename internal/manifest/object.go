package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when a JSON value expected to be an object is not one
var ErrNotObject = errors.New("JSON value is not an object")

// Object is a JSON object that remembers the order of its keys and keeps
// every value as the raw bytes it was read from. Only values replaced through
// Set are re-encoded.
type Object struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]json.RawMessage)}
}

// ParseObject decodes data into an ordered object.
func ParseObject(data []byte) (*Object, error) {
	obj := NewObject()
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	o.keys = o.keys[:0]
	o.values = make(map[string]json.RawMessage)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in object key", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding %q: %w", key, err)
		}

		if _, dup := o.values[key]; !dup {
			o.keys = append(o.keys, key)
		}
		o.values[key] = raw
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are written in their original order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := encodeValue(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(o.values[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Keys returns the object's keys in order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Raw returns the raw JSON of a value.
func (o *Object) Raw(key string) (json.RawMessage, bool) {
	raw, ok := o.values[key]
	return raw, ok
}

// String returns the value of key if it is a JSON string.
func (o *Object) String(key string) (string, bool) {
	raw, ok := o.values[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Object returns the value of key decoded as an ordered object.
func (o *Object) Object(key string) (*Object, bool) {
	raw, ok := o.values[key]
	if !ok {
		return nil, false
	}
	child, err := ParseObject(raw)
	if err != nil {
		return nil, false
	}
	return child, true
}

// Set replaces the value of key, appending the key when it is new.
func (o *Object) Set(key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = raw
	return nil
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := &Object{
		keys:   make([]string, len(o.keys)),
		values: make(map[string]json.RawMessage, len(o.values)),
	}
	copy(c.keys, o.keys)
	for k, v := range o.values {
		c.values[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// encodeValue marshals v without HTML escaping, so URLs containing '&' stay readable.
func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
