package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies the variant held by a Value
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindDictionary
	KindStringArray
	KindRaw
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindDictionary:
		return "dictionary"
	case KindStringArray:
		return "string[]"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Value is a typed metadata value. The set of implementations is closed:
// String, Float, *Dictionary, StringArray and Raw.
type Value interface {
	Kind() Kind
	// Native returns the value as plain Go data (string, float64,
	// map[string]any or []any).
	Native() any
	isValue()
}

// String is a string scalar
type String string

// Float is a numeric scalar, stored at the widest float precision
type Float float64

// StringArray is an ordered list of strings
type StringArray []string

// Raw holds the untouched text of a block that could not be parsed
type Raw string

func (String) Kind() Kind { return KindString }
func (Float) Kind() Kind { return KindFloat }
func (StringArray) Kind() Kind { return KindStringArray }
func (Raw) Kind() Kind { return KindRaw }

func (s String) Native() any { return string(s) }
func (f Float) Native() any { return float64(f) }
func (r Raw) Native() any { return string(r) }

func (a StringArray) Native() any {
	out := make([]any, len(a))
	for i, s := range a {
		out[i] = s
	}
	return out
}

func (String) isValue() {}
func (Float) isValue() {}
func (StringArray) isValue() {}
func (Raw) isValue() {}

// MarshalJSON keeps empty arrays as [] rather than null
func (a StringArray) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// Dictionary is an ordered mapping of keys to values. Keys keep the order
// in which they were first declared.
type Dictionary struct {
	keys   []string
	values map[string]Value
}

// NewDictionary creates an empty dictionary
func NewDictionary() *Dictionary {
	return &Dictionary{
		keys:   make([]string, 0),
		values: make(map[string]Value),
	}
}

func (*Dictionary) Kind() Kind { return KindDictionary }
func (*Dictionary) isValue() {}

// Set stores a value. Re-setting a key replaces its value in place.
func (d *Dictionary) Set(key string, value Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key
func (d *Dictionary) Get(key string) (Value, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in declaration order
func (d *Dictionary) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Len returns the number of entries
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Native converts the dictionary to a map of plain Go values
func (d *Dictionary) Native() any {
	out := make(map[string]any, d.Len())
	if d == nil {
		return out
	}
	for _, k := range d.keys {
		out[k] = d.values[k].Native()
	}
	return out
}

// MarshalJSON writes the dictionary as a JSON object in declaration order
func (d *Dictionary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d != nil {
		for i, k := range d.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')

			val, err := json.Marshal(d.values[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
