// Package value implements the tagged-variant configuration tree that every
// other package in this module reads and writes: Null, Bool, Int, Float,
// String, Quoted, Map, Seq and the Missing ("???") sentinel.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package value

import "fmt"

// Kind tags the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindQuoted
	KindMap
	KindSeq
	KindMissing
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindQuoted:
		return "quoted"
	case KindMap:
		return "map"
	case KindSeq:
		return "seq"
	case KindMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Quote records which quote character, if any, wrapped a string literal so
// that re-serializing reproduces the original spelling.
type Quote byte

const (
	NoQuote     Quote = 0
	SingleQuote Quote = '\''
	DoubleQuote Quote = '"'
)

// Value is one node of the configuration tree. Exactly the fields relevant
// to Kind are meaningful; the rest are zero.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Quote Quote
	Map   *Map
	Seq   []*Value
}

// Null returns a new Null value.
func Null() *Value { return &Value{Kind: KindNull} }

// Missing returns the "???" sentinel value.
func Missing() *Value { return &Value{Kind: KindMissing} }

// Bool wraps a boolean.
func Bool(b bool) *Value { return &Value{Kind: KindBool, Bool: b} }

// Int wraps an integer.
func Int(i int64) *Value { return &Value{Kind: KindInt, Int: i} }

// Float wraps a floating point number.
func Float(f float64) *Value { return &Value{Kind: KindFloat, Float: f} }

// String wraps a bare (unquoted-origin) string.
func String(s string) *Value { return &Value{Kind: KindString, Str: s} }

// QuotedString wraps a string that was spelled with an explicit quote
// character in its source text.
func QuotedString(s string, q Quote) *Value {
	return &Value{Kind: KindQuoted, Str: s, Quote: q}
}

// NewMap wraps an empty, order-preserving map.
func NewMap() *Value { return &Value{Kind: KindMap, Map: newMap()} }

// NewSeq wraps a sequence of values.
func NewSeq(items ...*Value) *Value { return &Value{Kind: KindSeq, Seq: items} }

// IsScalar reports whether v holds a leaf (non-container, non-missing) value.
func (v *Value) IsScalar() bool {
	switch v.Kind {
	case KindBool, KindInt, KindFloat, KindString, KindQuoted, KindNull:
		return true
	default:
		return false
	}
}

// AsString renders a scalar Value the way interpolation and the CLI's --cfg
// mode need it rendered; container kinds return an error.
func (v *Value) AsString() (string, error) {
	switch v.Kind {
	case KindNull:
		return "null", nil
	case KindBool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case KindInt:
		return fmt.Sprintf("%d", v.Int), nil
	case KindFloat:
		return fmt.Sprintf("%g", v.Float), nil
	case KindString, KindQuoted:
		return v.Str, nil
	case KindMissing:
		return "", fmt.Errorf("value is missing (???)")
	default:
		return "", fmt.Errorf("cannot render %s as a string", v.Kind)
	}
}

// Clone produces a deep copy of v so callers can mutate the result without
// disturbing a shared tree.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	out := &Value{Kind: v.Kind, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, Quote: v.Quote}
	if v.Map != nil {
		out.Map = v.Map.clone()
	}
	if v.Seq != nil {
		out.Seq = make([]*Value, len(v.Seq))
		for i, item := range v.Seq {
			out.Seq[i] = item.Clone()
		}
	}
	return out
}

// Map is an insertion-order-preserving string-keyed map, the container form
// Value.Kind == KindMap carries.
type Map struct {
	keys   []string
	values map[string]*Value
}

func newMap() *Map {
	return &Map{values: make(map[string]*Value)}
}

// Get returns the value at key and whether it was present.
func (m *Map) Get(key string) (*Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set inserts or replaces the value at key, preserving first-insertion order.
func (m *Map) Set(key string, v *Value) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the map's keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

func (m *Map) clone() *Map {
	out := newMap()
	for _, k := range m.keys {
		out.Set(k, m.values[k].Clone())
	}
	return out
}
