// Package flow defines the core data model shared by every proxad engine:
// the Flow (and HTTPFlow extension), the open-schema dynamic Value type
// backing user_attrs and filter persistent state, and the parsed HTTP
// request/response/URI types.
package flow

import "fmt"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindList
	KindMap
)

// Value is the open-schema dynamic value type used by user_attrs and by
// filter-host persistent state containers. Filter code (and the host) read
// and write these freely; the engine itself never interprets them.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	list  []Value
	m     map[string]Value
}

func Nil() Value                { return Value{kind: KindNil} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Int64(i int64) Value       { return Value{kind: KindInt64, i: i} }
func Float64(f float64) Value   { return Value{kind: KindFloat64, f: f} }
func String(s string) Value     { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value      { return Value{kind: KindBytes, bytes: b} }
func List(v []Value) Value      { return Value{kind: KindList, list: v} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v Value) AsFloat64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.bytes, v.kind == KindBytes }
func (v Value) AsList() ([]Value, bool)    { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

func (v Value) IsNil() bool { return v.kind == KindNil }

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "<nil>"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.bytes)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return "<invalid>"
	}
}
