package pollrpc

import (
	"math"
	"slices"
	"strconv"
)

// Kind identifies which variant a [Value] holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindFloat
	KindInteger
	KindString
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindNil:     "nil",
	KindBool:    "bool",
	KindFloat:   "float",
	KindInteger: "integer",
	KindString:  "string",
	KindArray:   "array",
	KindObject:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a dynamically typed RPC value.
//
// A Value is one of a closed set of variants, see [Kind]. The zero Value is Nil.
// Arrays keep their insertion order. Objects hold unique string keys; their
// iteration order through [Value.Keys] is sorted so serialization is stable.
//
// Values are treated as immutable once built. The library never modifies a
// Value handed to it, so callers may keep and reuse argument values after a call.
type Value struct {
	kind Kind
	b    bool
	n    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Nil returns the null value.
func Nil() Value { return Value{} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Float returns a Float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Integer returns an Integer value.
func Integer(n int64) Value { return Value{kind: KindInteger, n: n} }

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an Array value holding vs in order.
// An empty call returns an empty array, never Nil.
func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}

	return Value{kind: KindArray, arr: vs}
}

// Object returns an Object value holding fields.
// A nil map yields an empty object.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}

	return Value{kind: KindObject, obj: fields}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the null value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsNumeric reports whether v is a Bool, Float or Integer.
// Numeric values convert freely between each other, see [Value.AsFloat].
func (v Value) IsNumeric() bool {
	return v.kind == KindBool || v.kind == KindFloat || v.kind == KindInteger
}

// AsBool returns v as a bool. Integers and floats are true when non-zero.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInteger:
		return v.n != 0, true
	case KindFloat:
		return v.f != 0, true
	}

	return false, false
}

// AsFloat returns v as a float64, widening Bool and Integer values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInteger:
		return float64(v.n), true
	case KindBool:
		if v.b {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// AsInteger returns v as an int64. Floats are truncated toward zero and
// rejected when they are NaN or outside the int64 range.
func (v Value) AsInteger() (int64, bool) {
	switch v.kind {
	case KindInteger:
		return v.n, true
	case KindFloat:
		t := math.Trunc(v.f)
		if math.IsNaN(t) || t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, false
		}

		return int64(t), true
	case KindBool:
		if v.b {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// AsString returns the string held by v. Only String values qualify.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}

	return v.s, true
}

// Elems returns the elements of an Array, or nil for any other kind.
// The returned slice must not be modified.
func (v Value) Elems() []Value {
	if v.kind != KindArray {
		return nil
	}

	return v.arr
}

// Len returns the number of elements of an Array or fields of an Object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}

	return 0
}

// Field returns the field stored under key in an Object.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}

	f, ok := v.obj[key]

	return f, ok
}

// Keys returns the sorted keys of an Object, or nil for any other kind.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}

	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// With returns a copy of the Object v with key set to f.
// It returns v unchanged when v is not an Object.
func (v Value) With(key string, f Value) Value {
	if v.kind != KindObject {
		return v
	}

	fields := make(map[string]Value, len(v.obj)+1)
	for k, e := range v.obj {
		fields[k] = e
	}

	fields[key] = f

	return Object(fields)
}

// Native returns v as plain Go data: nil, bool, float64, int64, string,
// []any or map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindFloat:
		return v.f
	case KindInteger:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Native()
		}

		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Native()
		}

		return out
	}

	return nil
}

// Equal reports whether v and o hold the same variant and content.
// Numbers of different kinds are not equal; Integer(1) != Float(1).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindInteger:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}

		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}

		return true
	}

	return false
}

// String returns the compact JSON text of v.
func (v Value) String() string {
	return string(v.appendJSON(nil))
}
