package pollrpc

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrSignatureMismatch is returned when a [Value] does not have the shape a Go type requires.
	ErrSignatureMismatch = errors.New("pollrpc: value does not match signature")
	// ErrOutOfRange is returned when a number does not fit the target type.
	ErrOutOfRange = errors.New("pollrpc: number out of range")
	// ErrUnsupportedType is returned by [ToValue] for Go kinds without a [Value] representation.
	ErrUnsupportedType = errors.New("pollrpc: unsupported type")
)

// Marshaler is implemented by types that build their own [Value].
type Marshaler interface {
	MarshalRPC() (Value, error)
}

// Unmarshaler is implemented by types that decode themselves from a [Value].
// A type implementing Unmarshaler usually also implements [SignatureChecker].
type Unmarshaler interface {
	UnmarshalRPC(v Value) error
}

// SignatureChecker reports whether v can be decoded into the implementing type.
// It is consulted by [CheckSignature] and must not modify the receiver.
type SignatureChecker interface {
	CheckRPCSignature(v Value) bool
}

const structTag = "mapstructure"

var (
	valueType            = reflect.TypeFor[Value]()
	marshalerType        = reflect.TypeFor[Marshaler]()
	unmarshalerType      = reflect.TypeFor[Unmarshaler]()
	signatureCheckerType = reflect.TypeFor[SignatureChecker]()
)

// ToValue converts native Go data into a [Value].
//
// Supported are bools, every integer and float width, strings, slices, arrays,
// maps with string keys, pointers (nil becomes Nil), [Value] itself, types implementing
// [Marshaler] and structs. Struct fields are named by their `mapstructure` tag or
// their Go name; unexported fields and fields tagged "-" are skipped.
func ToValue(native any) (Value, error) {
	if native == nil {
		return Nil(), nil
	}

	return toValue(reflect.ValueOf(native))
}

// MustValue is like [ToValue] but panics on error.
// It is meant for literals in tests and examples.
func MustValue(native any) Value {
	v, err := ToValue(native)
	if err != nil {
		panic(err)
	}

	return v
}

func toValue(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return Nil(), nil
	}

	if rv.Type() == valueType {
		return rv.Interface().(Value), nil //nolint:errcheck,forcetypeassert //Checked above
	}

	if rv.Type().Implements(marshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Nil(), nil
		}

		return rv.Interface().(Marshaler).MarshalRPC() //nolint:errcheck,forcetypeassert //Checked above
	}

	if rv.CanAddr() && rv.Addr().Type().Implements(marshalerType) {
		return rv.Addr().Interface().(Marshaler).MarshalRPC() //nolint:errcheck,forcetypeassert //Checked above
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d does not fit an integer value", ErrOutOfRange, u)
		}

		return Integer(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Nil(), nil
		}

		return sliceToValue(rv)
	case reflect.Array:
		return sliceToValue(rv)
	case reflect.Map:
		if rv.IsNil() {
			return Nil(), nil
		}

		return mapToValue(rv)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Nil(), nil
		}

		return toValue(rv.Elem())
	case reflect.Struct:
		return structToValue(rv)
	}

	return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
}

func sliceToValue(rv reflect.Value) (Value, error) {
	elems := make([]Value, rv.Len())

	for i := range elems {
		e, err := toValue(rv.Index(i))
		if err != nil {
			return Value{}, fmt.Errorf("index %d: %w", i, err)
		}

		elems[i] = e
	}

	return Array(elems...), nil
}

func mapToValue(rv reflect.Value) (Value, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return Value{}, fmt.Errorf("%w: map key %s is not a string", ErrUnsupportedType, rv.Type().Key())
	}

	fields := make(map[string]Value, rv.Len())
	iter := rv.MapRange()

	for iter.Next() {
		e, err := toValue(iter.Value())
		if err != nil {
			return Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
		}

		fields[iter.Key().String()] = e
	}

	return Object(fields), nil
}

func structToValue(rv reflect.Value) (Value, error) {
	rt := rv.Type()
	fields := make(map[string]Value, rt.NumField())

	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(sf.Tag.Get(structTag), ",")
		if name == "-" {
			continue
		}

		if name == "" {
			name = sf.Name
		}

		fv := rv.Field(i)
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}

		e, err := toValue(fv)
		if err != nil {
			return Value{}, fmt.Errorf("field %s: %w", sf.Name, err)
		}

		fields[name] = e
	}

	return Object(fields), nil
}

// FromValue converts v into a T.
//
// Numeric targets accept Bool, Float and Integer values. Integer targets reject
// values outside their range with [ErrOutOfRange]. Any other shape mismatch yields
// [ErrSignatureMismatch]. A *T implementing [Unmarshaler] decodes itself; plain structs
// are decoded from Objects with mapstructure.
func FromValue[T any](v Value) (T, error) {
	var out T

	if err := fromValue(v, reflect.ValueOf(&out).Elem()); err != nil {
		var zero T

		return zero, err
	}

	return out, nil
}

func mismatch(v Value, t reflect.Type) error {
	return fmt.Errorf("%w: cannot use %s as %s", ErrSignatureMismatch, v.Kind(), t)
}

//nolint:gocyclo,cyclop //Type switch over every reflect kind
func fromValue(v Value, dst reflect.Value) error {
	dt := dst.Type()

	if dt == valueType {
		dst.Set(reflect.ValueOf(v))

		return nil
	}

	if reflect.PointerTo(dt).Implements(unmarshalerType) {
		return dst.Addr().Interface().(Unmarshaler).UnmarshalRPC(v) //nolint:errcheck,forcetypeassert //Checked above
	}

	switch dt.Kind() {
	case reflect.Bool:
		b, ok := v.AsBool()
		if !ok {
			return mismatch(v, dt)
		}

		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.AsInteger()
		if !ok {
			return rangeOrMismatch(v, dt)
		}

		if dst.OverflowInt(n) {
			return fmt.Errorf("%w: %d overflows %s", ErrOutOfRange, n, dt)
		}

		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := v.AsInteger()
		if !ok {
			return rangeOrMismatch(v, dt)
		}

		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("%w: %d overflows %s", ErrOutOfRange, n, dt)
		}

		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, ok := v.AsFloat()
		if !ok {
			return mismatch(v, dt)
		}

		if dst.OverflowFloat(f) {
			return fmt.Errorf("%w: %g overflows %s", ErrOutOfRange, f, dt)
		}

		dst.SetFloat(f)
	case reflect.String:
		s, ok := v.AsString()
		if !ok {
			return mismatch(v, dt)
		}

		dst.SetString(s)
	case reflect.Slice:
		if v.Kind() != KindArray {
			return mismatch(v, dt)
		}

		elems := v.Elems()
		out := reflect.MakeSlice(dt, len(elems), len(elems))

		for i, e := range elems {
			if err := fromValue(e, out.Index(i)); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}

		dst.Set(out)
	case reflect.Array:
		if v.Kind() != KindArray || v.Len() != dt.Len() {
			return mismatch(v, dt)
		}

		for i, e := range v.Elems() {
			if err := fromValue(e, dst.Index(i)); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case reflect.Map:
		if v.Kind() != KindObject || dt.Key().Kind() != reflect.String {
			return mismatch(v, dt)
		}

		out := reflect.MakeMapWithSize(dt, v.Len())

		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			elem := reflect.New(dt.Elem()).Elem()

			if err := fromValue(f, elem); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}

			out.SetMapIndex(reflect.ValueOf(k).Convert(dt.Key()), elem)
		}

		dst.Set(out)
	case reflect.Pointer:
		if v.IsNil() {
			dst.SetZero()

			return nil
		}

		elem := reflect.New(dt.Elem())
		if err := fromValue(v, elem.Elem()); err != nil {
			return err
		}

		dst.Set(elem)
	case reflect.Interface:
		if dt.NumMethod() != 0 {
			return mismatch(v, dt)
		}

		if n := v.Native(); n != nil {
			dst.Set(reflect.ValueOf(n))
		} else {
			dst.SetZero()
		}
	case reflect.Struct:
		if v.Kind() != KindObject {
			return mismatch(v, dt)
		}

		return decodeStruct(v, dst)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}

	return nil
}

// rangeOrMismatch distinguishes non-finite or huge floats from non-numeric values.
func rangeOrMismatch(v Value, t reflect.Type) error {
	if v.Kind() == KindFloat {
		return fmt.Errorf("%w: %s cannot hold %s", ErrOutOfRange, t, v)
	}

	return mismatch(v, t)
}

func decodeStruct(v Value, dst reflect.Value) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: valueDecodeHook,
		Result:     dst.Addr().Interface(),
		TagName:    structTag,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(v.Native()); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	return nil
}

// valueDecodeHook hands struct fields of type Value, of types implementing
// Unmarshaler, and of scalar kinds to fromValue, so field conversion follows the
// same widening and range rules as FromValue. Containers and nested structs are
// left to mapstructure, which calls back in for their elements.
func valueDecodeHook(_, to reflect.Type, data any) (any, error) {
	if to != valueType && !reflect.PointerTo(to).Implements(unmarshalerType) && !isScalarKind(to.Kind()) {
		return data, nil
	}

	v, err := ToValue(data)
	if err != nil {
		return nil, err
	}

	out := reflect.New(to)
	if err := fromValue(v, out.Elem()); err != nil {
		return nil, err
	}

	return out.Elem().Interface(), nil
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// CheckSignature reports whether v can be converted into a T without performing
// the conversion. Targets implementing [SignatureChecker] decide for themselves.
func CheckSignature[T any](v Value) bool {
	return checkSignature(v, reflect.TypeFor[T]())
}

//nolint:gocyclo,cyclop //Type switch over every reflect kind
func checkSignature(v Value, t reflect.Type) bool {
	if t == valueType {
		return true
	}

	if reflect.PointerTo(t).Implements(signatureCheckerType) {
		return reflect.New(t).Interface().(SignatureChecker).CheckRPCSignature(v) //nolint:errcheck,forcetypeassert //Checked above
	}

	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return fromValue(v, reflect.New(t).Elem()) == nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.Float64:
		return v.IsNumeric()
	case reflect.Float32, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		// Range checks need the value itself, so run the conversion on a scratch target.
		return fromValue(v, reflect.New(t).Elem()) == nil
	case reflect.String:
		return v.Kind() == KindString
	case reflect.Slice:
		if v.Kind() != KindArray {
			return false
		}

		for _, e := range v.Elems() {
			if !checkSignature(e, t.Elem()) {
				return false
			}
		}

		return true
	case reflect.Array:
		if v.Kind() != KindArray || v.Len() != t.Len() {
			return false
		}

		for _, e := range v.Elems() {
			if !checkSignature(e, t.Elem()) {
				return false
			}
		}

		return true
	case reflect.Map:
		if v.Kind() != KindObject || t.Key().Kind() != reflect.String {
			return false
		}

		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			if !checkSignature(f, t.Elem()) {
				return false
			}
		}

		return true
	case reflect.Pointer:
		return v.IsNil() || checkSignature(v, t.Elem())
	case reflect.Interface:
		return t.NumMethod() == 0
	case reflect.Struct:
		return v.Kind() == KindObject && decodeStruct(v, reflect.New(t).Elem()) == nil
	}

	return false
}
