package pollrpc

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X     int     `mapstructure:"x"`
	Y     int     `mapstructure:"y"`
	Label string  `mapstructure:"label,omitempty"`
	Extra Value   `mapstructure:"extra"`
	Scale float64 `mapstructure:"-"`
}

// celsius encodes itself as a tagged object.
type celsius float64

func (c celsius) MarshalRPC() (Value, error) {
	return Object(map[string]Value{"celsius": Float(float64(c))}), nil
}

func (c *celsius) UnmarshalRPC(v Value) error {
	if !c.CheckRPCSignature(v) {
		return ErrSignatureMismatch
	}

	f, _ := v.Field("celsius")
	deg, _ := f.AsFloat()
	*c = celsius(deg)

	return nil
}

func (c *celsius) CheckRPCSignature(v Value) bool {
	f, ok := v.Field("celsius")

	return ok && f.IsNumeric()
}

func TestToValue(t *testing.T) {
	var nilPtr *int

	seven := 7

	//nolint:govet //Do not reorder struct
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, "null"},
		{"bool", true, "true"},
		{"int8", int8(-8), "-8"},
		{"uint32", uint32(math.MaxUint32), "4294967295"},
		{"float32", float32(0.5), "0.5"},
		{"string", "hi", `"hi"`},
		{"slice", []int{1, 2}, "[1,2]"},
		{"nil slice", []int(nil), "null"},
		{"array", [2]bool{true, false}, "[true,false]"},
		{"map", map[string]any{"a": 1, "b": []string{"x"}}, `{"a":1,"b":["x"]}`},
		{"pointer", &seven, "7"},
		{"nil pointer", nilPtr, "null"},
		{"value", Integer(3), "3"},
		{"marshaler", celsius(21.5), `{"celsius":21.5}`},
		{"struct", point{X: 1, Y: 2, Extra: Bool(true), Scale: 3}, `{"extra":true,"x":1,"y":2}`},
		{"struct with label", point{Label: "p"}, `{"extra":null,"label":"p","x":0,"y":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToValue(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToValue_Errors(t *testing.T) {
	_, err := ToValue(uint64(math.MaxUint64))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = ToValue(make(chan int))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ToValue(map[int]string{1: "a"})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ToValue([]any{1, func() {}})
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.True(t, strings.Contains(err.Error(), "index 1"))

	assert.Panics(t, func() { MustValue(complex(1, 2)) })
}

func TestFromValue_Numbers(t *testing.T) {
	n, err := FromValue[int](Float(3.9))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := FromValue[float64](Integer(4))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, f, 0)

	b, err := FromValue[bool](Integer(0))
	require.NoError(t, err)
	assert.False(t, b)

	_, err = FromValue[int8](Integer(300))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromValue[uint](Integer(-1))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromValue[int](Float(math.Inf(-1)))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromValue[float32](Float(1e300))
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromValue[int](String("1"))
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestFromValue_Containers(t *testing.T) {
	s, err := FromValue[[]string](Array(String("a"), String("b")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s)

	_, err = FromValue[[]string](Array(String("a"), Integer(1)))
	require.ErrorIs(t, err, ErrSignatureMismatch)

	arr, err := FromValue[[2]int](Array(Integer(1), Integer(2)))
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 2}, arr)

	_, err = FromValue[[3]int](Array(Integer(1), Integer(2)))
	require.ErrorIs(t, err, ErrSignatureMismatch)

	m, err := FromValue[map[string]float64](Object(map[string]Value{"a": Integer(1), "b": Float(0.5)}))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 0.5}, m)

	p, err := FromValue[*int](Nil())
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = FromValue[*int](Integer(5))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5, *p)

	a, err := FromValue[any](Array(Integer(1), Nil()))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil}, a)

	v, err := FromValue[Value](String("raw"))
	require.NoError(t, err)
	assert.Equal(t, String("raw"), v)
}

func TestFromValue_Structs(t *testing.T) {
	in := Object(map[string]Value{
		"x":     Integer(4),
		"y":     Float(5),
		"label": String("p"),
		"extra": Array(Integer(1)),
	})

	p, err := FromValue[point](in)
	require.NoError(t, err)
	assert.Equal(t, 4, p.X)
	assert.Equal(t, 5, p.Y)
	assert.Equal(t, "p", p.Label)
	assert.True(t, Array(Integer(1)).Equal(p.Extra))

	_, err = FromValue[point](Array())
	require.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = FromValue[point](Object(map[string]Value{"x": String("four")}))
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestFromValue_StructFieldConversion(t *testing.T) {
	type narrow struct {
		A int8
		B bool
		C uint8
		D float32
		E *int16
	}

	tests := []struct {
		name  string
		input Value
		err   string
	}{
		{"int8 overflow", MustValue(map[string]any{"A": 1000}), "number out of range"},
		{"uint8 negative", MustValue(map[string]any{"C": -1}), "number out of range"},
		{"float32 overflow", MustValue(map[string]any{"D": 1e300}), "number out of range"},
		{"pointer overflow", MustValue(map[string]any{"E": 1 << 20}), "number out of range"},
		{"bool from string", MustValue(map[string]any{"B": "yes"}), "cannot use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromValue[narrow](tt.input)
			require.ErrorIs(t, err, ErrSignatureMismatch)
			assert.ErrorContains(t, err, tt.err)
			assert.False(t, CheckSignature[narrow](tt.input))
		})
	}

	in := MustValue(map[string]any{"A": -128, "B": 1, "C": 255, "D": true, "E": 7})

	n, err := FromValue[narrow](in)
	require.NoError(t, err)
	assert.Equal(t, int8(-128), n.A)
	assert.True(t, n.B)
	assert.Equal(t, uint8(255), n.C)
	assert.InDelta(t, 1.0, n.D, 0)
	require.NotNil(t, n.E)
	assert.Equal(t, int16(7), *n.E)
	assert.True(t, CheckSignature[narrow](in))

	assert.True(t, CheckSignature[struct{ B bool }](MustValue(map[string]any{"B": 0})))
}

func TestFromValue_Unmarshaler(t *testing.T) {
	c, err := FromValue[celsius](MustValue(celsius(-4)))
	require.NoError(t, err)
	assert.InDelta(t, -4.0, float64(c), 0)

	_, err = FromValue[celsius](Integer(1))
	require.True(t, errors.Is(err, ErrSignatureMismatch))

	list, err := FromValue[[]celsius](Array(MustValue(celsius(1)), MustValue(celsius(2))))
	require.NoError(t, err)
	assert.Equal(t, []celsius{1, 2}, list)
}

func TestCheckSignature(t *testing.T) {
	assert.True(t, CheckSignature[int](Bool(true)))
	assert.True(t, CheckSignature[float32](Integer(2)))
	assert.False(t, CheckSignature[float32](Float(1e300)))
	assert.True(t, CheckSignature[float64](Float(1e300)))
	assert.False(t, CheckSignature[int](String("2")))
	assert.False(t, CheckSignature[int8](Integer(1000)))
	assert.True(t, CheckSignature[string](String("")))
	assert.True(t, CheckSignature[[]int](Array()))
	assert.False(t, CheckSignature[[]int](Object(nil)))
	assert.True(t, CheckSignature[map[string][]bool](Object(map[string]Value{"a": Array(Bool(true))})))
	assert.False(t, CheckSignature[map[string][]bool](Object(map[string]Value{"a": Array(String("x"))})))
	assert.True(t, CheckSignature[*string](Nil()))
	assert.True(t, CheckSignature[any](Nil()))
	assert.True(t, CheckSignature[Value](Nil()))
	assert.True(t, CheckSignature[celsius](MustValue(celsius(1))))
	assert.False(t, CheckSignature[celsius](Float(1)))
	assert.True(t, CheckSignature[point](Object(map[string]Value{"x": Integer(1)})))
	assert.False(t, CheckSignature[point](String("p")))
}

func TestMarshal_RoundTrip(t *testing.T) {
	in := map[string][]point{
		"a": {{X: 1, Y: 2, Extra: Nil()}},
		"b": {},
	}

	v, err := ToValue(in)
	require.NoError(t, err)

	reparsed, err := ParseValue([]byte(v.String()))
	require.NoError(t, err)

	out, err := FromValue[map[string][]point](reparsed)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
