package pollrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxNestingDepth bounds recursion while decoding untrusted input.
const maxNestingDepth = 1000

var (
	ErrDecoding = errors.New("pollrpc: decoding error")
	errTooDeep  = errors.New("nesting too deep")
)

const hexDigits = "0123456789abcdef"

// MarshalJSON implements [json.Marshaler].
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

// appendJSON appends the compact JSON encoding of v to buf.
// Floats that JSON cannot represent (NaN, ±Inf) are written as null.
func (v Value) appendJSON(buf []byte) []byte {
	switch v.kind {
	case KindBool:
		return strconv.AppendBool(buf, v.b)
	case KindInteger:
		return strconv.AppendInt(buf, v.n, 10)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return append(buf, "null"...)
		}

		return appendFloat(buf, v.f)
	case KindString:
		return appendQuoted(buf, v.s)
	case KindArray:
		buf = append(buf, '[')

		for i, e := range v.arr {
			if i > 0 {
				buf = append(buf, ',')
			}

			buf = e.appendJSON(buf)
		}

		return append(buf, ']')
	case KindObject:
		buf = append(buf, '{')

		for i, k := range v.Keys() {
			if i > 0 {
				buf = append(buf, ',')
			}

			buf = appendQuoted(buf, k)
			buf = append(buf, ':')
			buf = v.obj[k].appendJSON(buf)
		}

		return append(buf, '}')
	}

	return append(buf, "null"...)
}

// appendFloat keeps a fraction or exponent in the output so the value
// decodes back as a Float rather than an Integer.
func appendFloat(buf []byte, f float64) []byte {
	start := len(buf)
	buf = strconv.AppendFloat(buf, f, 'g', -1, 64)

	if !bytes.ContainsAny(buf[start:], ".eE") {
		buf = append(buf, ".0"...)
	}

	return buf
}

func appendQuoted(buf []byte, s string) []byte {
	buf = append(buf, '"')

	for i := 0; i < len(s); {
		c := s[i]

		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				buf = append(buf, '\\', c)
			case c == '\n':
				buf = append(buf, '\\', 'n')
			case c == '\r':
				buf = append(buf, '\\', 'r')
			case c == '\t':
				buf = append(buf, '\\', 't')
			case c < 0x20:
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			default:
				buf = append(buf, c)
			}

			i++

			continue
		}

		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, `�`...)
		} else {
			buf = append(buf, s[i:i+size]...)
		}

		i += size
	}

	return append(buf, '"')
}

// ParseValue decodes exactly one JSON text into a [Value].
// Trailing data other than whitespace is an error.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after JSON value", ErrDecoding)
	}

	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		if depth >= maxNestingDepth {
			return Value{}, errTooDeep
		}

		switch t {
		case '[':
			return decodeArray(dec, depth+1)
		case '{':
			return decodeObject(dec, depth+1)
		}

		return Value{}, fmt.Errorf("unexpected delimiter %q", rune(t))
	case bool:
		return Bool(t), nil
	case json.Number:
		return parseNumber(t)
	case string:
		return String(t), nil
	case nil:
		return Nil(), nil
	}

	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func decodeArray(dec *json.Decoder, depth int) (Value, error) {
	elems := []Value{}

	for dec.More() {
		e, err := decodeValue(dec, depth)
		if err != nil {
			return Value{}, err
		}

		elems = append(elems, e)
	}

	// Closing ']'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}

	return Array(elems...), nil
}

func decodeObject(dec *json.Decoder, depth int) (Value, error) {
	fields := map[string]Value{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}

		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key is %T, not string", tok)
		}

		e, err := decodeValue(dec, depth)
		if err != nil {
			return Value{}, err
		}

		fields[key] = e
	}

	// Closing '}'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}

	return Object(fields), nil
}

// parseNumber maps integral literals that fit an int64 to Integer and
// everything else to Float.
func parseNumber(n json.Number) (Value, error) {
	s := string(n)

	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, err
	}

	return Float(f), nil
}
