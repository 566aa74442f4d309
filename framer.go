package pollrpc

import (
	"errors"
	"fmt"
)

// ErrJSONTooLarge is returned when a message exceeds the configured maximum size.
var ErrJSONTooLarge = errors.New("pollrpc: JSON message too large")

type frameState uint8

const (
	// frameIdle drops everything until an opening bracket.
	frameIdle frameState = iota
	frameValue
	frameString
	frameEscape
)

// Framer splits a byte stream into top-level JSON objects and arrays.
//
// Bytes between values, including whitespace and garbage, are dropped. Brackets inside
// string literals are not counted. Framer does not validate JSON; a balanced but invalid
// frame is emitted and fails later when parsed.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf      []byte
	max      int
	depth    int
	dropped  int
	state    frameState
	overflow bool
}

// NewFramer returns a [*Framer] that discards messages larger than maxSize bytes.
// A maxSize of zero or less disables the limit.
func NewFramer(maxSize int) *Framer {
	return &Framer{max: maxSize}
}

// Feed consumes p and returns every message completed by it, in order.
// Feed never retains p. Oversized messages are skipped entirely and reported as
// [ErrJSONTooLarge] alongside the frames that did complete.
func (f *Framer) Feed(p []byte) ([][]byte, error) {
	var frames [][]byte

	for _, c := range p {
		switch f.state {
		case frameIdle:
			if c != '{' && c != '[' {
				continue
			}

			f.state = frameValue
			f.depth = 1
		case frameValue:
			switch c {
			case '{', '[':
				f.depth++
			case '}', ']':
				f.depth--
			case '"':
				f.state = frameString
			}
		case frameString:
			switch c {
			case '\\':
				f.state = frameEscape
			case '"':
				f.state = frameValue
			}
		case frameEscape:
			f.state = frameString
		}

		f.appendByte(c)

		if f.state == frameValue && f.depth == 0 {
			if frame, ok := f.finish(); ok {
				frames = append(frames, frame)
			}
		}
	}

	if f.dropped > 0 {
		n := f.dropped
		f.dropped = 0

		return frames, fmt.Errorf("%w: %d message(s) over %d bytes discarded", ErrJSONTooLarge, n, f.max)
	}

	return frames, nil
}

func (f *Framer) appendByte(c byte) {
	if f.overflow {
		return
	}

	if f.max > 0 && len(f.buf) >= f.max {
		f.overflow = true
		f.buf = f.buf[:0]

		return
	}

	f.buf = append(f.buf, c)
}

// finish closes the current message, returning a copy unless it overflowed.
func (f *Framer) finish() ([]byte, bool) {
	f.state = frameIdle

	if f.overflow {
		f.overflow = false
		f.dropped++

		return nil, false
	}

	frame := make([]byte, len(f.buf))
	copy(frame, f.buf)
	f.buf = f.buf[:0]

	return frame, true
}

// Buffered returns the number of bytes held for an incomplete message.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards any partial message and returns to the idle state.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.depth = 0
	f.dropped = 0
	f.state = frameIdle
	f.overflow = false
}
