package pollrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNegotiation is returned when the handshake run by a [Negotiator] fails.
var ErrNegotiation = errors.New("pollrpc: negotiation failed")

// Negotiator runs a handshake on a fresh connection before any JSON-RPC traffic.
//
// Negotiate must not read past the end of the handshake, since everything after it
// belongs to the RPC stream. When UseCompression reports true after a successful
// Negotiate, both directions of the connection are zlib compressed from then on.
type Negotiator interface {
	Negotiate(rw io.ReadWriter) error
	UseCompression() bool
}

// StaticNegotiator sends a fixed greeting and expects a fixed reply.
//
// Either side may be empty. A client and server pair usually mirrors each other:
// the server expects what the client sends and the other way around.
type StaticNegotiator struct {
	Send     []byte
	Expect   []byte
	Compress bool
}

// Negotiate implements [Negotiator].
func (sn *StaticNegotiator) Negotiate(rw io.ReadWriter) error {
	if len(sn.Send) > 0 {
		if _, err := rw.Write(sn.Send); err != nil {
			return fmt.Errorf("%w: %w", ErrNegotiation, err)
		}
	}

	if len(sn.Expect) == 0 {
		return nil
	}

	got := make([]byte, len(sn.Expect))

	if _, err := io.ReadFull(rw, got); err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, err)
	}

	if !bytes.Equal(got, sn.Expect) {
		return fmt.Errorf("%w: unexpected greeting %q", ErrNegotiation, got)
	}

	return nil
}

// UseCompression implements [Negotiator].
func (sn *StaticNegotiator) UseCompression() bool {
	return sn.Compress
}

// negotiate runs n on stream within timeout and wraps the stream with compression when
// n asks for it. The stream is closed when negotiation fails or ctx ends first.
func negotiate(ctx context.Context, stream io.ReadWriteCloser, n Negotiator, timeout time.Duration, level int) (io.ReadWriteCloser, error) {
	unwatch := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer unwatch()

	err := withDeadline(stream, timeout, func() error { return n.Negotiate(stream) })
	if err != nil {
		_ = stream.Close()

		if !errors.Is(err, ErrNegotiation) {
			err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		}

		return nil, err
	}

	if !n.UseCompression() {
		return stream, nil
	}

	compressed, err := NewCompressedStream(stream, level)
	if err != nil {
		_ = stream.Close()

		return nil, err
	}

	return compressed, nil
}
