package pollrpc

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"
)

// DefaultCompressionLevel is the zlib level used when none is configured.
const DefaultCompressionLevel = zlib.DefaultCompression

// compressedStream is a zlib compressed duplex stream. Every Write is followed by
// a sync flush so the peer can decode each message as soon as it arrives.
type compressedStream struct {
	rw  io.ReadWriteCloser
	zw  *zlib.Writer
	zr  io.ReadCloser
	rmu sync.Mutex
	wmu sync.Mutex
}

// NewCompressedStream wraps rw so that both directions are zlib compressed.
//
// The decompressor is created on the first Read, since reading the zlib header
// blocks until the peer has written something.
func NewCompressedStream(rw io.ReadWriteCloser, level int) (io.ReadWriteCloser, error) {
	zw, err := zlib.NewWriterLevel(rw, level)
	if err != nil {
		return nil, err
	}

	return &compressedStream{rw: rw, zw: zw}, nil
}

// Read implements [io.Reader].
func (cs *compressedStream) Read(p []byte) (int, error) {
	cs.rmu.Lock()
	defer cs.rmu.Unlock()

	if cs.zr == nil {
		zr, err := zlib.NewReader(cs.rw)
		if err != nil {
			return 0, err
		}

		cs.zr = zr
	}

	return cs.zr.Read(p)
}

// Write implements [io.Writer].
func (cs *compressedStream) Write(p []byte) (int, error) {
	cs.wmu.Lock()
	defer cs.wmu.Unlock()

	n, err := cs.zw.Write(p)
	if err != nil {
		return n, err
	}

	return n, cs.zw.Flush()
}

// Close closes the underlying stream without writing the zlib trailer.
func (cs *compressedStream) Close() error {
	return cs.rw.Close()
}

// RemoteAddr returns the peer address of the underlying stream, if it has one.
func (cs *compressedStream) RemoteAddr() net.Addr {
	return remoteAddr(cs.rw)
}

// SetDeadline forwards to the underlying stream when it supports deadlines.
func (cs *compressedStream) SetDeadline(t time.Time) error {
	if dl, ok := cs.rw.(deadliner); ok {
		return dl.SetDeadline(t)
	}

	return nil
}

// remoteAddr returns the peer address of rw, or nil when rw does not expose one.
func remoteAddr(rw any) net.Addr {
	if ra, ok := rw.(interface{ RemoteAddr() net.Addr }); ok {
		return ra.RemoteAddr()
	}

	return nil
}
