package pollrpc

import (
	"bytes"
	"context"
	"io"
	"time"
)

// openFunc establishes the stream for one connection.
type openFunc func(ctx context.Context, cfg ClientConfig) (io.ReadWriteCloser, error)

// loop is the background goroutine of a connection.
func (c *Client) loop(run *clientRun, open openFunc) {
	defer close(run.done)
	defer run.cancel()

	opened, err := c.serve(run, open)

	c.outbound.drain()
	c.sending.Store(false)

	if opened {
		c.live.Store(int32(NotConnected))
	} else {
		c.live.Store(int32(ConnectionError))
	}

	if run.ctx.Err() != nil {
		err = nil
	}

	if err != nil {
		run.log.DebugContext(run.ctx, "Connection closed", "remote", c.RemoteAddr(), "error", err)
	}

	run.cfg.Callbacks.runOnExit(run.ctx, err)
}

// serve opens the stream and pumps it until the connection ends.
func (c *Client) serve(run *clientRun, open openFunc) (opened bool, err error) {
	stream, err := open(run.ctx, run.cfg)
	if err != nil {
		return false, err
	}

	// Unblocks the reader on exit.
	context.AfterFunc(run.ctx, func() { _ = stream.Close() })

	if addr := remoteAddr(stream); addr != nil {
		run.remote.Store(addr)
	}

	c.setLastReceive(time.Now())
	c.live.Store(int32(Connected))

	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	go readChunks(run.ctx, stream, run.cfg.ReadBufferSize, chunks, readErr)

	framer := NewFramer(run.cfg.MaxMessageSize)

	ticker := time.NewTicker(run.cfg.PollInterval)
	defer ticker.Stop()

	// Zero so the first ping goes out right away.
	var lastSent time.Time

	for {
		if err := c.flushOutbound(stream, &lastSent); err != nil {
			return true, err
		}

		select {
		case <-run.ctx.Done():
			return true, nil
		case <-c.outbound.wake:
		case chunk := <-chunks:
			c.receive(run, framer, chunk)
		case err := <-readErr:
			return true, err
		case now := <-ticker.C:
			if err := c.keepalive(run, stream, now, &lastSent); err != nil {
				return true, err
			}
		}
	}
}

// readChunks copies everything read from r to chunks until a read fails.
func readChunks(ctx context.Context, r io.Reader, size int, chunks chan<- []byte, errs chan<- error) {
	for {
		buf := make([]byte, size)

		n, err := r.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}

		if err != nil {
			errs <- err

			return
		}
	}
}

// flushOutbound writes every queued message in one write.
func (c *Client) flushOutbound(w io.Writer, lastSent *time.Time) error {
	c.sending.Store(true)
	defer c.sending.Store(false)

	msgs := c.outbound.drain()
	if len(msgs) == 0 {
		return nil
	}

	if _, err := w.Write(bytes.Join(msgs, nil)); err != nil {
		return err
	}

	*lastSent = time.Now()

	return nil
}

// receive frames chunk and stages every decoded message for Update.
func (c *Client) receive(run *clientRun, framer *Framer, chunk []byte) {
	c.setLastReceive(time.Now())

	frames, err := framer.Feed(chunk)
	if err != nil {
		run.log.WarnContext(run.ctx, "Oversized message dropped", "remote", c.RemoteAddr(), "error", err)
		run.cfg.Callbacks.runOnDecodingError(run.ctx, nil, err)
	}

	msgs := make([]Value, 0, len(frames))

	for _, frame := range frames {
		msg, err := ParseValue(frame)
		if err != nil {
			run.log.WarnContext(run.ctx, "Undecodable message dropped", "remote", c.RemoteAddr(), "error", err)
			run.cfg.Callbacks.runOnDecodingError(run.ctx, frame, err)

			continue
		}

		msgs = append(msgs, msg)
	}

	c.inbound.push(msgs...)
}

// keepalive enforces the ping timeout and sends a ping when nothing was sent for a while.
func (c *Client) keepalive(run *clientRun, w io.Writer, now time.Time, lastSent *time.Time) error {
	if run.cfg.PingTimeout > 0 && now.Sub(c.lastReceive()) > run.cfg.PingTimeout {
		return ErrPingTimeout
	}

	if run.cfg.PingSendPeriod > 0 && now.Sub(*lastSent) >= run.cfg.PingSendPeriod {
		if _, err := w.Write(pingMessage); err != nil {
			return err
		}

		*lastSent = now
	}

	return nil
}
