package pollrpc

import (
	"io"
	"time"
)

// deadliner is implemented by streams that support I/O deadlines, such as [net.Conn].
type deadliner interface {
	SetDeadline(t time.Time) error
}

// withDeadline runs fn with the deadline of rw set to timeout from now, when rw supports deadlines.
// The deadline is cleared afterwards.
func withDeadline(rw io.ReadWriter, timeout time.Duration, fn func() error) error {
	dl, ok := rw.(deadliner)
	if !ok || timeout <= 0 {
		return fn()
	}

	if err := dl.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	err := fn()

	if cerr := dl.SetDeadline(time.Time{}); err == nil {
		err = cerr
	}

	return err
}
