package pollrpc

import (
	"context"
	"log/slog"
)

// DefaultOnReceiverPanic provides a basic panic logging mechanism using the standard `slog` package.
// It is used when [Callbacks.OnReceiverPanic] is not set, ensuring that receiver panics are
// logged even if no custom callbacks are configured.
var DefaultOnReceiverPanic = func(ctx context.Context, procedure string, params []Value, rec any) {
	slog.ErrorContext(ctx, "Panic recovered in RPC receiver", "procedure", procedure, "params", Array(params...).String(), "panic_value", rec)
}

// Callbacks defines a set of functions that are run on specific events of a [Client]
// or [RequestClient]. This allows for custom logging, error handling, or other actions.
//
// Callbacks run on the goroutine that triggered the event: OnExit and OnDecodingError on the
// background goroutine, OnInvalidMessage and OnReceiverPanic inside Update. They must be safe
// for concurrent use when shared between clients.
//
// Example:
//
//	cfg := pollrpc.ClientConfig{
//	    Callbacks: pollrpc.Callbacks{
//	        OnExit: func(ctx context.Context, err error) {
//	            slog.InfoContext(ctx, "connection closed", "error", err)
//	        },
//	    },
//	}
type Callbacks struct {
	// OnExit is called when the background goroutine is about to return.
	// The `err` parameter indicates the reason for exiting. It is nil after
	// [Client.Disconnect] or [RequestClient.Close].
	OnExit func(ctx context.Context, err error)

	// OnDecodingError is called when a received frame is not valid JSON or exceeds
	// the configured message size. `raw` holds the frame when one is available.
	OnDecodingError func(ctx context.Context, raw []byte, err error)

	// OnInvalidMessage is called for decoded values that are neither a call nor a
	// response this client can correlate.
	OnInvalidMessage func(ctx context.Context, msg Value)

	// OnReceiverPanic is called when a [Receiver] panics. The panic is recovered and an
	// internal error is sent to the remote caller. [DefaultOnReceiverPanic] is used when unset.
	OnReceiverPanic func(ctx context.Context, procedure string, params []Value, rec any)
}

// runOnExit calls the OnExit callback if it is set.
func (c *Callbacks) runOnExit(ctx context.Context, e error) {
	if c.OnExit != nil {
		c.OnExit(ctx, e)
	}
}

// runOnDecodingError calls the OnDecodingError callback if it is set.
func (c *Callbacks) runOnDecodingError(ctx context.Context, raw []byte, e error) {
	if c.OnDecodingError != nil {
		c.OnDecodingError(ctx, raw, e)
	}
}

// runOnInvalidMessage calls the OnInvalidMessage callback if it is set.
func (c *Callbacks) runOnInvalidMessage(ctx context.Context, msg Value) {
	if c.OnInvalidMessage != nil {
		c.OnInvalidMessage(ctx, msg)
	}
}

// runOnReceiverPanic calls the OnReceiverPanic callback, falling back to [DefaultOnReceiverPanic].
func (c *Callbacks) runOnReceiverPanic(ctx context.Context, procedure string, params []Value, rec any) {
	if c.OnReceiverPanic != nil {
		c.OnReceiverPanic(ctx, procedure, params, rec)

		return
	}

	DefaultOnReceiverPanic(ctx, procedure, params, rec)
}
