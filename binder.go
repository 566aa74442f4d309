package pollrpc

import (
	"context"
)

// Binder is used to configure a server side [*Client] before it is served.
// It is called once for every accepted connection.
//
// Typical binders register receivers and remember the client for later calls.
// The cancel function may be used to stop serving the client.
type Binder interface {
	Bind(context.Context, *Client, context.CancelCauseFunc)
}

// NewFuncBinder returns a [Binder] that runs the given function on bind.
//
//nolint:ireturn //Helper function
func NewFuncBinder(binder func(context.Context, *Client, context.CancelCauseFunc)) Binder {
	return &funcBinder{funcBind: binder}
}

// funcBinder is used to wrap a function into a [Binder].
type funcBinder struct {
	funcBind func(context.Context, *Client, context.CancelCauseFunc)
}

// Bind implements [Binder].
func (fb *funcBinder) Bind(ctx context.Context, client *Client, stop context.CancelCauseFunc) {
	fb.funcBind(ctx, client, stop)
}
