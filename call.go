package pollrpc

import (
	"context"
	"time"
)

// callWaiter records the outcome of a single call.
type callWaiter struct {
	err    error
	result Value
	done   bool
}

func (w *callWaiter) OnProcedureResult(result Value, _ uint32) {
	w.result, w.done = result, true
}

func (w *callWaiter) OnProcedureError(code int64, message string, data Value, _ uint32) {
	w.err, w.done = &Error{Code: code, Message: message, Data: data}, true
}

// Call makes a call through rpc and runs rpc.Update until the outcome arrives or ctx ends.
// A JSON-RPC error reply is returned as an [*Error].
//
// Update dispatches everything else received in the meantime, so Call is meant for
// programs without a main loop of their own, such as command line tools.
// Returns [ErrNotConnected] if rpc is a [*Client] that loses its connection.
func Call(ctx context.Context, rpc RPC, procedure string, params ...Value) (Value, error) {
	waiter := new(callWaiter)

	if err := rpc.CallRemoteProcedure(procedure, params, waiter, 0); err != nil {
		return Value{}, err
	}

	defer rpc.RemoveProcedureCaller(waiter)

	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		rpc.Update()

		if waiter.done {
			return waiter.result, waiter.err
		}

		if c, ok := rpc.(*Client); ok && c.State() != Connected && c.State() != Connecting {
			return Value{}, ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return Value{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
