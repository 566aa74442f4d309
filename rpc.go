package pollrpc

import (
	"context"
	"fmt"
	"time"
)

// Caller receives the outcome of a call made through [RPC.CallRemoteProcedure].
//
// Exactly one of the methods is invoked per call, from inside [RPC.Update]. The id is the
// caller supplied id given to CallRemoteProcedure, letting one Caller tell its calls apart.
// Callers are compared by identity in [RPC.RemoveProcedureCaller], so they must be comparable;
// pointer types are the usual choice.
type Caller interface {
	OnProcedureResult(result Value, id uint32)
	OnProcedureError(code int64, message string, data Value, id uint32)
}

// Receiver handles calls made by the remote peer.
//
// The returned value is sent back as the result when the call carried an id. A returned
// [*Error] is sent as is; any other error is sent as [ErrInternalError] with the error text as data.
// Params holds the positional parameters; it is empty when the call carried none.
type Receiver interface {
	CallProcedure(ctx context.Context, procedure string, params []Value) (Value, error)
}

// RPC is the transport independent interface shared by [Client] and [RequestClient].
type RPC interface {
	// CallRemoteProcedure queues a call. A nil caller sends a notification. The call is
	// serialized before returning, so params may be reused by the caller.
	CallRemoteProcedure(procedure string, params []Value, caller Caller, id uint32) error
	RegisterCallReceiver(procedure string, r Receiver) error
	// UnregisterCallReceiver removes the receiver for procedure if r is nil or r is the one registered.
	UnregisterCallReceiver(procedure string, r Receiver)
	// RemoveProcedureCaller drops every pending call of c. No callbacks for them will be invoked.
	RemoveProcedureCaller(c Caller)
	// Update processes everything received since the last Update. All callbacks run here.
	Update()
}

// RPCClient is an [RPC] over a persistent connection.
type RPCClient interface {
	RPC
	Connect(address string, cfg ClientConfig)
	State() ConnectionState
	IsConnected() bool
	Disconnect()
	LastReceiveTime() time.Time
	Flush()
}

// CallerFuncs adapts a pair of functions to the [Caller] interface.
// Either function may be nil. Use a pointer to CallerFuncs, since Callers must be comparable.
type CallerFuncs struct {
	OnResult func(result Value, id uint32)
	OnError  func(code int64, message string, data Value, id uint32)
}

// OnProcedureResult implements [Caller].
func (cf *CallerFuncs) OnProcedureResult(result Value, id uint32) {
	if cf.OnResult != nil {
		cf.OnResult(result, id)
	}
}

// OnProcedureError implements [Caller].
func (cf *CallerFuncs) OnProcedureError(code int64, message string, data Value, id uint32) {
	if cf.OnError != nil {
		cf.OnError(code, message, data, id)
	}
}

// ReceiverFunc adapts a function to the [Receiver] interface.
type ReceiverFunc func(ctx context.Context, procedure string, params []Value) (Value, error)

// CallProcedure calls f.
func (f ReceiverFunc) CallProcedure(ctx context.Context, procedure string, params []Value) (Value, error) {
	return f(ctx, procedure, params)
}

// ParamAt converts the positional parameter at index i into a T.
//
// A missing parameter or a conversion failure returns [ErrInvalidParams] with the reason as data,
// so a [Receiver] may return the error unchanged.
//
// Example:
//
//	func add(_ context.Context, _ string, params []pollrpc.Value) (pollrpc.Value, error) {
//	    a, err := pollrpc.ParamAt[int64](params, 0)
//	    if err != nil {
//	        return pollrpc.Value{}, err
//	    }
//	    b, err := pollrpc.ParamAt[int64](params, 1)
//	    if err != nil {
//	        return pollrpc.Value{}, err
//	    }
//	    return pollrpc.Integer(a + b), nil
//	}
func ParamAt[T any](params []Value, i int) (T, error) {
	if i < 0 || i >= len(params) {
		var zero T

		return zero, ErrInvalidParams.WithData(String(fmt.Sprintf("missing parameter %d", i)))
	}

	out, err := FromValue[T](params[i])
	if err != nil {
		return out, ErrInvalidParams.WithData(String(fmt.Sprintf("parameter %d: %s", i, err)))
	}

	return out, nil
}
