package pollrpc

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReceiver records calls and returns a canned result.
type mockReceiver struct {
	err    error
	result Value
	calls  []string
}

func (r *mockReceiver) CallProcedure(_ context.Context, procedure string, _ []Value) (Value, error) {
	r.calls = append(r.calls, procedure)

	return r.result, r.err
}

func addReceiver(_ context.Context, _ string, params []Value) (Value, error) {
	a, err := ParamAt[int64](params, 0)
	if err != nil {
		return Value{}, err
	}

	b, err := ParamAt[int64](params, 1)
	if err != nil {
		return Value{}, err
	}

	return Integer(a + b), nil
}

func TestReceiverMux_Register(t *testing.T) {
	mux := NewReceiverMux()
	r1, r2 := &mockReceiver{}, &mockReceiver{}

	require.NoError(t, mux.Register("x", r1))
	require.NoError(t, mux.Register("x", r2), "Register replaces")

	got, ok := mux.Lookup("x")
	require.True(t, ok)
	assert.Same(t, r2, got)

	require.ErrorIs(t, mux.Register("y", nil), ErrNilReceiver)
	require.ErrorIs(t, mux.RegisterFunc("y", nil), ErrNilReceiver)
	require.NoError(t, mux.RegisterFunc("add", addReceiver))

	assert.Equal(t, []string{"add", "x"}, mux.Procedures())
}

func TestReceiverMux_Unregister(t *testing.T) {
	mux := NewReceiverMux()
	r1, r2 := &mockReceiver{}, &mockReceiver{}

	require.NoError(t, mux.Register("x", r1))

	mux.Unregister("x", r2)
	_, ok := mux.Lookup("x")
	assert.True(t, ok, "other receiver must not unregister")

	mux.Unregister("x", r1)
	_, ok = mux.Lookup("x")
	assert.False(t, ok)

	require.NoError(t, mux.Register("x", r1))
	mux.Unregister("x", nil)
	_, ok = mux.Lookup("x")
	assert.False(t, ok, "nil unregisters any receiver")

	require.NoError(t, mux.RegisterFunc("add", addReceiver))
	mux.Unregister("add", ReceiverFunc(addReceiver))
	_, ok = mux.Lookup("add")
	assert.False(t, ok)

	mux.Unregister("missing", nil)
}

func serve(t *testing.T, mux *ReceiverMux, cb *Callbacks, msg string) (string, bool) {
	t.Helper()

	v, err := ParseValue([]byte(msg))
	require.NoError(t, err)

	reply, ok := mux.serveCall(context.Background(), slog.Default(), cb, v)

	return string(reply), ok
}

func TestReceiverMux_ServeCall(t *testing.T) {
	mux := NewReceiverMux()
	require.NoError(t, mux.RegisterFunc("add", addReceiver))
	require.NoError(t, mux.Register("fail", &mockReceiver{err: errors.New("boom")}))
	require.NoError(t, mux.Register("rpcfail", &mockReceiver{err: NewError(-1, "custom")}))
	require.NoError(t, mux.RegisterFunc("panic", func(context.Context, string, []Value) (Value, error) {
		panic("receiver exploded")
	}))

	var panicked any

	cb := &Callbacks{OnReceiverPanic: func(_ context.Context, _ string, _ []Value, rec any) { panicked = rec }}

	//nolint:govet //Do not reorder struct
	tests := []struct {
		name  string
		msg   string
		reply string
		ok    bool
	}{
		{"result", `{"jsonrpc":"2.0","method":"add","params":[2,3],"id":7}`, `{"jsonrpc":"2.0","result":5,"id":7}` + "\n", true},
		{"notification", `{"jsonrpc":"2.0","method":"add","params":[2,3]}`, "", true},
		{"bad params", `{"method":"add","params":[2,"x"],"id":1}`, `{"jsonrpc":"2.0","error":{"code":-32602,"data":"parameter 1: pollrpc: value does not match signature: cannot use string as int64","message":"Invalid params"},"id":1}` + "\n", true},
		{"missing params", `{"method":"add","id":1}`, `{"jsonrpc":"2.0","error":{"code":-32602,"data":"missing parameter 0","message":"Invalid params"},"id":1}` + "\n", true},
		{"plain error", `{"method":"fail","id":2}`, `{"jsonrpc":"2.0","error":{"code":-32603,"data":"boom","message":"Internal error"},"id":2}` + "\n", true},
		{"rpc error", `{"method":"rpcfail","id":2}`, `{"jsonrpc":"2.0","error":{"code":-1,"message":"custom"},"id":2}` + "\n", true},
		{"panic", `{"method":"panic","id":3}`, `{"jsonrpc":"2.0","error":{"code":-32603,"data":"receiver exploded","message":"Internal error"},"id":3}` + "\n", true},
		{"unknown with id", `{"method":"nope","id":4}`, `{"jsonrpc":"2.0","error":{"code":-32601,"data":"nope","message":"Method not found"},"id":4}` + "\n", true},
		{"unknown notification", `{"method":"nope"}`, "", true},
		{"not a call", `{"result":1,"id":4}`, "", false},
		{"method not string", `{"method":1,"id":4}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := serve(t, mux, cb, tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reply, reply)
		})
	}

	assert.Equal(t, "receiver exploded", panicked)
}
