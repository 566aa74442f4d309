package main

import (
	"context"
	"time"

	"github.com/rrb3942/pollrpc"
)

// registerBuiltins adds the procedures served by the serve command.
func registerBuiltins(mux *pollrpc.ReceiverMux) error {
	for name, f := range map[string]pollrpc.ReceiverFunc{
		"echo": echo,
		"add":  add,
		"time": now,
	} {
		if err := mux.Register(name, f); err != nil {
			return err
		}
	}

	return nil
}

// echo returns its only parameter, or all of them as an array.
func echo(_ context.Context, _ string, params []pollrpc.Value) (pollrpc.Value, error) {
	if len(params) == 1 {
		return params[0], nil
	}

	return pollrpc.Array(params...), nil
}

// add sums integer parameters.
func add(_ context.Context, _ string, params []pollrpc.Value) (pollrpc.Value, error) {
	var sum int64

	for i := range params {
		n, err := pollrpc.ParamAt[int64](params, i)
		if err != nil {
			return pollrpc.Value{}, err
		}

		sum += n
	}

	return pollrpc.Integer(sum), nil
}

func now(context.Context, string, []pollrpc.Value) (pollrpc.Value, error) {
	return pollrpc.String(time.Now().UTC().Format(time.RFC3339Nano)), nil
}
