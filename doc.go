// Package pollrpc provides a poll-driven, bi-directional implementation of the JSON-RPC 2.0 protocol.
//
// # Overview
//
// Both ends of a connection may call procedures on the other. Network I/O runs on background
// goroutines, but received calls and results are only processed when the owner calls Update,
// usually once per iteration of its main loop. Callbacks therefore run on the owner's goroutine
// and need no extra synchronization with the rest of the program.
//
// Only positional parameters and integer ids are used on the wire. Id 0 is reserved for
// keepalive pings sent with the [PingMethod] procedure.
//
// # Features
//
//   - Persistent connections over tcp, unix sockets, tls and websockets via [Client] and [Server].
//   - Optional handshake and zlib compression via [Negotiator].
//   - Request based transports such as HTTP via [RequestClient], [HTTPSender] and [HTTPHandler].
//   - A dynamic value model, [Value], with reflection based conversion from and to Go types
//     ([ToValue], [FromValue], [CheckSignature]).
//   - Callbacks for connection and decoding events ([Callbacks]) and structured logging with `log/slog`.
//   - Connection pooling via [ClientPool].
//
// # Basic Usage
//
// # Server (TCP Example)
//
//	server, err := pollrpc.Listen("tcp::9090", pollrpc.ServerConfig{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	binder := pollrpc.NewFuncBinder(func(_ context.Context, client *pollrpc.Client, _ context.CancelCauseFunc) {
//		_ = client.Receivers().RegisterFunc("add", func(_ context.Context, _ string, params []pollrpc.Value) (pollrpc.Value, error) {
//			a, err := pollrpc.ParamAt[int64](params, 0)
//			if err != nil {
//				return pollrpc.Value{}, err
//			}
//			b, err := pollrpc.ParamAt[int64](params, 1)
//			if err != nil {
//				return pollrpc.Value{}, err
//			}
//			return pollrpc.Integer(a + b), nil
//		})
//	})
//
//	// Serve until ctx is cancelled
//	_ = server.Serve(ctx, binder)
//
// # Client (TCP Example)
//
//	client := pollrpc.NewClient()
//	client.Connect("tcp:127.0.0.1:9090", pollrpc.ClientConfig{})
//	defer client.Disconnect()
//
//	caller := &pollrpc.CallerFuncs{
//		OnResult: func(result pollrpc.Value, id uint32) { log.Printf("call %d: %v", id, result) },
//		OnError:  func(code int64, msg string, _ pollrpc.Value, id uint32) { log.Printf("call %d failed: %s", id, msg) },
//	}
//
//	_ = client.CallRemoteProcedure("add", []pollrpc.Value{pollrpc.Integer(1), pollrpc.Integer(2)}, caller, 1)
//
//	for client.IsConnected() {
//		client.Update()
//		time.Sleep(pollrpc.DefaultPollInterval)
//	}
//
// Programs without a main loop may use [Call], which pumps Update until the result arrives.
package pollrpc
