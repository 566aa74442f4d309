package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rrb3942/pollrpc"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpShutdownTimeout   = 30 * time.Second
)

var (
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "Listen uri for socket peers (tcp, unix or tls scheme)",
	}
	httpFlag = &cli.StringFlag{
		Name:  "http",
		Usage: "Address for the HTTP endpoints /rpc and /ws (disabled when empty)",
	}
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Serve the echo, add and time procedures",
	Flags:  []cli.Flag{listenFlag, httpFlag},
	Action: serve,
}

func loadFileConfig(ctx *cli.Context) (fileConfig, error) {
	cfg := defaultConfig()

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// bindAll returns a binder that registers every receiver of mux on each new peer.
func bindAll(mux *pollrpc.ReceiverMux) pollrpc.Binder {
	return pollrpc.NewFuncBinder(func(ctx context.Context, client *pollrpc.Client, _ context.CancelCauseFunc) {
		for _, name := range mux.Procedures() {
			if r, ok := mux.Lookup(name); ok {
				_ = client.RegisterCallReceiver(name, r)
			}
		}

		slog.InfoContext(ctx, "Peer connected", "remote", client.RemoteAddr())
	})
}

func serve(ctx *cli.Context) error {
	cfg, err := loadFileConfig(ctx)
	if err != nil {
		return err
	}

	if ctx.IsSet(listenFlag.Name) {
		cfg.Serve.Listen = ctx.String(listenFlag.Name)
	}

	if ctx.IsSet(httpFlag.Name) {
		cfg.Serve.HTTP = ctx.String(httpFlag.Name)
	}

	mux := pollrpc.NewReceiverMux()
	if err := registerBuiltins(mux); err != nil {
		return err
	}

	server, err := pollrpc.Listen(cfg.Serve.Listen, pollrpc.ServerConfig{
		Negotiator:  cfg.Peer.negotiator(),
		Client:      cfg.Peer.clientConfig(),
		PingTimeout: time.Duration(cfg.Peer.PingTimeout),
		AcceptRate:  cfg.Serve.AcceptRate,
		AcceptBurst: cfg.Serve.AcceptBurst,
	})
	if err != nil {
		return err
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(sigctx)
	binder := bindAll(mux)

	group.Go(func() error {
		return server.Serve(gctx, binder)
	})

	slog.Info("Listening", "addr", server.Addr())

	if cfg.Serve.HTTP != "" {
		handler := pollrpc.NewHTTPHandler(mux)
		handler.MaxBytes = cfg.Serve.MaxBytes

		httpMux := http.NewServeMux()
		httpMux.Handle("/rpc", handler)
		httpMux.Handle("/ws", server.WebsocketHandler(binder))

		httpServer := &http.Server{Addr: cfg.Serve.HTTP, Handler: httpMux, ReadHeaderTimeout: httpReadHeaderTimeout}

		group.Go(func() error {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		group.Go(func() error {
			<-gctx.Done()

			sctx, sStop := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer sStop()

			//nolint:contextcheck // Shutdown timeout, if we inherit it will already be cancelled
			return httpServer.Shutdown(sctx)
		})

		slog.Info("Serving HTTP", "addr", cfg.Serve.HTTP)
	}

	err = group.Wait()

	// Interrupted
	if sigctx.Err() != nil {
		return nil
	}

	return err
}
