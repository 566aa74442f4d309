package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rrb3942/pollrpc"
	"github.com/urfave/cli/v2"
)

var errMissingMethod = errors.New("missing METHOD argument")

var (
	uriFlag = &cli.StringFlag{
		Name:  "uri",
		Usage: "Server uri (tcp, unix, tls, ws or wss scheme)",
		Value: "tcp:localhost:9090",
	}
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "HTTP endpoint of the server",
		Value: "http://localhost:8080/rpc",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Time to wait for the result",
		Value: 30 * time.Second,
	}
)

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "Call a procedure over a socket connection",
	ArgsUsage: "METHOD [JSON-PARAM...]",
	Flags:     []cli.Flag{uriFlag, timeoutFlag},
	Action:    callSocket,
}

var postCommand = &cli.Command{
	Name:      "post",
	Usage:     "Call a procedure over HTTP",
	ArgsUsage: "METHOD [JSON-PARAM...]",
	Flags:     []cli.Flag{urlFlag, timeoutFlag},
	Action:    callHTTP,
}

// parseArgs splits the command arguments into the method and its JSON encoded parameters.
func parseArgs(args []string) (string, []pollrpc.Value, error) {
	if len(args) == 0 {
		return "", nil, errMissingMethod
	}

	params := make([]pollrpc.Value, 0, len(args)-1)

	for i, arg := range args[1:] {
		v, err := pollrpc.ParseValue([]byte(arg))
		if err != nil {
			return "", nil, fmt.Errorf("parameter %d: %w", i, err)
		}

		params = append(params, v)
	}

	return args[0], params, nil
}

func callSocket(ctx *cli.Context) error {
	cfg, err := loadFileConfig(ctx)
	if err != nil {
		return err
	}

	method, params, err := parseArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}

	client := pollrpc.NewClient()
	client.Connect(ctx.String(uriFlag.Name), cfg.Peer.clientConfig())
	defer client.Disconnect()

	return invoke(ctx, client, method, params)
}

func callHTTP(ctx *cli.Context) error {
	cfg, err := loadFileConfig(ctx)
	if err != nil {
		return err
	}

	method, params, err := parseArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}

	sender := pollrpc.NewHTTPSender(ctx.String(urlFlag.Name))
	sender.Timeout = time.Duration(cfg.Post.Timeout)
	sender.InsecureSkipVerify = cfg.Post.InsecureSkipVerify

	rc := pollrpc.NewRequestClient(sender, pollrpc.RequestClientConfig{AutoRetries: cfg.Post.AutoRetries})
	defer rc.Close()

	return invoke(ctx, rc, method, params)
}

// invoke makes the call and prints the result as JSON.
func invoke(ctx *cli.Context, rpc pollrpc.RPC, method string, params []pollrpc.Value) error {
	cctx, stop := context.WithTimeout(ctx.Context, ctx.Duration(timeoutFlag.Name))
	defer stop()

	result, err := pollrpc.Call(cctx, rpc, method, params...)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(ctx.App.Writer, result.String())

	return err
}
