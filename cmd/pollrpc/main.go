// pollrpc is a small command line peer for pollrpc servers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Usage: "Log format to use (json|text). Defaults to text on terminals",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging level (debug|info|warn|error)",
		Value: "info",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:   "pollrpc",
		Usage:  "bi-directional JSON-RPC 2.0 peer",
		Flags:  []cli.Flag{configFileFlag, logFormatFlag, verbosityFlag},
		Before: setupLogging,
		Commands: []*cli.Command{
			serveCommand,
			callCommand,
			postCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger.
func setupLogging(ctx *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ctx.String(verbosityFlag.Name))); err != nil {
		return fmt.Errorf("invalid verbosity: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch format := ctx.String(logFormatFlag.Name); format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "":
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
	default:
		return fmt.Errorf("unknown log format: %v", format)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}
