package main

import (
	"context"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
)

var CLI struct {
	Serve       ServeCommand      `cmd:"" help:"Run an echo server."`
	Call        CallCommand       `cmd:"" help:"Issue requests against a server."`
	Man         mangokong.ManFlag `help:"Write man page." hidden:""`
	DebugServer bool              `help:"Enable debug server."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`stream multiplexing engine over a single connection

The h2mux speaks the http2 framing layer: many concurrent logical streams
with independent flow control over one tcp connection.
		`),
	)
	if CLI.DebugServer {
		go func() {
			http.ListenAndServe(":8081", nil) //nolint:errcheck,gosec
		}()
	}
	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
