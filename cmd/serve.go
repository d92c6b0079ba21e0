package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cadenza/internal/server"
	"github.com/desertthunder/cadenza/internal/ui"
)

// Serve runs the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	host := r.config.Server.Host
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	port := r.config.Server.Port
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}

	var users server.UserResolver
	if d.auth != nil {
		users = d.auth
	}

	api := server.NewAPI(d.practice, d.goals, users, r.config.Auth.UserID, r.logger)
	srv := server.NewHTTPServer(host, port, server.NewRouter(api, r.logger))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.writePlain("%s\n", ui.Styles.OK("serving on http://%s", srv.Addr))
	r.writePlain("%s\n", ui.Styles.Help("press ctrl+c to stop"))
	return server.ListenAndServe(ctx, srv, r.logger)
}
