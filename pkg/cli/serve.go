package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/camuchapp/storeassist/pkg/server"
	"github.com/urfave/cli/v3"
)

func serveCommand(lc *logConfig) *cli.Command {
	var (
		cfg            config
		addr           string
		allowedOrigins []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("STOREASSIST_ADDR"),
			Destination: &addr,
		},
		&cli.StringSliceFlag{
			Name:        "allowed-origin",
			Usage:       "Origin allowed for CORS and WebSocket (every origin when empty)",
			Sources:     cli.EnvVars("STOREASSIST_ALLOWED_ORIGINS"),
			Destination: &allowedOrigins,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve POST /mcp/query, /ws and the MCP endpoint /mcp",
		Flags: flags,
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var cl closers
			defer cl.Close()

			assistant, err := cfg.newAssistant(ctx, &cl)
			if err != nil {
				return err
			}

			srv := server.New(assistant,
				server.WithAllowedOrigins(allowedOrigins...),
				server.WithImplementation("storeassist", Version),
			)
			return srv.ListenAndServe(ctx, addr)
		}),
	}
}
