package cli

import (
	"context"

	"github.com/camuchapp/storeassist/pkg/server"
	"github.com/urfave/cli/v3"
)

func mcpCommand(lc *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the ask_store_assistant tool over stdio for MCP clients",
		Flags: allFlags(&cfg),
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			var cl closers
			defer cl.Close()

			assistant, err := cfg.newAssistant(ctx, &cl)
			if err != nil {
				return err
			}

			srv := server.New(assistant, server.WithImplementation("storeassist", Version))
			return srv.ServeStdio(ctx)
		}),
	}
}
