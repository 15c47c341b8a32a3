package cli

import (
	"context"
	"os"

	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Version is replaced at build time
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

// logConfig holds the root flags every command shares
type logConfig struct {
	level  string
	format string
}

func Run(ctx context.Context, argv []string) *Error {
	var lc logConfig

	cmd := &cli.Command{
		Name:    "storeassist",
		Usage:   "Natural-language assistant for the store: sales, stock, catalogue and quick answers",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("STOREASSIST_LOG_LEVEL"),
				Destination: &lc.level,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("STOREASSIST_LOG_FORMAT"),
				Destination: &lc.format,
			},
		},
		Commands: []*cli.Command{
			serveCommand(&lc),
			askCommand(&lc),
			chatCommand(&lc),
			mcpCommand(&lc),
			syncCommand(&lc),
			historyCommand(&lc),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// withLogger configures the default logger from the root flags before running action
func withLogger(lc *logConfig, action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		logger := logging.NewWithFormat(lc.level, logging.Format(lc.format), os.Stderr)
		logging.SetDefault(logger)
		return action(logging.With(ctx, logger), c)
	}
}
