package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand(lc *logConfig) *cli.Command {
	var (
		cfg          config
		sessionID    string
		clearSession bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Conversation session ID",
			Sources:     cli.EnvVars("STOREASSIST_SESSION"),
			Destination: &sessionID,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "clear",
			Usage:       "Delete the session instead of printing it",
			Destination: &clearSession,
		},
	}
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show or clear the stored messages of a conversation session",
		Flags: flags,
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			var cl closers
			defer cl.Close()

			history, err := cfg.newHistory(ctx, &cl)
			if err != nil {
				return err
			}
			if history == nil {
				return goerr.New("redis-addr is required")
			}

			if clearSession {
				if err := history.Clear(ctx, sessionID); err != nil {
					return goerr.Wrap(err, "failed to clear session")
				}
				fmt.Fprintf(c.Root().Writer, "Session %s cleared\n", sessionID)
				return nil
			}

			msgs, err := history.Load(ctx, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to load session")
			}

			if len(msgs) == 0 {
				fmt.Fprintf(c.Root().Writer, "No messages found for session %s\n", sessionID)
				return nil
			}

			for _, m := range msgs {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n",
					m.CreatedAt.Format("2006-01-02 15:04:05"),
					m.Role,
					m.Content,
				)
			}
			return nil
		}),
	}
}
