package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand(lc *logConfig) *cli.Command {
	var (
		cfg       config
		endpoint  string
		sessionID string
		showTrace bool
		asJSON    bool
	)

	flags := []cli.Flag{
		remoteFlag(&endpoint),
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Conversation session ID",
			Sources:     cli.EnvVars("STOREASSIST_SESSION"),
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Aliases:     []string{"t"},
			Usage:       "Print the routing trace",
			Destination: &showTrace,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full response as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if message == "" {
				return goerr.New("message is required")
			}

			var cl closers
			defer cl.Close()

			assistant, err := openAssistant(ctx, &cfg, endpoint, &cl)
			if err != nil {
				return err
			}

			reply, err := assistant.Ask(ctx, sessionID, message)
			if err != nil {
				return goerr.Wrap(err, "failed to ask")
			}

			if asJSON {
				enc := json.NewEncoder(c.Root().Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}

			printReply(c.Root().Writer, reply, showTrace)
			return nil
		}),
	}
}
