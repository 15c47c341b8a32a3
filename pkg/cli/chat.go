package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Comandos:
  /trace   muestra u oculta la traza de enrutamiento
  /reset   empieza una conversación nueva
  /exit    salir`

func chatCommand(lc *logConfig) *cli.Command {
	var (
		cfg       config
		endpoint  string
		sessionID string
		showTrace bool
	)

	flags := []cli.Flag{
		remoteFlag(&endpoint),
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Conversation session ID (a new one when empty)",
			Sources:     cli.EnvVars("STOREASSIST_SESSION"),
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Aliases:     []string{"t"},
			Usage:       "Print the routing trace after every answer",
			Destination: &showTrace,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with the assistant",
		Flags: flags,
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			var cl closers
			defer cl.Close()

			assistant, err := openAssistant(ctx, &cfg, endpoint, &cl)
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "\033[36m> \033[0m",
				HistoryFile:     chatHistoryFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "/exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := rl.Stdout()
			fmt.Fprintf(w, "Sesión %s. Escribe /help para ver los comandos.\n", sessionID)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				switch message {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/help":
					fmt.Fprintln(w, chatHelp)
					continue
				case "/trace":
					showTrace = !showTrace
					fmt.Fprintf(w, "traza: %v\n", showTrace)
					continue
				case "/reset":
					if svc, ok := assistant.(*conversation.Service); ok {
						if err := svc.Reset(ctx, sessionID); err != nil {
							fmt.Fprintf(w, "error: %v\n", err)
						}
					}
					sessionID = uuid.NewString()
					fmt.Fprintf(w, "Sesión nueva %s\n", sessionID)
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " pensando..."
				sp.Start()
				reply, err := assistant.Ask(ctx, sessionID, message)
				sp.Stop()

				if err != nil {
					fmt.Fprintf(w, "error: %v\n", err)
					continue
				}
				printReply(w, reply, showTrace)
			}

			return nil
		}),
	}
}

func chatHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "storeassist")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
