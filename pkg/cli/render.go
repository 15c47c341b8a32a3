package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/server"
	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

// remoteFlag lets ask and chat talk to a running server instead of building the assistant
func remoteFlag(endpoint *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "endpoint",
		Aliases:     []string{"e"},
		Usage:       "MCP endpoint of a running server, e.g. http://localhost:8080/mcp",
		Sources:     cli.EnvVars("STOREASSIST_ENDPOINT"),
		Destination: endpoint,
	}
}

func openAssistant(ctx context.Context, cfg *config, endpoint string, cl *closers) (server.Assistant, error) {
	if endpoint == "" {
		return cfg.newAssistant(ctx, cl)
	}

	client, err := server.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	cl.add(func() { _ = client.Close() })
	return client, nil
}

func printReply(w io.Writer, reply *conversation.Reply, showTrace bool) {
	if showTrace {
		for _, entry := range reply.Trace {
			fmt.Fprintf(w, "  %s\n", entry)
		}
		fmt.Fprintln(w)
	}

	switch answer := reply.Answer.(type) {
	case string:
		fmt.Fprintln(w, answer)
	default:
		raw, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			fmt.Fprintln(w, conversation.AnswerText(answer))
			break
		}
		fmt.Fprintln(w, string(raw))
	}

	if reply.AgentUsed == model.IntentSQL && reply.SQL != "" && showTrace {
		fmt.Fprintf(w, "\nSQL: %s\n", reply.SQL)
	}
	if reply.StandaloneQuestion != "" && showTrace {
		fmt.Fprintf(w, "(interpretado como: %s)\n", reply.StandaloneQuestion)
	}
	fmt.Fprintf(w, "[%s]\n", reply.AgentUsed)
}
