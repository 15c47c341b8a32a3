package server

import (
	"context"
	"encoding/json"
	"os/exec"

	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client talks to a remote assistant through its MCP tool. It satisfies Assistant so the
// CLI can drive either a local or a remote assistant.
type Client struct {
	session *mcp.ClientSession
}

// Dial connects to the streamable HTTP endpoint of a running server, e.g. http://host:8080/mcp
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, goerr.New("endpoint is required")
	}
	return connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint}, goerr.V("endpoint", endpoint))
}

// Spawn starts command as a child process speaking MCP over stdio
func Spawn(ctx context.Context, command []string) (*Client, error) {
	if len(command) == 0 {
		return nil, goerr.New("command is required for stdio transport")
	}
	cmd := exec.Command(command[0], command[1:]...)
	return connect(ctx, &mcp.CommandTransport{Command: cmd}, goerr.V("command", command))
}

func connect(ctx context.Context, transport mcp.Transport, target goerr.Option) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "storeassist-client",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to assistant", target)
	}

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return nil, goerr.Wrap(err, "failed to list tools", target)
	}

	found := false
	for _, t := range tools.Tools {
		if t.Name == askToolName {
			found = true
			break
		}
	}
	if !found {
		_ = session.Close()
		return nil, goerr.New("remote server does not provide the assistant tool", target, goerr.V("tool", askToolName))
	}

	return &Client{session: session}, nil
}

func (c *Client) Ask(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
	args := map[string]any{"message": message}
	if sessionID != "" {
		args["session_id"] = sessionID
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      askToolName,
		Arguments: args,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool", goerr.V("tool", askToolName))
	}
	if len(result.Content) == 0 {
		return nil, goerr.New("empty tool result", goerr.V("tool", askToolName))
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return nil, goerr.New("unexpected tool result content", goerr.V("tool", askToolName))
	}
	if result.IsError {
		return nil, goerr.New("remote assistant failed", goerr.V("message", text.Text))
	}

	var reply conversation.Reply
	if err := json.Unmarshal([]byte(text.Text), &reply); err != nil {
		return nil, goerr.Wrap(err, "failed to decode reply", goerr.V("text", text.Text))
	}
	return &reply, nil
}

func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		return goerr.Wrap(err, "failed to close session")
	}
	return nil
}
