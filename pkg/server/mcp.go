package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const askToolName = "ask_store_assistant"

type askParams struct {
	Message   string `json:"message" jsonschema:"Question about the store in natural language: products, prices, stock, sales, opening hours or offers"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Optional conversation ID to resolve follow-up questions"`
}

func newMCPServer(s *Server) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    s.name,
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        askToolName,
		Description: "Ask the store assistant. Returns a JSON object with answer, agentUsed and trace.",
	}, s.askTool)

	return server
}

func (s *Server) askTool(ctx context.Context, req *mcp.CallToolRequest, params *askParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Message) == "" {
		return nil, nil, goerr.New("message is required")
	}

	reply, err := s.assistant.Ask(ctx, params.SessionID, params.Message)
	if err != nil {
		logging.From(ctx).Error("failed to answer mcp tool call", "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: internalErrorMessage}},
		}, nil, nil
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal reply")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}
