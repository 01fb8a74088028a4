package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/history"
)

const mcpServerName = "chatstream"

// listTurnsArgs are the arguments of the list_turns tool.
type listTurnsArgs struct {
	Session string `json:"session"`
	Limit   int    `json:"limit"`
}

// mcpHandler exposes the history store to MCP clients over streamable HTTP.
// Each request is independent; no MCP session state is kept.
func (p *Proxy) mcpHandler() http.Handler {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    mcpServerName,
		Version: "1.0.0",
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "list_sessions",
		Description: "List the chat sessions that have recorded turns.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, p.listSessionsTool)

	server.AddTool(&mcp.Tool{
		Name:        "list_turns",
		Description: "Return the transcript of a chat session, oldest turn first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "Session name. Defaults to the shared session.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Only return the most recent turns. 0 returns all of them.",
					"minimum":     0,
				},
			},
		},
	}, p.listTurnsTool)

	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		&mcp.StreamableHTTPOptions{
			Stateless:    true,
			JSONResponse: true,
		},
	)
}

func (p *Proxy) listSessionsTool(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := p.store.Sessions(ctx)
	if err != nil {
		p.logger.Error("mcp: failed to list sessions", zap.Error(err))
		return toolError("failed to list sessions: %v", err), nil
	}

	if sessions == nil {
		sessions = []string{}
	}

	return toolJSON(SessionsResponse{Count: len(sessions), Sessions: sessions})
}

func (p *Proxy) listTurnsTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listTurnsArgs
	if req.Params != nil && len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
	}

	if args.Session == "" {
		args.Session = history.DefaultSession
	}
	if args.Limit < 0 {
		return toolError("limit must not be negative"), nil
	}

	turns, err := p.store.Turns(ctx, args.Session, args.Limit)
	if err != nil {
		p.logger.Error("mcp: failed to list turns", zap.String("session", args.Session), zap.Error(err))
		return toolError("failed to list turns: %v", err), nil
	}

	if turns == nil {
		turns = []*history.Turn{}
	}

	return toolJSON(TurnsResponse{Session: args.Session, Count: len(turns), Turns: turns})
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}
