package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dotcommander/lectern/internal/proto"
)

// MCPCaller executes a tool on an MCP server. name has the form
// <server>_<tool>.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, data []byte) (string, error)
}

// MCPTool exposes one tool of an MCP server.
type MCPTool struct {
	server  string
	tool    mcp.Tool
	caller  MCPCaller
	timeout time.Duration
}

var _ Tool = &MCPTool{}

// NewMCPTools wraps every tool of every server, ordered by server name.
func NewMCPTools(byServer map[string][]mcp.Tool, caller MCPCaller, timeout time.Duration) []*MCPTool {
	var out []*MCPTool
	for _, server := range slices.Sorted(maps.Keys(byServer)) {
		for _, tool := range byServer[server] {
			out = append(out, &MCPTool{server: server, tool: tool, caller: caller, timeout: timeout})
		}
	}
	return out
}

// Name implements Tool.
func (t *MCPTool) Name() string { return fmt.Sprintf("%s_%s", t.server, t.tool.Name) }

// Kind implements Tool.
func (t *MCPTool) Kind() Kind { return KindMCP }

// Spec implements Tool.
func (t *MCPTool) Spec() proto.ToolSpec {
	properties := t.tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(t.tool.InputSchema.Required) > 0 {
		doc["required"] = t.tool.InputSchema.Required
	}
	return proto.ToolSpec{Name: t.Name(), Description: t.tool.Description, Schema: doc}
}

// Execute implements Tool.
func (t *MCPTool) Execute(ctx context.Context, args json.RawMessage, env Env) (any, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	out, err := t.caller.CallTool(ctx, t.Name(), args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	env.log().Debug("mcp tool finished", "server", t.server, "tool", t.tool.Name)
	return out, nil
}
