// Package proto defines the messages exchanged between the agent and a model.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role of a message author.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult is the outcome of a ToolCall, paired with it by ID.
type ToolResult struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Output  json.RawMessage `json:"output"`
	IsError bool            `json:"is_error,omitempty"`
}

// Message is a single entry in a conversation.
//
// Assistant messages may carry tool calls; tool messages carry the results of
// the preceding assistant message's calls.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is a single model invocation.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature *float64
	TopP        *float64
	TopK        *int64
	MaxTokens   *int64
	User        string
}

// Response is the completed output of a non-streaming invocation.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// ObjectRequest asks the model for a single object conforming to Schema.
type ObjectRequest struct {
	Request

	Name        string
	Description string
	Schema      map[string]any
}

// Conversation is an ordered message history.
type Conversation []Message

// Clone returns a copy that can be appended to without touching the
// original backing array.
func (cc Conversation) Clone() Conversation {
	out := make(Conversation, len(cc), len(cc)+4) //nolint:mnd
	copy(out, cc)
	return out
}

// LastUser returns the content of the most recent user message.
func (cc Conversation) LastUser() string {
	for i := len(cc) - 1; i >= 0; i-- {
		if cc[i].Role == RoleUser {
			return cc[i].Content
		}
	}
	return ""
}

func (cc Conversation) String() string {
	var sb strings.Builder
	for _, msg := range cc {
		if msg.Content == "" && len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0 {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			sb.WriteString("**System**: ")
		case RoleUser:
			sb.WriteString("**Prompt**: ")
		case RoleAssistant:
			sb.WriteString("**Assistant**: ")
		case RoleTool:
			sb.WriteString("**Tool**: ")
		}
		sb.WriteString(msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&sb, "\n> %s(%s)", call.Name, string(call.Args))
		}
		for _, res := range msg.ToolResults {
			status := "ok"
			if res.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "\n> %s: %s", res.Name, status)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}
