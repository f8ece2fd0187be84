package fantasybridge

import (
	"testing"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/proto"
)

func TestToFantasyPrompt(t *testing.T) {
	messages := []proto.Message{
		{Role: proto.RoleUser, Content: "hello"},
		{Role: proto.RoleAssistant, Content: "searching", ToolCalls: []proto.ToolCall{
			{ID: "call_1", Name: "search", Args: []byte(`{"query":"go"}`)},
			{ID: "call_2", Name: "retrieve"},
		}},
		{Role: proto.RoleTool, ToolResults: []proto.ToolResult{
			{ID: "call_1", Name: "search", Output: []byte(`{"results":[]}`)},
			{ID: "call_2", Name: "retrieve", Output: []byte(`{"error":"boom"}`), IsError: true},
		}},
		{Role: proto.RoleAssistant},
	}

	prompt := toFantasyPrompt("sys", messages)
	require.Len(t, prompt, 4)

	require.Equal(t, fantasy.MessageRoleSystem, prompt[0].Role)
	require.Equal(t, fantasy.MessageRoleUser, prompt[1].Role)
	require.Equal(t, fantasy.MessageRoleAssistant, prompt[2].Role)
	require.Equal(t, fantasy.MessageRoleTool, prompt[3].Role)

	require.Len(t, prompt[2].Content, 3)
	callPart, ok := fantasy.AsMessagePart[fantasy.ToolCallPart](prompt[2].Content[2])
	require.True(t, ok)
	require.Equal(t, "retrieve", callPart.ToolName)
	require.Equal(t, "{}", callPart.Input)

	require.Len(t, prompt[3].Content, 2)
	resultPart, ok := fantasy.AsMessagePart[fantasy.ToolResultPart](prompt[3].Content[0])
	require.True(t, ok)
	require.Equal(t, "call_1", resultPart.ToolCallID)
	text, textOK := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentText](resultPart.Output)
	require.True(t, textOK)
	require.Equal(t, `{"results":[]}`, text.Text)

	errPart, ok := fantasy.AsMessagePart[fantasy.ToolResultPart](prompt[3].Content[1])
	require.True(t, ok)
	errOutput, errOK := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentError](errPart.Output)
	require.True(t, errOK)
	require.Equal(t, `{"error":"boom"}`, errOutput.Error.Error())
}

func TestToFantasyTools(t *testing.T) {
	tools := toFantasyTools([]proto.ToolSpec{
		{
			Name:        "search",
			Description: "search the web",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{Name: "ping"},
	})

	require.Len(t, tools, 2)
	fn, ok := tools[0].(fantasy.FunctionTool)
	require.True(t, ok)
	require.Equal(t, "search", fn.Name)
	require.Equal(t, "search the web", fn.Description)
	require.Equal(t, []string{"query"}, fn.InputSchema["required"])

	bare, ok := tools[1].(fantasy.FunctionTool)
	require.True(t, ok)
	require.Equal(t, "object", bare.InputSchema["type"])
	require.Equal(t, map[string]any{}, bare.InputSchema["properties"])

	require.Nil(t, toFantasyTools(nil))
}
