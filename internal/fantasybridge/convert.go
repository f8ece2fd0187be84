// Package fantasybridge adapts charm.land/fantasy providers to the stream
// client interfaces and converts messages between the two.
package fantasybridge

import (
	"errors"
	"maps"

	"charm.land/fantasy"

	"github.com/dotcommander/lectern/internal/proto"
)

func toFantasyPrompt(system string, input []proto.Message) fantasy.Prompt {
	messages := make([]fantasy.Message, 0, len(input)+1)
	if system != "" {
		messages = append(messages, textMessage(fantasy.MessageRoleSystem, system))
	}

	for _, msg := range input {
		switch msg.Role {
		case proto.RoleSystem:
			messages = append(messages, textMessage(fantasy.MessageRoleSystem, msg.Content))
		case proto.RoleUser:
			messages = append(messages, textMessage(fantasy.MessageRoleUser, msg.Content))
		case proto.RoleAssistant:
			parts := make([]fantasy.MessagePart, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, fantasy.TextPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, fantasy.ToolCallPart{
					ToolCallID:       call.ID,
					ToolName:         call.Name,
					Input:            string(rawArgs(string(call.Args))),
					ProviderExecuted: false,
				})
			}
			if len(parts) > 0 {
				messages = append(messages, fantasy.Message{
					Role:    fantasy.MessageRoleAssistant,
					Content: parts,
				})
			}
		case proto.RoleTool:
			parts := make([]fantasy.MessagePart, 0, len(msg.ToolResults))
			for _, res := range msg.ToolResults {
				var output fantasy.ToolResultOutputContent
				if res.IsError {
					output = fantasy.ToolResultOutputContentError{Error: errors.New(string(res.Output))}
				} else {
					output = fantasy.ToolResultOutputContentText{Text: string(res.Output)}
				}
				parts = append(parts, fantasy.ToolResultPart{
					ToolCallID: res.ID,
					Output:     output,
				})
			}
			if len(parts) > 0 {
				messages = append(messages, fantasy.Message{
					Role:    fantasy.MessageRoleTool,
					Content: parts,
				})
			}
		}
	}

	return messages
}

func textMessage(role fantasy.MessageRole, text string) fantasy.Message {
	return fantasy.Message{
		Role:    role,
		Content: []fantasy.MessagePart{fantasy.TextPart{Text: text}},
	}
}

func toFantasyTools(specs []proto.ToolSpec) []fantasy.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]fantasy.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := map[string]any{"type": "object"}
		maps.Copy(schema, spec.Schema)
		if _, ok := schema["properties"]; !ok {
			schema["properties"] = map[string]any{}
		}
		tools = append(tools, fantasy.FunctionTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return tools
}
