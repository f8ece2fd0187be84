//go:build !lectern_small

package fantasybridge

import (
	"strings"

	"charm.land/fantasy"
	fgoogle "charm.land/fantasy/providers/google"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"

	"github.com/dotcommander/lectern/internal/proto"
)

func applyProviderOptions(call *fantasy.Call, api string, cfg Config, req proto.Request) {
	openAIOpts := &fopenai.ProviderOptions{}
	hasOpenAIOpts := false

	if req.User != "" {
		user := req.User
		switch api {
		case apiOpenAI, apiAzure, apiAzureAD:
			openAIOpts.User = &user
			hasOpenAIOpts = true
		case apiAnthropic, apiGoogle, apiOpenRouter, apiVercel, apiBedrock:
			// no-op
		default:
			call.ProviderOptions[fopenaicompat.Name] = &fopenaicompat.ProviderOptions{User: &user}
		}
	}

	// Reasoning models reject max_tokens and take max_completion_tokens.
	if req.MaxTokens != nil && isReasoningModel(req.Model) {
		switch api {
		case apiOpenAI, apiAzure, apiAzureAD:
			openAIOpts.MaxCompletionTokens = req.MaxTokens
			call.MaxOutputTokens = nil
			hasOpenAIOpts = true
		}
	}

	if hasOpenAIOpts {
		call.ProviderOptions[fopenai.Name] = openAIOpts
	}

	if api == apiGoogle && cfg.ThinkingBudget > 0 {
		call.ProviderOptions[fgoogle.Name] = &fgoogle.ProviderOptions{
			ThinkingConfig: &fgoogle.ThinkingConfig{
				ThinkingBudget: fantasy.Opt(int64(cfg.ThinkingBudget)),
			},
		}
	}
}

func isReasoningModel(name string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
