//go:build !lectern_small

package fantasybridge

import (
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/azure"
	"charm.land/fantasy/providers/bedrock"
	fgoogle "charm.land/fantasy/providers/google"
	fopenai "charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
	"charm.land/fantasy/providers/vercel"
)

var providerFactories = map[string]providerFactory{
	apiOpenAI:     newOpenAI,
	apiAnthropic:  newAnthropic,
	apiGoogle:     newGoogle,
	apiAzure:      newAzure,
	apiAzureAD:    newAzure,
	apiOpenRouter: newOpenRouter,
	apiVercel:     newVercel,
	apiBedrock:    newBedrock,
}

func newOpenAI(cfg Config) (fantasy.Provider, error) {
	opts := []fopenai.Option{fopenai.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, fopenai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, fopenai.WithHTTPClient(cfg.HTTPClient))
	}
	return fopenai.New(opts...)
}

func newAnthropic(cfg Config) (fantasy.Provider, error) {
	opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		// The SDK appends the version segment itself.
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/v1")))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, anthropic.WithHTTPClient(cfg.HTTPClient))
	}
	return anthropic.New(opts...)
}

func newGoogle(cfg Config) (fantasy.Provider, error) {
	opts := []fgoogle.Option{fgoogle.WithGeminiAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, fgoogle.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, fgoogle.WithHTTPClient(cfg.HTTPClient))
	}
	return fgoogle.New(opts...)
}

func newAzure(cfg Config) (fantasy.Provider, error) {
	opts := []azure.Option{azure.WithAPIKey(cfg.APIKey), azure.WithBaseURL(cfg.BaseURL)}
	if cfg.HTTPClient != nil {
		opts = append(opts, azure.WithHTTPClient(cfg.HTTPClient))
	}
	return azure.New(opts...)
}

func newOpenRouter(cfg Config) (fantasy.Provider, error) {
	opts := []openrouter.Option{openrouter.WithAPIKey(cfg.APIKey)}
	if cfg.HTTPClient != nil {
		opts = append(opts, openrouter.WithHTTPClient(cfg.HTTPClient))
	}
	return openrouter.New(opts...)
}

func newVercel(cfg Config) (fantasy.Provider, error) {
	opts := []vercel.Option{vercel.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, vercel.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, vercel.WithHTTPClient(cfg.HTTPClient))
	}
	return vercel.New(opts...)
}

// newBedrock leaves credentials to the AWS SDK chain when no key is set.
func newBedrock(cfg Config) (fantasy.Provider, error) {
	var opts []bedrock.Option
	if cfg.APIKey != "" {
		opts = append(opts, bedrock.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, bedrock.WithHTTPClient(cfg.HTTPClient))
	}
	return bedrock.New(opts...)
}
