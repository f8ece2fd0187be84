package fantasybridge

import (
	"fmt"

	"charm.land/fantasy"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
)

const (
	apiOpenRouter = "openrouter"
	apiVercel     = "vercel"
	apiBedrock    = "bedrock"
)

type providerFactory func(Config) (fantasy.Provider, error)

// newProvider picks the native provider for cfg.API. Unknown APIs are treated
// as OpenAI-compatible endpoints named after the API.
func newProvider(cfg Config) (fantasy.Provider, error) {
	factory, ok := providerFactories[cfg.API]
	if !ok {
		factory = newOpenAICompat
	}
	provider, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("new %s provider: %w", cfg.API, err)
	}
	return provider, nil
}

func newOpenAICompat(cfg Config) (fantasy.Provider, error) {
	opts := []fopenaicompat.Option{fopenaicompat.WithName(cfg.API)}
	if cfg.APIKey != "" {
		opts = append(opts, fopenaicompat.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, fopenaicompat.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, fopenaicompat.WithHTTPClient(cfg.HTTPClient))
	}
	return fopenaicompat.New(opts...)
}
