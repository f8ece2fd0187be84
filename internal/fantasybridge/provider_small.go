//go:build lectern_small

package fantasybridge

// The small build talks to OpenAI-compatible endpoints only.
var providerFactories = map[string]providerFactory{}
