package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/proto"
)

// Search depths understood by backends that support them.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

const maxSearchResults = 20

// SearchQuery is the input of the search tool.
type SearchQuery struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results,omitempty"`
	SearchDepth string `json:"search_depth,omitempty"`
}

// SearchResult is a single web result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResults is what the model and the search section receive.
type SearchResults struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Images  []string       `json:"images,omitempty"`
}

// SearchBackend is a web search engine.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, q SearchQuery) (SearchResults, error)
}

// SearchState is the live state rendered by a SearchSection.
type SearchState struct {
	Query   string
	Results SearchResults
	Err     string
}

// SearchSection shows a search or retrieval while it runs and once it
// finished. Kind is the tool that pushed it.
type SearchSection struct {
	Kind  Kind
	State live.Reader[SearchState]
}

// SectionKind implements view.Section.
func (SearchSection) SectionKind() string { return "search" }

// SearchTool searches the web through a backend.
type SearchTool struct {
	backend    SearchBackend
	maxResults int
}

var _ Tool = &SearchTool{}

// NewSearchTool returns a search tool. maxResults caps and defaults the
// number of results requested.
func NewSearchTool(backend SearchBackend, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &SearchTool{backend: backend, maxResults: min(maxResults, maxSearchResults)}
}

// Name implements Tool.
func (t *SearchTool) Name() string { return "search" }

// Kind implements Tool.
func (t *SearchTool) Kind() Kind { return KindSearch }

// Spec implements Tool.
func (t *SearchTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name:        t.Name(),
		Description: "Search the web for information.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The query to search for.",
					"minLength":   1,
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "The maximum number of results to return.",
					"minimum":     1,
					"maximum":     maxSearchResults,
				},
				"search_depth": map[string]any{
					"type":        "string",
					"description": "The depth of the search.",
					"enum":        []string{DepthBasic, DepthAdvanced},
				},
			},
			"required": []string{"query"},
		},
	}
}

// Execute implements Tool.
func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage, env Env) (any, error) {
	q, err := decodeArgs[SearchQuery](t.Name(), args)
	if err != nil {
		return nil, err
	}
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, errors.New("search query is empty")
	}
	if q.MaxResults <= 0 || q.MaxResults > t.maxResults {
		q.MaxResults = t.maxResults
	}
	if q.SearchDepth == "" {
		q.SearchDepth = DepthBasic
	}

	state := live.NewWith(SearchState{Query: q.Query})
	defer func() {
		if !state.Done() {
			_ = state.CompleteWith(SearchState{Query: q.Query, Err: "search aborted"})
		}
	}()
	if env.Surface != nil {
		env.Surface.Append(SearchSection{Kind: t.Kind(), State: state})
	}

	results, err := t.backend.Search(ctx, q)
	if err != nil {
		err = fmt.Errorf("%s search: %w", t.backend.Name(), err)
		_ = state.CompleteWith(SearchState{Query: q.Query, Err: err.Error()})
		return nil, err
	}
	if results.Query == "" {
		results.Query = q.Query
	}
	if len(results.Results) > q.MaxResults {
		results.Results = results.Results[:q.MaxResults]
	}
	// Results are revealed one by one; earlier snapshots keep their shorter
	// slices of the same array.
	for i := range results.Results {
		shown := results
		shown.Results = results.Results[:i+1]
		_ = state.Update(SearchState{Query: q.Query, Results: shown})
	}
	_ = state.CompleteWith(SearchState{Query: q.Query, Results: results})
	env.log().Debug("search finished", "backend", t.backend.Name(), "query", q.Query, "results", len(results.Results))
	return results, nil
}
