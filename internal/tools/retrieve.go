package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/proto"
)

const (
	defaultReaderURL    = "https://r.jina.ai"
	maxRetrieveBodySize = 2 * 1024 * 1024
	maxRetrieveChars    = 10000
)

type retrieveArgs struct {
	URL string `json:"url"`
}

type readerResponse struct {
	Code int `json:"code"`
	Data struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Content     string `json:"content"`
	} `json:"data"`
}

// RetrieveTool fetches the readable content of a web page through a reader
// service.
type RetrieveTool struct {
	client    *http.Client
	readerURL string
}

var _ Tool = &RetrieveTool{}

// NewRetrieveTool creates a retrieve tool using the reader at readerURL.
func NewRetrieveTool(readerURL string, client *http.Client) *RetrieveTool {
	if readerURL == "" {
		readerURL = defaultReaderURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &RetrieveTool{client: client, readerURL: strings.TrimRight(readerURL, "/")}
}

// Name implements Tool.
func (t *RetrieveTool) Name() string { return "retrieve" }

// Kind implements Tool.
func (t *RetrieveTool) Kind() Kind { return KindRetrieve }

// Spec implements Tool.
func (t *RetrieveTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name:        t.Name(),
		Description: "Retrieve the content of a web page.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to retrieve.",
					"minLength":   1,
				},
			},
			"required": []string{"url"},
		},
	}
}

// Execute implements Tool.
func (t *RetrieveTool) Execute(ctx context.Context, args json.RawMessage, env Env) (any, error) {
	in, err := decodeArgs[retrieveArgs](t.Name(), args)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q", in.URL)
	}

	state := live.NewWith(SearchState{Query: target.String()})
	defer func() {
		if !state.Done() {
			_ = state.CompleteWith(SearchState{Query: target.String(), Err: "retrieve aborted"})
		}
	}()
	if env.Surface != nil {
		env.Surface.Append(SearchSection{Kind: t.Kind(), State: state})
	}

	res, err := t.fetch(ctx, target.String())
	if err != nil {
		_ = state.CompleteWith(SearchState{Query: target.String(), Err: err.Error()})
		return nil, err
	}
	_ = state.CompleteWith(SearchState{Query: target.String(), Results: res})
	env.log().Debug("page retrieved", "url", target.String(), "chars", len(res.Results[0].Content))
	return res, nil
}

func (t *RetrieveTool) fetch(ctx context.Context, target string) (SearchResults, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.readerURL+"/"+target, nil)
	if err != nil {
		return SearchResults{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-With-Generated-Alt", "true")

	resp, err := t.client.Do(req)
	if err != nil {
		return SearchResults{}, fmt.Errorf("retrieve request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRetrieveBodySize))
	if err != nil {
		return SearchResults{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResults{}, fmt.Errorf("retrieve failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rr readerResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return SearchResults{}, fmt.Errorf("parse response: %w", err)
	}
	if rr.Data.Content == "" {
		return SearchResults{}, errors.New("page has no readable content")
	}
	pageURL := rr.Data.URL
	if pageURL == "" {
		pageURL = target
	}
	return SearchResults{
		Query: target,
		Results: []SearchResult{{
			Title:   rr.Data.Title,
			URL:     pageURL,
			Content: truncate(rr.Data.Content, maxRetrieveChars),
		}},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
