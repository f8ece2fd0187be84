package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTavilyURL   = "https://api.tavily.com"
	maxSearchBodySize  = 512 * 1024
	defaultHTTPTimeout = 15 * time.Second
)

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeImages bool   `json:"include_images"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
	Images []json.RawMessage `json:"images"`
}

// TavilyBackend searches through the Tavily search API.
type TavilyBackend struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

var _ SearchBackend = &TavilyBackend{}

// NewTavilyBackend creates a Tavily backend. A nil client gets a default
// client with a timeout.
func NewTavilyBackend(apiKey string, client *http.Client) *TavilyBackend {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &TavilyBackend{client: client, baseURL: defaultTavilyURL, apiKey: apiKey}
}

// WithBaseURL points the backend at another endpoint.
func (b *TavilyBackend) WithBaseURL(u string) *TavilyBackend {
	b.baseURL = strings.TrimRight(u, "/")
	return b
}

// Name implements SearchBackend.
func (b *TavilyBackend) Name() string { return "tavily" }

// Search implements SearchBackend.
func (b *TavilyBackend) Search(ctx context.Context, q SearchQuery) (SearchResults, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:         q.Query,
		MaxResults:    max(q.MaxResults, 5), //nolint:mnd
		SearchDepth:   q.SearchDepth,
		IncludeImages: true,
	})
	if err != nil {
		return SearchResults{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return SearchResults{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return SearchResults{}, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return SearchResults{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResults{}, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var tr tavilyResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return SearchResults{}, fmt.Errorf("parse response: %w", err)
	}

	out := SearchResults{Query: tr.Query, Results: make([]SearchResult, 0, len(tr.Results))}
	for _, r := range tr.Results {
		out.Results = append(out.Results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	for _, img := range tr.Images {
		if u := imageURL(img); u != "" {
			out.Images = append(out.Images, u)
		}
	}
	return out, nil
}

// imageURL accepts both the plain string and the {url, description} forms
// Tavily uses for images.
func imageURL(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}
