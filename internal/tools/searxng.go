package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		ImgSrc  string `json:"img_src"`
	} `json:"results"`
}

// SearXNGBackend searches through a SearXNG instance.
type SearXNGBackend struct {
	client      *http.Client
	instanceURL string
}

var _ SearchBackend = &SearXNGBackend{}

// NewSearXNGBackend creates a backend for the instance at instanceURL.
func NewSearXNGBackend(instanceURL string, client *http.Client) *SearXNGBackend {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &SearXNGBackend{client: client, instanceURL: strings.TrimRight(instanceURL, "/")}
}

// Name implements SearchBackend.
func (b *SearXNGBackend) Name() string { return "searxng" }

// Search implements SearchBackend.
func (b *SearXNGBackend) Search(ctx context.Context, q SearchQuery) (SearchResults, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.instanceURL+"/search", nil)
	if err != nil {
		return SearchResults{}, fmt.Errorf("create request: %w", err)
	}
	params := req.URL.Query()
	params.Set("q", q.Query)
	params.Set("format", "json")
	params.Set("pageno", "1")
	if q.SearchDepth == DepthAdvanced {
		params.Set("categories", "general,science")
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return SearchResults{}, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return SearchResults{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return SearchResults{}, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searxngResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return SearchResults{}, fmt.Errorf("parse response: %w", err)
	}

	out := SearchResults{Query: q.Query, Results: make([]SearchResult, 0, q.MaxResults)}
	for _, r := range sr.Results {
		if r.ImgSrc != "" {
			out.Images = append(out.Images, r.ImgSrc)
		}
		if len(out.Results) >= q.MaxResults {
			continue
		}
		out.Results = append(out.Results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return out, nil
}
