package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/view"
)

type fakeBackend struct {
	results SearchResults
	err     error
	calls   int
	last    SearchQuery
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Search(_ context.Context, q SearchQuery) (SearchResults, error) {
	b.calls++
	b.last = q
	return b.results, b.err
}

func TestSearchToolPushesSection(t *testing.T) {
	backend := &fakeBackend{results: SearchResults{Results: []SearchResult{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}}}
	tool := NewSearchTool(backend, 2)
	rec := &view.Recorder{}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":" golang "}`), Env{Surface: rec})
	require.NoError(t, err)

	res, ok := out.(SearchResults)
	require.True(t, ok)
	require.Equal(t, "golang", res.Query)
	require.Len(t, res.Results, 2)
	require.Equal(t, SearchQuery{Query: "golang", MaxResults: 2, SearchDepth: DepthBasic}, backend.last)

	ops := rec.Ops()
	require.Len(t, ops, 1)
	require.Equal(t, view.OpAppend, ops[0].Kind)
	section, ok := ops[0].Section.(SearchSection)
	require.True(t, ok)
	require.Equal(t, KindSearch, section.Kind)
	snap := section.State.Snapshot()
	require.True(t, snap.Done)
	require.Len(t, snap.Value.Results.Results, 2)
	require.Empty(t, snap.Value.Err)
}

type watchingSurface struct {
	*view.Recorder
	seen []int
	done []bool
}

func (w *watchingSurface) Append(s view.Section) {
	w.Recorder.Append(s)
	s.(SearchSection).State.Subscribe(func(snap live.Snapshot[SearchState]) {
		w.seen = append(w.seen, len(snap.Value.Results.Results))
		w.done = append(w.done, snap.Done)
	})
}

func TestSearchToolRevealsResults(t *testing.T) {
	backend := &fakeBackend{results: SearchResults{Results: []SearchResult{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}}}
	surface := &watchingSurface{Recorder: &view.Recorder{}}

	_, err := NewSearchTool(backend, 5).Execute(context.Background(), json.RawMessage(`{"query":"go"}`), Env{Surface: surface})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 3}, surface.seen)
	require.Equal(t, []bool{false, false, false, true}, surface.done)
}

func TestSearchToolBackendError(t *testing.T) {
	tool := NewSearchTool(&fakeBackend{err: errors.New("quota")}, 5)
	rec := &view.Recorder{}

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`), Env{Surface: rec})
	require.ErrorContains(t, err, "fake search: quota")

	section := rec.Ops()[0].Section.(SearchSection)
	snap := section.State.Snapshot()
	require.True(t, snap.Done)
	require.Contains(t, snap.Value.Err, "quota")
}

func TestSearchToolEmptyQuery(t *testing.T) {
	backend := &fakeBackend{}
	_, err := NewSearchTool(backend, 5).Execute(context.Background(), json.RawMessage(`{"query":"  "}`), Env{})
	require.Error(t, err)
	require.Zero(t, backend.calls)
}

func TestTavilyBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "Bearer tvly-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req tavilyRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "go", req.Query)
		require.Equal(t, 5, req.MaxResults)
		require.Equal(t, DepthAdvanced, req.SearchDepth)

		_, _ = w.Write([]byte(`{"query":"go","results":[{"title":"Go","url":"https://go.dev","content":"lang"}],
			"images":["https://img/1.png",{"url":"https://img/2.png","description":"two"}]}`))
	}))
	t.Cleanup(srv.Close)

	b := NewTavilyBackend("tvly-key", srv.Client()).WithBaseURL(srv.URL)
	res, err := b.Search(context.Background(), SearchQuery{Query: "go", MaxResults: 3, SearchDepth: DepthAdvanced})
	require.NoError(t, err)
	require.Equal(t, []SearchResult{{Title: "Go", URL: "https://go.dev", Content: "lang"}}, res.Results)
	require.Equal(t, []string{"https://img/1.png", "https://img/2.png"}, res.Images)
}

func TestTavilyBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := NewTavilyBackend("bad", srv.Client()).WithBaseURL(srv.URL).Search(context.Background(), SearchQuery{Query: "go"})
	require.ErrorContains(t, err, "HTTP 401")
}

func TestSearXNGBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "json", r.URL.Query().Get("format"))
		require.Equal(t, "rust", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"1","url":"u1","content":"c1"},
			{"title":"2","url":"u2","content":"c2","img_src":"i2"},
			{"title":"3","url":"u3","content":"c3"}]}`))
	}))
	t.Cleanup(srv.Close)

	res, err := NewSearXNGBackend(srv.URL+"/", srv.Client()).Search(context.Background(), SearchQuery{Query: "rust", MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	require.Equal(t, "rust", res.Query)
	require.Equal(t, []string{"i2"}, res.Images)
}

func TestGuardedBackendOpensCircuit(t *testing.T) {
	inner := &fakeBackend{err: errors.New("down")}
	g := NewGuardedBackend(inner, GuardConfig{BreakerFailures: 2, BreakerTimeout: time.Minute}, nil)

	for range 2 {
		_, err := g.Search(context.Background(), SearchQuery{Query: "x"})
		require.ErrorContains(t, err, "down")
	}
	require.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Search(context.Background(), SearchQuery{Query: "x"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 2, inner.calls)
}

func TestGuardedBackendIgnoresCancellation(t *testing.T) {
	inner := &fakeBackend{err: context.Canceled}
	g := NewGuardedBackend(inner, GuardConfig{BreakerFailures: 1}, nil)
	for range 3 {
		_, err := g.Search(context.Background(), SearchQuery{Query: "x"})
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedBackendRateLimit(t *testing.T) {
	inner := &fakeBackend{}
	g := NewGuardedBackend(inner, GuardConfig{RateLimit: 0.001, Burst: 1}, nil)

	_, err := g.Search(context.Background(), SearchQuery{Query: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Search(ctx, SearchQuery{Query: "x"})
	require.ErrorContains(t, err, "rate limit")
	require.Equal(t, 1, inner.calls)
}
