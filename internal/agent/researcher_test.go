package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
	"github.com/dotcommander/lectern/internal/stream/streamtest"
	"github.com/dotcommander/lectern/internal/tools"
	"github.com/dotcommander/lectern/internal/view"
)

type fakeBackend struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Search(_ context.Context, q tools.SearchQuery) (tools.SearchResults, error) {
	b.mu.Lock()
	b.queries = append(b.queries, q.Query)
	b.mu.Unlock()
	if b.err != nil {
		return tools.SearchResults{}, b.err
	}
	return tools.SearchResults{
		Query: q.Query,
		Results: []tools.SearchResult{
			{Title: "Gravity", URL: "https://example.com/gravity", Content: "Gravity is a fundamental interaction."},
		},
	}, nil
}

// answerSurface subscribes to the answer text as soon as the section is
// attached and records every snapshot it sees.
type answerSurface struct {
	view.Recorder

	mu    sync.Mutex
	snaps []live.Snapshot[string]
}

func (s *answerSurface) Append(sec view.Section) {
	s.Recorder.Append(sec)
	s.watch(sec)
}

func (s *answerSurface) Update(sec view.Section) {
	s.Recorder.Update(sec)
	s.watch(sec)
}

func (s *answerSurface) watch(sec view.Section) {
	a, ok := sec.(AnswerSection)
	if !ok {
		return
	}
	a.Text.Subscribe(func(snap live.Snapshot[string]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snaps = append(s.snaps, snap)
	})
}

func (s *answerSurface) snapshots() []live.Snapshot[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Snapshot[string](nil), s.snaps...)
}

func userMessages(q string) []proto.Message {
	return []proto.Message{{Role: proto.RoleUser, Content: q}}
}

func searchRegistry(t *testing.T, backend tools.SearchBackend) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(tools.NewSearchTool(backend, 5)))
	return reg
}

func answerOf(t *testing.T, rec *view.Recorder) live.Reader[string] {
	t.Helper()
	for _, op := range rec.Ops() {
		if a, ok := op.Section.(AnswerSection); ok {
			return a.Text
		}
	}
	t.Fatal("no answer section attached")
	return nil
}

func TestResearchWithoutToolCalls(t *testing.T) {
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{streamtest.Text("Hello"), streamtest.Text(", world")}},
	}}
	rec := &view.Recorder{}
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "gpt-4o")

	res := r.Research(context.Background(), rec, userMessages("hi"))

	require.NoError(t, res.Err)
	require.Equal(t, "Hello, world", res.Text)
	require.NotNil(t, res.ToolResults)
	require.Empty(t, res.ToolResults)
	require.Equal(t, []string{"update:answer"}, rec.Kinds())
	require.Len(t, res.Steps, 1)
	require.Equal(t, StepInitial, res.Steps[0].Kind)

	snap := answerOf(t, rec).Snapshot()
	require.True(t, snap.Done)
	require.Equal(t, "Hello, world", snap.Value)
	require.Len(t, fake.Calls(), 1)
}

func TestResearchSearchThenAnswer(t *testing.T) {
	backend := &fakeBackend{}
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{streamtest.Call("c1", "search", `{"query":"gravitation"}`)}},
		{Events: []stream.Event{streamtest.Text("Gravity is "), streamtest.Text("an attraction.")}},
	}}
	surface := &answerSurface{}
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	r := NewResearcher(fake, searchRegistry(t, backend), "gpt-4o", WithClock(clock))

	res := r.Research(context.Background(), surface, userMessages("What is gravitation?"))

	require.NoError(t, res.Err)
	require.Equal(t, "Gravity is an attraction.", res.Text)
	require.Len(t, res.ToolResults, 1)
	require.Equal(t, "c1", res.ToolResults[0].ID)
	require.False(t, res.ToolResults[0].IsError)
	require.Equal(t, []string{"gravitation"}, backend.queries)
	require.Equal(t, []string{"append:answer", "append:search"}, surface.Kinds())

	snaps := surface.snapshots()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	require.True(t, last.Done)
	require.Equal(t, "Gravity is an attraction.", last.Value)
	for _, snap := range snaps[:len(snaps)-1] {
		require.False(t, snap.Done)
	}

	calls := fake.Calls()
	require.Len(t, calls, 2)
	require.True(t, strings.HasPrefix(calls[0].System, "As a teacher with internet access"))
	require.Contains(t, calls[0].System, "## Understanding Gravitation")
	require.True(t, strings.HasSuffix(calls[0].System, "** Current date and time: Wed, 01 May 2024 12:00:00 UTC"))
	require.Len(t, calls[0].Tools, 1)
	require.Len(t, calls[0].Messages, 1)

	second := calls[1].Messages
	require.Len(t, second, 3)
	require.Equal(t, proto.RoleAssistant, second[1].Role)
	require.Equal(t, "c1", second[1].ToolCalls[0].ID)
	require.Equal(t, proto.RoleTool, second[2].Role)
	require.Equal(t, "c1", second[2].ToolResults[0].ID)

	var out tools.SearchResults
	require.NoError(t, json.Unmarshal(res.ToolResults[0].Output, &out))
	require.Equal(t, "gravitation", out.Query)
	require.Len(t, out.Results, 1)
}

func TestResearchStepBudget(t *testing.T) {
	search := func(id string) streamtest.Step {
		return streamtest.Step{Events: []stream.Event{streamtest.Call(id, "search", `{"query":"`+id+`"}`)}}
	}
	fake := &streamtest.Fake{Steps: []streamtest.Step{search("a"), search("b"), search("c")}}
	rec := &view.Recorder{}
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "gpt-4o", WithMaxSteps(2))

	res := r.Research(context.Background(), rec, userMessages("loop"))

	require.NoError(t, res.Err)
	require.Len(t, fake.Calls(), 2)
	require.Len(t, res.Steps, 2)
	require.Equal(t, StepContinuation, res.Steps[1].Kind)
	require.Len(t, res.ToolResults, 1)
	require.Equal(t, "b", res.ToolResults[0].ID)
	require.True(t, answerOf(t, rec).Snapshot().Done)
}

func TestResearchOneResultPerCall(t *testing.T) {
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{
			streamtest.Call("c1", "search", `{"query":"one"}`),
			streamtest.Call("c1", "search", `{"query":"one"}`),
			streamtest.Call("", "search", `{"query":"two"}`),
			streamtest.Call("c3", "nope", `{}`),
			streamtest.Call("c4", "search", `{"query":""}`),
		}},
		{Events: []stream.Event{streamtest.Text("done")}},
	}}
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "gpt-4o")

	res := r.Research(context.Background(), &view.Recorder{}, userMessages("q"))

	require.NoError(t, res.Err)
	require.Len(t, res.ToolResults, 4)
	require.Equal(t, "c1", res.ToolResults[0].ID)
	require.False(t, res.ToolResults[0].IsError)
	require.True(t, strings.HasPrefix(res.ToolResults[1].ID, "call_"))
	require.False(t, res.ToolResults[1].IsError)
	require.Equal(t, "c3", res.ToolResults[2].ID)
	require.True(t, res.ToolResults[2].IsError)
	require.Equal(t, "c4", res.ToolResults[3].ID)
	require.True(t, res.ToolResults[3].IsError)

	calls := res.Steps[0].ToolCalls
	for i, call := range calls {
		require.Equal(t, call.ID, res.ToolResults[i].ID)
	}
}

func TestResearchToolFailureDoesNotAbort(t *testing.T) {
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{streamtest.Call("c1", "search", `{"query":"down"}`)}},
		{Events: []stream.Event{streamtest.Text("I could not search.")}},
	}}
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{err: errors.New("503")}), "gpt-4o")

	res := r.Research(context.Background(), &view.Recorder{}, userMessages("q"))

	require.NoError(t, res.Err)
	require.Equal(t, "I could not search.", res.Text)
	require.Len(t, res.ToolResults, 1)
	require.True(t, res.ToolResults[0].IsError)
}

func TestResearchFailure(t *testing.T) {
	t.Run("first step", func(t *testing.T) {
		fake := &streamtest.Fake{Steps: []streamtest.Step{{StartErr: errors.New("boom")}}}
		rec := &view.Recorder{}
		r := NewResearcher(fake, nil, "gpt-4o")

		res := r.Research(context.Background(), rec, userMessages("q"))

		require.Error(t, res.Err)
		require.True(t, res.Degraded())
		require.Equal(t, DegradedText, res.Text)
		require.Equal(t, []proto.ToolResult{}, res.ToolResults)
		require.Equal(t, []string{"update:answer"}, rec.Kinds())
		snap := answerOf(t, rec).Snapshot()
		require.True(t, snap.Done)
		require.Equal(t, DegradedText, snap.Value)
	})

	t.Run("mid stream after tools", func(t *testing.T) {
		fake := &streamtest.Fake{Steps: []streamtest.Step{
			{Events: []stream.Event{streamtest.Call("c1", "search", `{"query":"x"}`)}},
			{Events: []stream.Event{streamtest.Text("partial")}, Err: errors.New("connection reset")},
		}}
		rec := &view.Recorder{}
		r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "gpt-4o")

		res := r.Research(context.Background(), rec, userMessages("q"))

		require.ErrorContains(t, res.Err, "connection reset")
		require.Equal(t, DegradedText, res.Text)
		require.Empty(t, res.ToolResults)
		require.Len(t, res.Steps, 1)
		require.Equal(t, []string{"append:answer", "append:search"}, rec.Kinds())
		snap := answerOf(t, rec).Snapshot()
		require.True(t, snap.Done)
		require.Equal(t, DegradedText, snap.Value)
	})
}

func TestResearchCancellation(t *testing.T) {
	fake := &streamtest.Fake{Block: true}
	rec := &view.Recorder{}
	r := NewResearcher(fake, nil, "gpt-4o")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := r.Research(ctx, rec, userMessages("q"))

	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, DegradedText, res.Text)
	require.True(t, answerOf(t, rec).Snapshot().Done)
}

func TestResearchGenerateMode(t *testing.T) {
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{streamtest.Call("c1", "search", `{"query":"gravitation"}`)}},
		{Events: []stream.Event{streamtest.Text("Gravity "), streamtest.Text("pulls.")}},
	}}
	surface := &answerSurface{}
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "llama3", WithMode(ModeGenerate))

	res := r.Research(context.Background(), surface, userMessages("What is gravitation?"))

	require.NoError(t, res.Err)
	require.Equal(t, "Gravity pulls.", res.Text)
	require.Equal(t, "append:answer", surface.Kinds()[0])

	snaps := surface.snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, "Gravity pulls.", snaps[0].Value)
	require.False(t, snaps[0].Done)
	require.True(t, snaps[1].Done)
	require.Equal(t, "Gravity pulls.", snaps[1].Value)
}

func TestResearchStepHook(t *testing.T) {
	fake := &streamtest.Fake{Steps: []streamtest.Step{
		{Events: []stream.Event{streamtest.Call("c1", "search", `{"query":"q"}`)}},
		{Events: []stream.Event{streamtest.Text("answer")}},
	}}
	var events []StepEvent
	r := NewResearcher(fake, searchRegistry(t, &fakeBackend{}), "gpt-4o",
		WithStepHook(func(ev StepEvent) { events = append(events, ev) }),
	)

	r.Research(context.Background(), &view.Recorder{}, userMessages("q"))

	require.Len(t, events, 2)
	require.Equal(t, StepInitial, events[0].Kind)
	require.Len(t, events[0].ToolResults, 1)
	require.Equal(t, StepContinuation, events[1].Kind)
	require.Equal(t, "answer", events[1].Text)
}
