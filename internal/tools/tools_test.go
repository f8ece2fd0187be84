package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/proto"
)

type echoTool struct {
	name  string
	delay time.Duration
	fn    func(args json.RawMessage) (any, error)
}

func (t *echoTool) Name() string { return t.name }
func (t *echoTool) Kind() Kind   { return KindMCP }
func (t *echoTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name: t.name,
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
	}
}

func (t *echoTool) Execute(ctx context.Context, args json.RawMessage, _ Env) (any, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.fn != nil {
		return t.fn(args)
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return in.Text, nil
}

func errorText(t *testing.T, res proto.ToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	var out map[string]string
	require.NoError(t, json.Unmarshal(res.Output, &out))
	return out["error"]
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&echoTool{name: "b"}))
	require.NoError(t, r.Register(&echoTool{name: "a"}))
	require.Error(t, r.Register(&echoTool{name: "a"}))

	require.Equal(t, 2, r.Len())
	require.Equal(t, []string{"b", "a"}, r.Names())
	specs := r.Specs()
	require.Len(t, specs, 2)
	require.Equal(t, "b", specs[0].Name)
	require.Equal(t, map[Kind]int{KindMCP: 2}, r.Kinds())
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&echoTool{name: "echo"}))
	require.NoError(t, r.Register(&echoTool{name: "boom", fn: func(json.RawMessage) (any, error) {
		return nil, errors.New("backend down")
	}}))
	require.NoError(t, r.Register(&echoTool{name: "panic", fn: func(json.RawMessage) (any, error) {
		panic("oops")
	}}))
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		res := r.Execute(ctx, proto.ToolCall{ID: "1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)}, Env{})
		require.False(t, res.IsError)
		require.Equal(t, "1", res.ID)
		require.Equal(t, "echo", res.Name)
		require.JSONEq(t, `"hi"`, string(res.Output))
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := r.Execute(ctx, proto.ToolCall{ID: "2", Name: "nope"}, Env{})
		require.Equal(t, "2", res.ID)
		require.Contains(t, errorText(t, res), "unknown tool")
	})

	t.Run("invalid arguments", func(t *testing.T) {
		res := r.Execute(ctx, proto.ToolCall{ID: "3", Name: "echo", Args: json.RawMessage(`{"text":1}`)}, Env{})
		require.Contains(t, errorText(t, res), "invalid arguments")
	})

	t.Run("tool error", func(t *testing.T) {
		res := r.Execute(ctx, proto.ToolCall{ID: "4", Name: "boom", Args: json.RawMessage(`{"text":""}`)}, Env{})
		require.Equal(t, "backend down", errorText(t, res))
	})

	t.Run("panic", func(t *testing.T) {
		res := r.Execute(ctx, proto.ToolCall{ID: "5", Name: "panic", Args: json.RawMessage(`{"text":""}`)}, Env{})
		require.Contains(t, errorText(t, res), "panicked")
	})
}

func TestRegistryExecuteAllKeepsOrder(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&echoTool{name: "slow", delay: 50 * time.Millisecond}))
	require.NoError(t, r.Register(&echoTool{name: "fast"}))

	calls := []proto.ToolCall{
		{ID: "a", Name: "slow", Args: json.RawMessage(`{"text":"1"}`)},
		{ID: "b", Name: "fast", Args: json.RawMessage(`{"text":"2"}`)},
		{ID: "c", Name: "missing"},
	}
	results := r.ExecuteAll(context.Background(), calls, Env{})
	require.Len(t, results, 3)
	for i, res := range results {
		require.Equal(t, calls[i].ID, res.ID)
	}
	require.JSONEq(t, `"1"`, string(results[0].Output))
	require.JSONEq(t, `"2"`, string(results[1].Output))
	require.True(t, results[2].IsError)

	require.Empty(t, r.ExecuteAll(context.Background(), nil, Env{}))
}

func TestRegistryExecuteAllRunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&echoTool{name: "wait", fn: func(json.RawMessage) (any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return "ok", nil
	}}))

	calls := make([]proto.ToolCall, 4)
	for i := range calls {
		calls[i] = proto.ToolCall{ID: string(rune('a' + i)), Name: "wait", Args: json.RawMessage(`{"text":""}`)}
	}

	r.ExecuteAll(context.Background(), calls, Env{})
	require.Greater(t, peak.Load(), int32(1))

	peak.Store(0)
	r.SetConcurrency(1)
	r.ExecuteAll(context.Background(), calls, Env{})
	require.Equal(t, int32(1), peak.Load())
}
