// Package tools holds the tools the researcher can call and the registry
// that dispatches model tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/logging"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/schema"
	"github.com/dotcommander/lectern/internal/tracer"
	"github.com/dotcommander/lectern/internal/view"
)

// Kind tags the tool variants the registry knows about.
type Kind string

// Tool kinds.
const (
	KindSearch   Kind = "search"
	KindRetrieve Kind = "retrieve"
	KindMCP      Kind = "mcp"
)

// ErrUnknownTool is reported for calls to names that were never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Env is what a tool can reach while it runs.
type Env struct {
	// Surface receives sections pushed by the tool.
	Surface view.Surface
	// Answer is the answer text streamed so far.
	Answer live.Reader[string]
	Logger *slog.Logger
}

func (e Env) log() *slog.Logger {
	return logging.OrDiscard(e.Logger)
}

// Tool is a capability the model may invoke.
type Tool interface {
	Name() string
	Kind() Kind
	Spec() proto.ToolSpec
	// Execute runs the tool with arguments already validated against Spec.
	Execute(ctx context.Context, args json.RawMessage, env Env) (any, error)
}

type entry struct {
	tool   Tool
	schema *schema.Schema
}

// Registry maps tool names to tools.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]entry
	order       []string
	concurrency int
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  map[string]entry{},
		logger: logging.OrDiscard(logger),
	}
}

// SetConcurrency caps the number of calls ExecuteAll runs at once. Zero or
// less means no cap.
func (r *Registry) SetConcurrency(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.concurrency = n
}

// Register adds a tool. The tool's input schema is compiled so arguments can
// be checked before execution.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	e := entry{tool: t}
	if doc := t.Spec().Schema; len(doc) > 0 {
		compiled, err := schema.Compile(name, doc)
		if err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
		e.schema = compiled
	}
	r.tools[name] = e
	r.order = append(r.order, name)
	return nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs returns the specs offered to the model, in registration order.
func (r *Registry) Specs() []proto.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]proto.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].tool.Spec())
	}
	return specs
}

// Execute runs a single call. Every failure, including a panic inside the
// tool, is reported as an error result rather than returned.
func (r *Registry) Execute(ctx context.Context, call proto.ToolCall, env Env) proto.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "tool."+call.Name, tracer.StringAttr("tool.call_id", call.ID))
	defer span.End()

	res := proto.ToolResult{ID: call.ID, Name: call.Name}
	if t, ok := r.lookup(call.Name); ok {
		span.SetAttributes(tracer.StringAttr("tool.kind", string(t.Kind())))
	}
	out, err := r.execute(ctx, call, env)
	if err == nil {
		res.Output, err = json.Marshal(out)
	}
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("tool call failed", "tool", call.Name, "id", call.ID, "error", err)
		res.IsError = true
		res.Output = errorOutput(err)
		return res
	}
	tracer.SetOK(span)
	r.logger.Debug("tool call finished", "tool", call.Name, "id", call.ID, "bytes", len(res.Output))
	return res
}

func (r *Registry) execute(ctx context.Context, call proto.ToolCall, env Env) (out any, err error) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if e.schema != nil {
		if err := e.schema.Validate(call.Args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
	}
	if env.Logger == nil {
		env.Logger = r.logger
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", call.Name, "panic", p, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()
	return e.tool.Execute(ctx, call.Args, env)
}

func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Kinds counts the registered tools by kind.
func (r *Registry) Kinds() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind]int, len(r.tools))
	for _, e := range r.tools {
		out[e.tool.Kind()]++
	}
	return out
}

// ExecuteAll runs calls concurrently and returns exactly one result per call,
// in call order.
func (r *Registry) ExecuteAll(ctx context.Context, calls []proto.ToolCall, env Env) []proto.ToolResult {
	results := make([]proto.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	r.mu.RLock()
	limit := r.concurrency
	r.mu.RUnlock()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Execute(ctx, call, env)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func errorOutput(err error) json.RawMessage {
	out, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return json.RawMessage(`{"error":"tool failed"}`)
	}
	return out
}

func decodeArgs[T any](name string, args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("decode %s arguments: %w", name, err)
	}
	return v, nil
}
