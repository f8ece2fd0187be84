// Package inquiry asks the model whether a clarifying question should be put
// to the user before researching, and streams that question as it forms.
package inquiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/logging"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/schema"
	"github.com/dotcommander/lectern/internal/stream"
	"github.com/dotcommander/lectern/internal/tracer"
	"github.com/dotcommander/lectern/internal/view"
)

// valueRe is the machine vocabulary option values must use, whatever the
// language of the conversation.
var valueRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Option is a predefined answer.
type Option struct {
	Value string `json:"value,omitempty"`
	Label string `json:"label,omitempty"`
}

// Inquiry is a clarifying question. Every field may be missing while the
// question is still being generated.
type Inquiry struct {
	Question         string   `json:"question,omitempty"`
	Options          []Option `json:"options,omitempty"`
	AllowsInput      bool     `json:"allowsInput,omitempty"`
	InputLabel       string   `json:"inputLabel,omitempty"`
	InputPlaceholder string   `json:"inputPlaceholder,omitempty"`
}

// IsZero reports whether nothing was generated.
func (q Inquiry) IsZero() bool {
	return q.Question == "" && len(q.Options) == 0 && !q.AllowsInput &&
		q.InputLabel == "" && q.InputPlaceholder == ""
}

// NeedsAnswer reports whether there is a question to put to the user.
func (q Inquiry) NeedsAnswer() bool {
	return q.Question != ""
}

// Section renders an inquiry while it streams.
type Section struct {
	Inquiry live.Reader[Inquiry]
}

// SectionKind implements view.Section.
func (Section) SectionKind() string { return "inquiry" }

// Schema is the JSON Schema the model's object must satisfy.
var Schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"question": map[string]any{
			"type":        "string",
			"description": "The inquiry question",
		},
		"options": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"value": map[string]any{"type": "string"},
					"label": map[string]any{"type": "string"},
				},
				"required": []string{"value", "label"},
			},
		},
		"allowsInput":      map[string]any{"type": "boolean"},
		"inputLabel":       map[string]any{"type": "string"},
		"inputPlaceholder": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

var compiled = schema.MustCompile("inquiry", Schema)

// Generator produces clarifying questions.
type Generator struct {
	client stream.Client
	model  string
	system string
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSystemPrompt replaces the default instructions.
func WithSystemPrompt(prompt string) GeneratorOption {
	return func(g *Generator) { g.system = prompt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator returns a Generator using model on client.
func NewGenerator(client stream.Client, model string, opts ...GeneratorOption) *Generator {
	g := &Generator{client: client, model: model, system: SystemPrompt}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDiscard(g.logger)
	return g
}

// Inquire streams a clarifying question into surface and returns the last
// object received. The surface's last section is replaced by the inquiry
// section, whose value is completed on every return path. A stream that
// yields nothing gives a zero Inquiry.
func (g *Generator) Inquire(ctx context.Context, surface view.Surface, messages []proto.Message) (Inquiry, error) {
	ctx, span := tracer.StartSpan(ctx, "inquiry.generate", tracer.StringAttr("model", g.model))
	defer span.End()

	value := live.New[Inquiry]()
	defer func() {
		if !value.Done() {
			_ = value.Complete()
		}
	}()
	surface.Update(Section{Inquiry: value})

	var final Inquiry
	err := g.stream(ctx, messages, func(q Inquiry) {
		final = q
		_ = value.Update(settled(q))
	})
	if err != nil {
		tracer.RecordError(span, err)
		g.logger.Error("inquiry failed", "error", err)
		return settled(final), err
	}

	final = g.sanitize(final)
	_ = value.CompleteWith(final)
	tracer.SetOK(span)
	return final, nil
}

func (g *Generator) stream(ctx context.Context, messages []proto.Message, onPartial func(Inquiry)) error {
	objs, err := g.client.StreamObject(ctx, proto.ObjectRequest{
		Request: proto.Request{
			Model:    g.model,
			System:   g.system,
			Messages: messages,
		},
		Name:        "inquiry",
		Description: "A single clarifying question for the user.",
		Schema:      Schema,
	})
	if err != nil {
		return fmt.Errorf("start inquiry stream: %w", err)
	}
	defer func() { _ = objs.Close() }()

	for objs.Next() {
		var q Inquiry
		if err := json.Unmarshal(objs.Current(), &q); err != nil {
			g.logger.Debug("skipping undecodable partial inquiry", "error", err)
			continue
		}
		if q.IsZero() {
			continue
		}
		onPartial(q)
	}
	if err := objs.Err(); err != nil {
		return fmt.Errorf("inquiry stream: %w", err)
	}

	raw, err := objs.Object()
	if errors.Is(err, stream.ErrNoObject) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inquiry object: %w", err)
	}
	if err := compiled.Validate(raw); err != nil {
		g.logger.Warn("inquiry does not match schema", "error", err)
	}
	var q Inquiry
	if err := json.Unmarshal(raw, &q); err != nil {
		return fmt.Errorf("decode inquiry: %w", err)
	}
	if !q.IsZero() {
		onPartial(q)
	}
	return nil
}

// settled is what observers see of a partial object. The last option may
// still be streaming, so it is held back; the others are final and filtered
// like the complete object, which keeps the shown options from shrinking.
func settled(q Inquiry) Inquiry {
	if len(q.Options) == 0 {
		return q
	}
	q.Options, _ = filterOptions(q.Options[:len(q.Options)-1])
	return q
}

// sanitize drops options whose value is not a machine token or that repeat
// an earlier value.
func (g *Generator) sanitize(q Inquiry) Inquiry {
	if len(q.Options) == 0 {
		return q
	}
	var dropped []Option
	q.Options, dropped = filterOptions(q.Options)
	for _, opt := range dropped {
		g.logger.Warn("dropping inquiry option", "value", opt.Value, "label", opt.Label)
	}
	return q
}

func filterOptions(in []Option) (kept, dropped []Option) {
	seen := map[string]struct{}{}
	kept = make([]Option, 0, len(in))
	for _, opt := range in {
		if _, dup := seen[opt.Value]; dup || !valueRe.MatchString(opt.Value) {
			dropped = append(dropped, opt)
			continue
		}
		seen[opt.Value] = struct{}{}
		kept = append(kept, opt)
	}
	return kept, dropped
}

// Answer turns the user's choice into the message appended to the
// conversation before researching. selected holds option values.
func (q Inquiry) Answer(selected []string, input string) string {
	parts := make([]string, 0, len(selected)+1)
	for _, v := range selected {
		for _, opt := range q.Options {
			if opt.Value == v {
				parts = append(parts, opt.Label)
				break
			}
		}
	}
	if input = strings.TrimSpace(input); input != "" {
		parts = append(parts, input)
	}
	return strings.Join(parts, ", ")
}
