package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/logging"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
	"github.com/dotcommander/lectern/internal/tools"
	"github.com/dotcommander/lectern/internal/tracer"
	"github.com/dotcommander/lectern/internal/view"
)

// DefaultMaxSteps bounds the model invocations of one research run.
const DefaultMaxSteps = 5

// DegradedText is the answer shown when a run fails.
const DegradedText = "An error has occurred. Please try again."

// ResearcherPrompt is the default system prompt of the researcher. It asks
// for a lecture-style answer built from the search and retrieve tools.
const ResearcherPrompt = `As a teacher with internet access, your primary objective is to provide comprehensive and insightful responses to user queries, just like I would deliver a lecture or teach students.
You must thoroughly research the topic using the web and present your findings in a clear, detailed, and engaging manner, similar to a classroom setting.
Use the search tool to find current sources. Use the retrieve tool to read the full content of a URL the user gave you; it cannot be used with URLs from search results.
**For example, if a user asks about "gravitation," your response should be similar to this:**
## Understanding Gravitation
Gravitation, or gravity, is a fundamental force in the universe that attracts two bodies towards each other. It is responsible for various phenomena, including the orbits of planets around the sun, the falling of objects to the ground, and the formation of galaxies.
### Key Concepts of Gravitation
* **Universal Law of Gravitation:** Formulated by Sir Isaac Newton, this law states that every point mass attracts every other point mass in the universe with a force that is directly proportional to the product of their masses and inversely proportional to the square of the distance between them.
* **Einstein's Theory of General Relativity:** This theory expanded on Newton's ideas, describing gravity not as a force but as a curvature of spacetime caused by mass.
### Gravitational Effects
Gravity affects everything from the motion of celestial bodies to the behavior of objects on Earth. It is responsible for phenomena such as tides, which are influenced by the gravitational pull of the moon and the sun.
**(Include relevant images from the search results here)**
### Further Reading
For more in-depth information, you can explore the following resources:
* [Universal Gravitation - The Physics Hypertextbook](link)
* [Gravity - Britannica](link)
**Key Instructions:**
* **Utilize the web to gather the latest information and ensure your answers are accurate and up-to-date.**
* **Present information in a structured format, using headings, subheadings, bullet points, and numbered lists to enhance clarity and readability.**
* **Include relevant images whenever the search results provide them, to aid understanding.**
* **Explain concepts in detail, providing examples and analogies to help users grasp complex ideas.**
* **Strive to answer the user's question directly and comprehensively, offering a complete and informative response.**
* **Always cite your sources with their URLs when using information from the web to maintain academic integrity.**
* **Maintain a professional and approachable tone, encouraging user engagement and interaction.**
* **Think step-by-step, ensuring all aspects of the topic are covered in a logical and organized way.**
* **Always double-check your response for accuracy, clarity, and completeness before presenting it to the user.**
* **Be enthusiastic and passionate in your delivery, fostering a love of learning in your users.**
* **Match the language of the response to the user's language.**`

// Mode selects how the model is invoked.
type Mode int

// Invocation modes.
const (
	// ModeStream forwards text deltas to the answer channel as they arrive.
	ModeStream Mode = iota
	// ModeGenerate waits for each step to finish and publishes the text once.
	ModeGenerate
)

// StepKind tells the first model step apart from continuations.
type StepKind string

// Step kinds.
const (
	StepInitial      StepKind = "initial"
	StepContinuation StepKind = "continuation"
)

// StepEvent reports a finished step.
type StepEvent struct {
	Index       int
	Kind        StepKind
	Text        string
	ToolCalls   []proto.ToolCall
	ToolResults []proto.ToolResult
}

// Result is the outcome of a research run.
type Result struct {
	// Text is the answer text accumulated over all steps.
	Text string
	// ToolResults holds the results of the most recent step that ran tools.
	ToolResults []proto.ToolResult
	// Steps lists every step that finished.
	Steps []StepEvent
	// Err is the cause of a degraded result.
	Err error
}

// Degraded reports whether the run failed and Text is the fallback answer.
func (r Result) Degraded() bool { return r.Err != nil }

// AnswerSection shows the answer text as it grows.
type AnswerSection struct {
	Text live.Reader[string]
}

// SectionKind implements view.Section.
func (AnswerSection) SectionKind() string { return "answer" }

// Params are the optional sampling parameters passed on every step.
type Params struct {
	Temperature *float64
	TopP        *float64
	TopK        *int64
	MaxTokens   *int64
	User        string
}

// Researcher drives the model through search and answer steps.
type Researcher struct {
	client   stream.Client
	registry *tools.Registry
	model    string
	prompt   string
	maxSteps int
	mode     Mode
	params   Params
	hook     func(StepEvent)
	logger   *slog.Logger
	now      func() time.Time
}

// ResearcherOption configures a Researcher.
type ResearcherOption func(*Researcher)

// WithMaxSteps sets the step budget. Values below one keep the default.
func WithMaxSteps(n int) ResearcherOption {
	return func(r *Researcher) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithMode selects streaming or generate invocation.
func WithMode(m Mode) ResearcherOption {
	return func(r *Researcher) { r.mode = m }
}

// WithPrompt replaces the default system prompt.
func WithPrompt(p string) ResearcherOption {
	return func(r *Researcher) {
		if p != "" {
			r.prompt = p
		}
	}
}

// WithParams sets sampling parameters.
func WithParams(p Params) ResearcherOption {
	return func(r *Researcher) { r.params = p }
}

// WithStepHook registers fn to be called after every finished step.
func WithStepHook(fn func(StepEvent)) ResearcherOption {
	return func(r *Researcher) { r.hook = fn }
}

// WithResearchLogger sets the logger.
func WithResearchLogger(l *slog.Logger) ResearcherOption {
	return func(r *Researcher) { r.logger = l }
}

// WithClock overrides the clock used for the date in the system prompt.
func WithClock(now func() time.Time) ResearcherOption {
	return func(r *Researcher) { r.now = now }
}

// NewResearcher creates a researcher that calls model through client. A nil
// registry means no tools are offered.
func NewResearcher(client stream.Client, registry *tools.Registry, model string, opts ...ResearcherOption) *Researcher {
	r := &Researcher{
		client:   client,
		registry: registry,
		model:    model,
		prompt:   ResearcherPrompt,
		maxSteps: DefaultMaxSteps,
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	if r.registry == nil {
		r.registry = tools.NewRegistry(r.logger)
	}
	return r
}

func (r *Researcher) system() string {
	return r.prompt + " Current date and time: " + r.now().Format(time.RFC1123)
}

// run holds the state of one Research call.
type run struct {
	surface  view.Surface
	answer   *live.Value[string]
	section  AnswerSection
	attached bool
	text     string
	history  proto.Conversation
	result   Result
}

// Research answers the conversation in messages, calling tools as the model
// asks for them. Sections are pushed to surface as the run progresses.
//
// Research never returns an error. Failures and cancellation produce a
// degraded Result whose Err holds the cause; the answer channel is always
// completed before Research returns.
func (r *Researcher) Research(ctx context.Context, surface view.Surface, messages []proto.Message) Result {
	ctx, span := tracer.StartSpan(ctx, "research",
		tracer.StringAttr("model", r.model),
		tracer.IntAttr("max_steps", r.maxSteps),
	)
	defer span.End()

	answer := live.New[string]()
	st := &run{
		surface: surface,
		answer:  answer,
		section: AnswerSection{Text: answer},
		history: proto.Conversation(messages).Clone(),
		result:  Result{ToolResults: []proto.ToolResult{}},
	}

	err := r.loop(ctx, st)
	if err != nil {
		tracer.RecordError(span, err)
		return r.degrade(st, err)
	}

	if r.mode == ModeGenerate {
		_ = answer.Update(st.text)
		_ = answer.Complete()
	} else {
		_ = answer.CompleteWith(st.text)
	}
	st.result.Text = st.text
	tracer.SetOK(span)
	return st.result
}

func (r *Researcher) loop(ctx context.Context, st *run) error {
	for step := range r.maxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := r.step(ctx, st, step)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		st.text = out.text

		kind := StepContinuation
		if step == 0 {
			kind = StepInitial
			if len(out.calls) > 0 {
				st.surface.Append(st.section)
			} else {
				st.surface.Update(st.section)
			}
			st.attached = true
		}

		st.history = append(st.history, proto.Message{
			Role:      proto.RoleAssistant,
			Content:   out.stepText,
			ToolCalls: out.calls,
		})
		ev := StepEvent{Index: step, Kind: kind, Text: out.stepText, ToolCalls: out.calls}

		if len(out.calls) == 0 {
			r.finishStep(st, ev)
			return nil
		}

		results := r.registry.ExecuteAll(ctx, out.calls, tools.Env{
			Surface: st.surface,
			Answer:  st.answer,
			Logger:  r.logger,
		})
		st.history = append(st.history, proto.Message{Role: proto.RoleTool, ToolResults: results})
		st.result.ToolResults = results
		ev.ToolResults = results
		r.finishStep(st, ev)
	}
	r.logger.Debug("research step budget exhausted", "max_steps", r.maxSteps)
	return nil
}

func (r *Researcher) finishStep(st *run, ev StepEvent) {
	st.result.Steps = append(st.result.Steps, ev)
	r.logger.Debug("research step finished",
		"step", ev.Index,
		"kind", ev.Kind,
		"tool_calls", len(ev.ToolCalls),
		"chars", len(ev.Text),
	)
	if r.hook != nil {
		r.hook(ev)
	}
}

// degrade finishes a failed run. The answer section is attached if the first
// step never finished, and the channel is completed with the fallback text.
func (r *Researcher) degrade(st *run, err error) Result {
	if errors.Is(err, context.Canceled) {
		r.logger.Info("research canceled", "error", err)
	} else {
		r.logger.Error("research failed", "error", err)
	}
	if !st.attached {
		st.surface.Update(st.section)
	}
	_ = st.answer.CompleteWith(DegradedText)
	return Result{
		Text:        DegradedText,
		ToolResults: []proto.ToolResult{},
		Steps:       st.result.Steps,
		Err:         err,
	}
}

// stepOutput is what one model step produced. text is the answer text
// accumulated over the whole run including this step.
type stepOutput struct {
	text     string
	stepText string
	calls    []proto.ToolCall
}

func (r *Researcher) request(st *run) proto.Request {
	return proto.Request{
		Model:       r.model,
		System:      r.system(),
		Messages:    st.history.Clone(),
		Tools:       r.registry.Specs(),
		Temperature: r.params.Temperature,
		TopP:        r.params.TopP,
		TopK:        r.params.TopK,
		MaxTokens:   r.params.MaxTokens,
		User:        r.params.User,
	}
}

func (r *Researcher) step(ctx context.Context, st *run, index int) (stepOutput, error) {
	ctx, span := tracer.StartSpan(ctx, "research.step", tracer.IntAttr("step", index))
	defer span.End()

	var (
		out stepOutput
		err error
	)
	if r.mode == ModeGenerate {
		out, err = r.generateStep(ctx, st)
	} else {
		out, err = r.streamStep(ctx, st)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return stepOutput{}, err
	}
	span.SetAttributes(tracer.IntAttr("tool_calls", len(out.calls)))
	tracer.SetOK(span)
	return out, nil
}

func (r *Researcher) streamStep(ctx context.Context, st *run) (stepOutput, error) {
	s, err := r.client.Stream(ctx, r.request(st))
	if err != nil {
		return stepOutput{}, err
	}
	defer s.Close() //nolint:errcheck

	out := stepOutput{text: st.text}
	calls := newCallSet()
	for s.Next() {
		ev := s.Current()
		switch ev.Type {
		case stream.EventTextDelta:
			if ev.Delta == "" {
				continue
			}
			out.text += ev.Delta
			out.stepText += ev.Delta
			if err := st.answer.Update(out.text); err != nil {
				return stepOutput{}, err
			}
		case stream.EventToolCall:
			calls.add(ev.ToolCall)
		case stream.EventWarning:
			r.logger.Warn("model warning", "warning", ev.Warning)
		case stream.EventFinish:
			r.logger.Debug("model step finished", "reason", ev.FinishReason)
		}
	}
	if err := s.Err(); err != nil {
		return stepOutput{}, err
	}
	out.calls = calls.list
	return out, nil
}

func (r *Researcher) generateStep(ctx context.Context, st *run) (stepOutput, error) {
	resp, err := r.client.Generate(ctx, r.request(st))
	if err != nil {
		return stepOutput{}, err
	}
	calls := newCallSet()
	for _, call := range resp.ToolCalls {
		calls.add(call)
	}
	return stepOutput{
		text:     st.text + resp.Text,
		stepText: resp.Text,
		calls:    calls.list,
	}, nil
}

// callSet keeps tool calls in arrival order, dropping repeated IDs and
// assigning one to calls that arrive without.
type callSet struct {
	seen map[string]struct{}
	list []proto.ToolCall
}

func newCallSet() *callSet {
	return &callSet{seen: map[string]struct{}{}}
}

func (c *callSet) add(call proto.ToolCall) {
	if call.ID == "" {
		call.ID = "call_" + ulid.Make().String()
	}
	if _, ok := c.seen[call.ID]; ok {
		return
	}
	c.seen[call.ID] = struct{}{}
	c.list = append(c.list, call)
}
