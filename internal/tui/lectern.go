// Package tui shows a research run live in the terminal.
package tui

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/fantasy"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotcommander/lectern/internal/agent"
	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/present"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/view"
)

type state int

const (
	startState state = iota
	researchState
	doneState
	errorState
)

// Answerer runs one answer turn. *agent.Service implements it.
type Answerer interface {
	Answer(ctx context.Context, surface view.Surface, messages []proto.Message, opts agent.AnswerOptions) (agent.Outcome, error)
	ActionForStreamError(err error, mod config.Model, prompt string) agent.StreamErrorAction
}

var _ Answerer = &agent.Service{}

type (
	inputMsg    struct{ content string }
	sectionsMsg struct {
		sections []view.Section
		ch       <-chan live.Snapshot[[]view.Section]
	}
	outcomeMsg struct {
		outcome agent.Outcome
		err     error
	}
)

// Lectern is the bubbletea model of one answer turn.
type Lectern struct {
	// Outcome is set once the turn finished.
	Outcome agent.Outcome
	// Error is set when the turn failed.
	Error *errs.Error

	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	answerer Answerer
	opts     agent.AnswerOptions
	messages []proto.Message
	stdin    io.Reader

	state      state
	retries    int
	transcript *view.Transcript
	sections   []view.Section
	renderer   *present.Renderer
	lg         *lipgloss.Renderer
	spinner    spinner.Model
	viewport   viewport.Model
	content    string
	height     int
	width      int
}

// Option configures a Lectern.
type Option func(*Lectern)

// WithMessages starts from an existing conversation instead of reading the
// question from stdin.
func WithMessages(messages []proto.Message) Option {
	return func(m *Lectern) { m.messages = messages }
}

// WithAnswerOptions sets the options passed to every Answer call.
func WithAnswerOptions(opts agent.AnswerOptions) Option {
	return func(m *Lectern) { m.opts = opts }
}

// WithStdin reads the question from r when it is not a terminal.
func WithStdin(r io.Reader) Option {
	return func(m *Lectern) { m.stdin = r }
}

// New creates the model. Output is drawn with r.
func New(ctx context.Context, lg *lipgloss.Renderer, r *present.Renderer, cfg *config.Config, answerer Answerer, opts ...Option) *Lectern {
	ctx, cancel := context.WithCancel(ctx)
	m := &Lectern{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		answerer: answerer,
		renderer: r,
		lg:       lg,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		viewport: viewport.New(0, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init implements tea.Model.
func (m *Lectern) Init() tea.Cmd {
	// The spinner tick also redraws sections whose content changes in place.
	return tea.Batch(m.readInputCmd, m.spinner.Tick)
}

// Update implements tea.Model.
func (m *Lectern) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case inputMsg:
		if len(m.messages) == 0 {
			content := removeWhitespace(msg.content)
			if content == "" && m.cfg.Prefix == "" {
				m.state = doneState
				return m, tea.Quit
			}
			m.messages = []proto.Message{{Role: proto.RoleUser, Content: content}}
		}
		cmds = append(cmds, m.startAnswerCmd()...)

	case sectionsMsg:
		m.sections = msg.sections
		m.render()
		if msg.ch != nil {
			cmds = append(cmds, watchCmd(msg.ch))
		}

	case outcomeMsg:
		return m, m.finish(msg)

	case errs.Error:
		m.Error = &msg
		m.state = errorState
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = m.width
		m.viewport.Height = m.height
		m.render()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			m.state = doneState
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.state == doneState || m.state == errorState {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.sections = m.currentSections()
		m.render()
		cmds = append(cmds, cmd)
	}

	if m.viewportNeeded() {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m *Lectern) View() string {
	switch m.state {
	case researchState:
		if m.viewportNeeded() {
			return m.viewport.View()
		}
		return m.content
	default:
		return ""
	}
}

// Sections returns the sections of the last attempt.
func (m *Lectern) Sections() []view.Section {
	return m.currentSections()
}

// Messages returns the conversation the turn started from.
func (m *Lectern) Messages() []proto.Message {
	return m.messages
}

func (m *Lectern) currentSections() []view.Section {
	if m.transcript == nil {
		return m.sections
	}
	return m.transcript.Sections()
}

func (m *Lectern) viewportNeeded() bool {
	return lipgloss.Height(m.content) > m.height && m.height > 0
}

func (m *Lectern) render() {
	frame := ""
	if !m.cfg.Quiet {
		frame = m.spinner.View()
	}
	wasAtBottom := m.viewport.AtBottom()
	out := m.renderer.Render(m.sections, frame)
	if m.width > 0 {
		out = m.lg.NewStyle().MaxWidth(m.width).Render(out)
	}
	m.content = out
	m.viewport.SetContent(out)
	if wasAtBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Lectern) startAnswerCmd() []tea.Cmd {
	m.state = researchState
	m.transcript = view.NewTranscript()
	if !m.cfg.Quiet {
		m.transcript.Update(view.Spinner{Label: "Thinking"})
	}
	ch := m.transcript.Watch(m.ctx)
	transcript := m.transcript
	messages := proto.Conversation(m.messages).Clone()
	opts := m.opts
	if m.retries > 0 {
		opts.SkipInquiry = true
	}
	answer := func() tea.Msg {
		out, err := m.answerer.Answer(m.ctx, transcript, messages, opts)
		transcript.Close()
		return outcomeMsg{outcome: out, err: err}
	}
	return []tea.Cmd{answer, watchCmd(ch)}
}

func watchCmd(ch <-chan live.Snapshot[[]view.Section]) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		if snap.Done {
			return sectionsMsg{sections: snap.Value}
		}
		return sectionsMsg{sections: snap.Value, ch: ch}
	}
}

func (m *Lectern) finish(msg outcomeMsg) tea.Cmd {
	m.sections = m.currentSections()
	if msg.err != nil {
		return m.fail(msg.err)
	}
	m.Outcome = msg.outcome
	if err := msg.outcome.Result.Err; err != nil && !errors.Is(err, context.Canceled) {
		return m.handleResearchError(err, msg.outcome.Model)
	}
	m.state = doneState
	return tea.Quit
}

func (m *Lectern) fail(err error) tea.Cmd {
	m.Error = errs.From(err, "Could not answer.")
	m.state = errorState
	return tea.Quit
}

func (m *Lectern) handleResearchError(err error, mod config.Model) tea.Cmd {
	prompt := proto.Conversation(m.messages).LastUser()
	action := m.answerer.ActionForStreamError(err, mod, prompt)
	if action.ModelOverride != "" {
		m.cfg.Model = action.ModelOverride
	}
	if !action.Retry || m.retries+1 >= m.cfg.MaxRetries {
		if action.Err.Err == nil {
			return m.fail(err)
		}
		return m.fail(action.Err)
	}
	m.retries++
	if action.Prompt != "" && action.Prompt != prompt {
		m.replaceLastUser(action.Prompt)
	}
	m.waitForRetryDelay(err)
	return tea.Batch(m.startAnswerCmd()...)
}

func (m *Lectern) replaceLastUser(content string) {
	m.messages = proto.Conversation(m.messages).Clone()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == proto.RoleUser {
			m.messages[i].Content = content
			return
		}
	}
}

func (m *Lectern) waitForRetryDelay(retryErr error) {
	var providerErr *fantasy.ProviderError
	if !errors.As(retryErr, &providerErr) {
		return
	}

	opts := fantasy.DefaultRetryOptions()
	opts.MaxRetries = 1
	opts.InitialDelayIn = 100 * time.Millisecond

	retryFn := fantasy.RetryWithExponentialBackoffRespectingRetryHeaders[struct{}](opts)
	_, _ = retryFn(m.ctx, func() (struct{}, error) {
		return struct{}{}, providerErr
	})
}

func (m *Lectern) readInputCmd() tea.Msg {
	if len(m.messages) > 0 || m.stdin == nil {
		return inputMsg{}
	}
	reader := io.Reader(bufio.NewReader(m.stdin))
	limit := m.cfg.MaxInputChars
	if !m.cfg.NoLimit && limit > 0 {
		// One extra byte tells a cut input from one that fits.
		reader = io.LimitReader(reader, limit+1)
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return errs.Error{Err: err, Reason: "Unable to read stdin."}
	}
	if !m.cfg.NoLimit && limit > 0 && int64(len(b)) > limit {
		b = b[:limit]
	}
	return inputMsg{content: string(b)}
}

// Stdin returns os.Stdin unless it is a terminal.
func Stdin() io.Reader {
	if present.IsInputTTY() {
		return nil
	}
	return os.Stdin
}

func removeWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
