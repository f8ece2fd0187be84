package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/dotcommander/lectern/internal/agent"
	"github.com/dotcommander/lectern/internal/inquiry"
	"github.com/dotcommander/lectern/internal/tools"
	"github.com/dotcommander/lectern/internal/view"
)

const (
	defaultFrame    = "•"
	resultIndent    = "  "
	maxShownResults = 5
)

// Renderer turns transcript sections into terminal text.
type Renderer struct {
	styles Styles
	md     *markdown
}

// NewRenderer returns a renderer drawing with styles. Answers are rendered as
// markdown wrapped at wordWrap columns; a wordWrap of zero keeps them as
// plain text.
func NewRenderer(styles Styles, wordWrap int) (*Renderer, error) {
	r := &Renderer{styles: styles}
	if wordWrap > 0 {
		md, err := newMarkdown(wordWrap)
		if err != nil {
			return nil, err
		}
		r.md = md
	}
	return r, nil
}

// PlainRenderer returns a renderer without colors or markdown, suitable for
// pipes and files.
func PlainRenderer(w io.Writer) *Renderer {
	lr := lipgloss.NewRenderer(w)
	lr.SetColorProfile(termenv.Ascii)
	return &Renderer{styles: MakeStyles(lr)}
}

// Render draws sections top to bottom. frame is the current spinner frame
// drawn next to work in progress.
func (r *Renderer) Render(sections []view.Section, frame string) string {
	if frame == "" {
		frame = defaultFrame
	}
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		if out := r.section(s, frame); out != "" {
			blocks = append(blocks, out)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (r *Renderer) section(s view.Section, frame string) string {
	switch s := s.(type) {
	case view.Spinner:
		return r.styles.Spinner.Render(frame) + " " + r.styles.Muted.Render(s.Label)
	case view.Note:
		return s.Text
	case inquiry.Section:
		return r.inquiry(s)
	case tools.SearchSection:
		return r.search(s, frame)
	case agent.AnswerSection:
		return r.answer(s)
	default:
		return ""
	}
}

func (r *Renderer) inquiry(s inquiry.Section) string {
	snap := s.Inquiry.Snapshot()
	q := snap.Value
	if q.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(r.styles.Question.Render(q.Question))
	for _, opt := range q.Options {
		label := opt.Label
		if label == "" {
			label = opt.Value
		}
		fmt.Fprintf(&b, "\n%s%s %s", resultIndent, r.styles.Option.Render("○"), label)
	}
	if q.AllowsInput {
		label := q.InputLabel
		if label == "" {
			label = "Other"
		}
		fmt.Fprintf(&b, "\n%s%s %s", resultIndent, r.styles.Option.Render(">"), label)
		if q.InputPlaceholder != "" {
			b.WriteString(" " + r.styles.Muted.Render(q.InputPlaceholder))
		}
	}
	return b.String()
}

func (r *Renderer) search(s tools.SearchSection, frame string) string {
	snap := s.State.Snapshot()
	st := snap.Value

	var b strings.Builder
	b.WriteString(r.styles.SectionTitle.Render(toolTitle(s.Kind)))
	if st.Query != "" {
		b.WriteString(" " + r.styles.Query.Render(st.Query))
	}
	switch {
	case !snap.Done:
		b.WriteString(" " + r.styles.Spinner.Render(frame))
	case st.Err != "":
		b.WriteString("\n" + resultIndent + r.styles.Failure.Render(st.Err))
	case len(st.Results.Results) == 0:
		b.WriteString("\n" + resultIndent + r.styles.Muted.Render("No results."))
	default:
		results := st.Results.Results
		for i, res := range results {
			if i == maxShownResults {
				fmt.Fprintf(&b, "\n%s%s", resultIndent, r.styles.Muted.Render(fmt.Sprintf("and %d more", len(results)-i)))
				break
			}
			title := res.Title
			if title == "" {
				title = res.URL
			}
			fmt.Fprintf(&b, "\n%s%s %s", resultIndent, r.styles.ResultTitle.Render(title), r.styles.ResultURL.Render(res.URL))
		}
	}
	return b.String()
}

// toolTitle names the work a tool section shows.
func toolTitle(kind tools.Kind) string {
	switch kind {
	case tools.KindSearch:
		return "Searching"
	case tools.KindRetrieve:
		return "Retrieving"
	default:
		return "Running " + string(kind)
	}
}

func (r *Renderer) answer(s agent.AnswerSection) string {
	text := s.Text.Snapshot().Value
	if text == "" {
		return ""
	}
	if r.md == nil {
		return text
	}
	out, err := r.md.render(text)
	if err != nil {
		return text
	}
	return out
}
