package present

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/glamour"
)

const markdownTabWidth = 4

// RenderMarkdownForTTY renders markdown for terminal output.
func RenderMarkdownForTTY(input string, wordWrap int) (string, error) {
	m, err := newMarkdown(wordWrap)
	if err != nil {
		return "", err
	}
	out, err := m.render(input)
	if err != nil {
		return "", err
	}
	return out + "\n", nil
}

// markdown renders answer text, reusing the last result while the text is
// unchanged between frames.
type markdown struct {
	r    *glamour.TermRenderer
	in   string
	out  string
	done bool
}

func newMarkdown(wordWrap int) (*markdown, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithEnvironmentConfig(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return nil, fmt.Errorf("new markdown renderer: %w", err)
	}
	return &markdown{r: r}, nil
}

func (m *markdown) render(input string) (string, error) {
	if m.done && input == m.in {
		return m.out, nil
	}
	out, err := m.r.Render(input)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out = strings.TrimRightFunc(out, unicode.IsSpace)
	out = strings.ReplaceAll(out, "\t", strings.Repeat(" ", markdownTabWidth))
	m.in, m.out, m.done = input, out, true
	return out, nil
}
