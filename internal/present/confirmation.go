package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const defaultAction = "WROTE"

// PrintConfirmation writes a short action badge followed by content, such as
// the path of a file that was just written.
func PrintConfirmation(w io.Writer, r *lipgloss.Renderer, action, content string) {
	if action == "" {
		action = defaultAction
	}
	badge := r.NewStyle().
		Foreground(lipgloss.Color("#F1F1F1")).
		Background(lipgloss.Color("#6C50FF")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1).
		Render(strings.ToUpper(action))
	_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Center, badge, content))
}
