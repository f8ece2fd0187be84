package present

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// terminal lazily probes one standard stream.
type terminal struct {
	tty      func() bool
	renderer func() *lipgloss.Renderer
	styles   func() Styles
}

func newTerminal(f *os.File, renderer func() *lipgloss.Renderer) terminal {
	renderer = sync.OnceValue(renderer)
	return terminal{
		tty:      sync.OnceValue(func() bool { return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) }),
		renderer: renderer,
		styles:   sync.OnceValue(func() Styles { return MakeStyles(renderer()) }),
	}
}

var (
	stdin  = newTerminal(os.Stdin, lipgloss.DefaultRenderer)
	stdout = newTerminal(os.Stdout, lipgloss.DefaultRenderer)
	stderr = newTerminal(os.Stderr, func() *lipgloss.Renderer {
		return lipgloss.NewRenderer(os.Stderr, termenv.WithColorCache(true))
	})
)

// IsInputTTY reports whether stdin is a terminal.
func IsInputTTY() bool { return stdin.tty() }

// IsOutputTTY reports whether stdout is a terminal.
func IsOutputTTY() bool { return stdout.tty() }

// IsErrorTTY reports whether stderr is a terminal. Progress is drawn there.
func IsErrorTTY() bool { return stderr.tty() }

// StdoutRenderer returns the lipgloss renderer for stdout.
func StdoutRenderer() *lipgloss.Renderer { return stdout.renderer() }

// StdoutStyles returns styles for stdout.
func StdoutStyles() Styles { return stdout.styles() }

// StderrRenderer returns the lipgloss renderer for stderr.
func StderrRenderer() *lipgloss.Renderer { return stderr.renderer() }

// StderrStyles returns styles for stderr.
func StderrStyles() Styles { return stderr.styles() }
