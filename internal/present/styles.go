package present

import "github.com/charmbracelet/lipgloss"

// Styles holds every lipgloss style used by the CLI and the TUI.
type Styles struct {
	AppName      lipgloss.Style
	CliArgs      lipgloss.Style
	Comment      lipgloss.Style
	ErrorHeader  lipgloss.Style
	ErrorDetails lipgloss.Style
	ErrPadding   lipgloss.Style
	Flag         lipgloss.Style
	FlagComma    lipgloss.Style
	FlagDesc     lipgloss.Style
	InlineCode   lipgloss.Style
	Link         lipgloss.Style
	Pipe         lipgloss.Style
	Quote        lipgloss.Style
	Muted        lipgloss.Style

	SectionTitle lipgloss.Style
	Spinner      lipgloss.Style
	Question     lipgloss.Style
	Option       lipgloss.Style
	Query        lipgloss.Style
	ResultTitle  lipgloss.Style
	ResultURL    lipgloss.Style
	Failure      lipgloss.Style
}

// MakeStyles builds the styles for r, adapting colors to its background.
func MakeStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		AppName:      r.NewStyle().Bold(true),
		CliArgs:      r.NewStyle().Foreground(lipgloss.Color("#585858")),
		Comment:      r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A8A8A8", Dark: "#757575"}),
		ErrorHeader:  r.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#FF5F87")).Bold(true).Padding(0, 1).SetString("ERROR"),
		ErrorDetails: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#A8A8A8"}),
		ErrPadding:   r.NewStyle().Padding(0, 2),
		Flag:         r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).Bold(true),
		FlagComma:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5DD6C0", Dark: "#427C72"}).SetString(","),
		FlagDesc:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5C5C5C", Dark: "#9A9A9A"}),
		InlineCode:   r.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Background(lipgloss.AdaptiveColor{Light: "#F4F4F4", Dark: "#3A3A3A"}).Padding(0, 1),
		Link:         r.NewStyle().Foreground(lipgloss.Color("#00AF87")).Underline(true),
		Pipe:         r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#745CFF"}),
		Quote:        r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF71D0", Dark: "#FF78D2"}),
		Muted:        r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A8A8A8", Dark: "#5C5C5C"}),

		SectionTitle: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B50FF", Dark: "#8F7BFF"}).Bold(true),
		Spinner:      r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#F967DC", Dark: "#F967DC"}),
		Question:     r.NewStyle().Bold(true),
		Option:       r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}),
		Query:        r.NewStyle().Italic(true),
		ResultTitle:  r.NewStyle().Bold(true),
		ResultURL:    r.NewStyle().Foreground(lipgloss.Color("#00AF87")),
		Failure:      r.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
	}
}
