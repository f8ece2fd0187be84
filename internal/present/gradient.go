package present

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

// Ends of the title gradient.
const (
	gradientFrom = "#F4A261"
	gradientTo   = "#2A9D8F"
)

// MakeGradientRamp blends n colors from one hex color to the other in Luv
// space. Invalid hex colors blend from black.
func MakeGradientRamp(from, to string, n int) []lipgloss.Color {
	start, _ := colorful.Hex(from)
	end, _ := colorful.Hex(to)
	ramp := make([]lipgloss.Color, n)
	for i := range ramp {
		ramp[i] = lipgloss.Color(start.BlendLuv(end, float64(i)/float64(n)).Hex())
	}
	return ramp
}

// MakeGradientText colors each rune of str along the title gradient. Very
// short strings are returned as they are.
func MakeGradientText(base lipgloss.Style, str string) string {
	const minRunes = 3
	runes := []rune(str)
	if len(runes) < minRunes {
		return str
	}
	var b strings.Builder
	for i, c := range MakeGradientRamp(gradientFrom, gradientTo, len(runes)) {
		b.WriteString(base.Foreground(c).Render(string(runes[i])))
	}
	return b.String()
}
