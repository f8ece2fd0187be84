package cmd

import (
	"math/rand/v2"
	"regexp"

	"github.com/dotcommander/lectern/internal/present"
)

var examples = map[string]string{
	"Research a question":             `lectern "which Go HTTP router has the best middleware story?"`,
	"Research without follow-up":      `lectern -s "latest stable Go release and its headline features"`,
	"Ask about a file":                `cat go.mod | lectern "are any of these dependencies deprecated?"`,
	"Plain text for other tools":      `lectern -r "summarize today's Kubernetes release notes" | glow`,
	"Use a local model without tools": `lectern -m llama3 --search none "explain the CAP theorem"`,
}

func randomExample() string {
	keys := make([]string, 0, len(examples))
	for k := range examples {
		keys = append(keys, k)
	}
	return keys[rand.IntN(len(keys))] //nolint:gosec
}

var (
	quoteRe = regexp.MustCompile(`"([^"\\]|\\.)*"`)
	pipeRe  = regexp.MustCompile(`\|`)
)

func cheapHighlighting(s present.Styles, code string) string {
	code = quoteRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Quote.Render(x)
	})
	return pipeRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Pipe.Render(x)
	})
}
