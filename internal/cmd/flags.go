package cmd

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/present"
)

var helpText = map[string]string{
	"api":             "OpenAI compatible REST API (openai, localai, anthropic, ...)",
	"model":           "Default model (gpt-4o, claude-sonnet-4-5, ...)",
	"http-proxy":      "HTTP proxy to use for API requests",
	"raw":             "Print the answer as plain text, without markdown or progress",
	"quiet":           "Quiet mode (hide the spinner and success messages on stderr)",
	"help":            "Show help and exit",
	"version":         "Show version and exit",
	"max-retries":     "Maximum number of times to retry a failed answer",
	"no-limit":        "Turn off the client-side limit on the size of the input",
	"max-tokens":      "Maximum number of tokens in each model response",
	"word-wrap":       "Wrap formatted output at specific width (default is 80)",
	"temp":            "Temperature (randomness) of results, from 0.0 to 2.0, -1.0 to disable",
	"topp":            "TopP, an alternative to temperature that narrows response, from 0.0 to 1.0, -1.0 to disable",
	"topk":            "TopK, only sample from the top K options for each subsequent token, -1 to disable",
	"theme":           "Theme to use in the forms; valid choices are charm, catppuccin, dracula, and base16",
	"editor":          "Write the question in your $EDITOR",
	"skip-inquiry":    "Never ask a clarifying question before researching",
	"max-steps":       "Maximum number of model steps per answer",
	"mode":            "How to call the model: auto, stream or generate",
	"search":          "Web search backend: tavily, searxng or none",
	"request-timeout": "Give up on an answer after this long (0 disables)",
	"show-messages":   "Print the conversation sent to the model after the answer",
	"no-tui":          "Do not show progress while researching",
	"log-level":       "Log level: debug, info, warn or error",
	"settings":        "Open settings in your $EDITOR",
	"reset-settings":  "Backup your old settings file and reset everything to the defaults",
	"dirs":            "Print the directories in which lectern stores its data",
	"mcp-list":        "List all available MCP servers",
	"mcp-list-tools":  "List all available tools from enabled MCP servers",
	"mcp-disable":     "Disable specific MCP servers",
}

func flagDesc(name string) string {
	return present.StdoutStyles().FlagDesc.Render(helpText[name])
}

func initRootFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.StringVarP(&cfg.Model, "model", "m", cfg.Model, flagDesc("model"))
	flags.StringVarP(&cfg.API, "api", "a", cfg.API, flagDesc("api"))
	flags.StringVarP(&cfg.HTTPProxy, "http-proxy", "x", cfg.HTTPProxy, flagDesc("http-proxy"))
	flags.BoolVarP(&cfg.Raw, "raw", "r", cfg.Raw, flagDesc("raw"))
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, flagDesc("quiet"))
	flags.BoolVarP(&cfg.OpenEditor, "editor", "e", false, flagDesc("editor"))
	flags.BoolVarP(&cfg.SkipInquiry, "skip-inquiry", "s", cfg.SkipInquiry, flagDesc("skip-inquiry"))
	flags.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, flagDesc("max-steps"))
	flags.StringVar(&cfg.Mode, "mode", cfg.Mode, flagDesc("mode"))
	flags.StringVar(&cfg.Search.Backend, "search", cfg.Search.Backend, flagDesc("search"))
	flags.BoolVar(&cfg.ShowMessages, "show-messages", false, flagDesc("show-messages"))
	flags.BoolVar(&cfg.NoTUI, "no-tui", false, flagDesc("no-tui"))
	flags.BoolVarP(&cfg.ShowHelp, "help", "h", false, flagDesc("help"))
	flags.BoolVarP(&cfg.Version, "version", "v", false, flagDesc("version"))
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, flagDesc("max-retries"))
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, flagDesc("request-timeout"))
	flags.BoolVar(&cfg.NoLimit, "no-limit", cfg.NoLimit, flagDesc("no-limit"))
	flags.Int64Var(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, flagDesc("max-tokens"))
	flags.IntVar(&cfg.WordWrap, "word-wrap", cfg.WordWrap, flagDesc("word-wrap"))
	flags.Float64Var(&cfg.Temperature, "temp", cfg.Temperature, flagDesc("temp"))
	flags.Float64Var(&cfg.TopP, "topp", cfg.TopP, flagDesc("topp"))
	flags.Int64Var(&cfg.TopK, "topk", cfg.TopK, flagDesc("topk"))
	flags.StringVar(&cfg.Theme, "theme", "charm", flagDesc("theme"))
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, flagDesc("log-level"))
	flags.BoolVar(&cfg.EditSettings, "settings", false, flagDesc("settings"))
	flags.BoolVar(&cfg.ResetSettings, "reset-settings", false, flagDesc("reset-settings"))
	flags.BoolVar(&cfg.Dirs, "dirs", false, flagDesc("dirs"))
	flags.BoolVar(&cfg.MCPList, "mcp-list", false, flagDesc("mcp-list"))
	flags.BoolVar(&cfg.MCPListTools, "mcp-list-tools", false, flagDesc("mcp-list-tools"))
	flags.StringArrayVar(&cfg.MCPDisable, "mcp-disable", nil, flagDesc("mcp-disable"))
	flags.SortFlags = false

	flags.BoolVar(&memprofile, "memprofile", false, "Write memory profiles to CWD")
	_ = flags.MarkHidden("memprofile")

	_ = cmd.RegisterFlagCompletionFunc("mode", cobra.FixedCompletions(
		[]string{config.ModeAuto, config.ModeStream, config.ModeGenerate}, cobra.ShellCompDirectiveNoFileComp,
	))
	_ = cmd.RegisterFlagCompletionFunc("search", cobra.FixedCompletions(
		[]string{"tavily", "searxng", "none"}, cobra.ShellCompDirectiveNoFileComp,
	))
	_ = cmd.RegisterFlagCompletionFunc("theme", cobra.FixedCompletions(
		[]string{"charm", "catppuccin", "dracula", "base16"}, cobra.ShellCompDirectiveNoFileComp,
	))

	cmd.MarkFlagsMutuallyExclusive(
		"settings",
		"reset-settings",
		"dirs",
		"mcp-list",
		"mcp-list-tools",
	)
}

var (
	invalidArgRe = regexp.MustCompile(`^invalid argument ".*" for "(.*)" flag:`)
	needsArgRe   = regexp.MustCompile(`^flag needs an argument: (?:'(\w)' in )?(-{1,2}[\w-]+|\w)$`)
)

// flagParseError is a cobra flag error rewritten for humans.
type flagParseError struct {
	err    error
	reason string
	flag   string
}

func newFlagParseError(err error) flagParseError {
	s := err.Error()
	fe := flagParseError{err: err, reason: s}
	switch {
	case strings.HasPrefix(s, "unknown flag: "):
		fe.reason = "Flag %s is missing."
		fe.flag = strings.TrimPrefix(s, "unknown flag: ")
	case strings.HasPrefix(s, "unknown shorthand flag: "):
		fe.reason = "Short flag %s is missing."
		if i := strings.LastIndex(s, " in "); i >= 0 {
			fe.flag = s[i+len(" in "):]
		}
	case strings.HasPrefix(s, "flag needs an argument: "):
		fe.reason = "Flag %s needs an argument."
		if m := needsArgRe.FindStringSubmatch(s); m != nil {
			fe.flag = m[2]
			if !strings.HasPrefix(fe.flag, "-") {
				fe.flag = "-" + fe.flag
			}
		}
	case strings.HasPrefix(s, "invalid argument "):
		fe.reason = "Flag %s have an invalid argument."
		if m := invalidArgRe.FindStringSubmatch(s); m != nil {
			fe.flag = m[1]
		}
	}
	return fe
}

func (f flagParseError) Error() string {
	return f.err.Error()
}

func (f flagParseError) ReasonFormat() string {
	return f.reason
}

func (f flagParseError) Flag() string {
	return f.flag
}

// Reason renders the reason with the flag highlighted by style.
func (f flagParseError) Reason(style func(...string) string) string {
	if f.flag == "" {
		return f.reason
	}
	return fmt.Sprintf(f.reason, style(f.flag))
}
