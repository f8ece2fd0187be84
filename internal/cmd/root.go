package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	glamour "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lectern/internal/agent"
	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
	"github.com/dotcommander/lectern/internal/inquiry"
	"github.com/dotcommander/lectern/internal/logging"
	"github.com/dotcommander/lectern/internal/present"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/tracer"
	"github.com/dotcommander/lectern/internal/tui"
	"github.com/dotcommander/lectern/internal/view"
)

type runtime struct {
	build  BuildInfo
	cfg    config.Config
	cfgErr error
}

// NewRootCmd constructs the cobra root command.
func NewRootCmd(build BuildInfo, cfg config.Config, cfgErr error) *cobra.Command {
	// XXX: unset error styles in Glamour dark and light styles.
	glamour.DarkStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)
	glamour.LightStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)

	rt := &runtime{build: normalizeBuildInfo(build), cfg: cfg, cfgErr: cfgErr}

	rootCmd := &cobra.Command{
		Use:           "lectern",
		Short:         "Research questions on the web with an LLM, from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       randomExample(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return rt.run(cmd, args)
		},
	}

	rootCmd.SetUsageFunc(usageFunc)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newFlagParseError(err)
	})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.Version = rt.build.Version
	rootCmd.SetVersionTemplate(versionTemplate(rt.build))

	initRootFlags(rootCmd, &rt.cfg)

	rootCmd.AddCommand(newConfigCmd(rt))
	rootCmd.AddCommand(newMCPCmd(rt))
	rootCmd.AddCommand(newManCmd(rootCmd))

	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

func (rt *runtime) run(cmd *cobra.Command, args []string) error {
	cfg := &rt.cfg
	cfg.Prefix = removeWhitespace(strings.Join(args, " "))

	// Settings can be repaired even when they do not parse.
	switch {
	case cfg.EditSettings:
		drainStdin()
		return editSettings(cfg)
	case cfg.ResetSettings:
		drainStdin()
		return resetSettings(cfg)
	case cfg.Dirs:
		drainStdin()
		printDirs(cmd.OutOrStdout(), cfg, args)
		return nil
	}
	if rt.cfgErr != nil {
		return rt.cfgErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch {
	case cfg.ShowHelp:
		drainStdin()
		return cmd.Usage()
	case cfg.MCPList:
		drainStdin()
		mcpList(cmd.OutOrStdout(), cfg)
		return nil
	case cfg.MCPListTools:
		drainStdin()
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.MCPTimeout)
		defer cancel()
		return mcpListTools(ctx, cmd.OutOrStdout(), cfg)
	}

	if os.Getenv("VIMRUNTIME") != "" {
		cfg.Quiet = true
	}
	if isNoArgs(cfg) && present.IsInputTTY() {
		if !cfg.OpenEditor {
			return errs.Error{
				Reason: "You haven't provided a question.",
				Err: errs.UserErrorf(
					"Give the question as arguments, pipe it from STDIN or use %s.\nExample: %s",
					present.StderrStyles().InlineCode.Render("--editor"),
					present.StderrStyles().InlineCode.Render("lectern [question]"),
				),
			}
		}
		prompt, err := prefixFromEditor("lectern")
		if err != nil {
			return errs.Error{Err: err, Reason: "Could not read the question from your editor."}
		}
		cfg.Prefix = removeWhitespace(prompt)
	}

	return rt.answer(cmd.Context(), cmd.OutOrStdout())
}

func (rt *runtime) answer(ctx context.Context, w io.Writer) error {
	cfg := &rt.cfg

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not open the log output."}
	}
	defer func() { _ = closeLog() }()

	shutdown, err := tracer.Setup(ctx, cfg.Trace)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not set up tracing."}
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	svc := agent.New(cfg, nil, logger)
	opts := agent.AnswerOptions{
		// Clarifying questions need a terminal to answer them on.
		SkipInquiry: !present.IsInputTTY(),
	}

	var messages []proto.Message
	for {
		turn, err := rt.turn(ctx, svc, messages, opts)
		if err != nil {
			return err
		}
		if turn.Outcome.Asked() {
			reply, err := askInquiry(cfg, turn.Outcome.Inquiry)
			if err != nil {
				return err
			}
			messages = withReply(turn.Messages(), turn.Outcome.Inquiry, reply)
			opts.SkipInquiry = true
			continue
		}
		if len(turn.Messages()) == 0 {
			return errs.Error{
				Reason: "You haven't provided a question.",
				Err:    errs.UserErrorf("Give the question as arguments and/or pipe it from STDIN."),
			}
		}
		if !turn.Outcome.Researched {
			// Quit before the answer started.
			return nil
		}
		return rt.print(w, turn)
	}
}

// turn runs one Answer call inside the terminal UI. Progress goes to stderr,
// so it is only drawn when stderr is a terminal.
func (rt *runtime) turn(ctx context.Context, svc tui.Answerer, messages []proto.Message, opts agent.AnswerOptions) (*tui.Lectern, error) {
	cfg := &rt.cfg
	progress := present.IsErrorTTY() && !cfg.Raw && !cfg.NoTUI

	var renderer *present.Renderer
	if progress {
		r, err := present.NewRenderer(present.StderrStyles(), cfg.WordWrap)
		if err != nil {
			return nil, errs.Error{Err: err, Reason: "Could not set up the markdown renderer."}
		}
		renderer = r
	} else {
		renderer = present.PlainRenderer(io.Discard)
	}

	var teaOpts []tea.ProgramOption
	if !present.IsInputTTY() || cfg.Raw {
		teaOpts = append(teaOpts, tea.WithInput(nil))
	}
	if progress {
		teaOpts = append(teaOpts, tea.WithOutput(os.Stderr))
	} else {
		teaOpts = append(teaOpts, tea.WithoutRenderer())
	}

	modelOpts := []tui.Option{tui.WithAnswerOptions(opts)}
	if len(messages) > 0 {
		modelOpts = append(modelOpts, tui.WithMessages(messages))
	} else {
		modelOpts = append(modelOpts, tui.WithStdin(tui.Stdin()))
	}

	m := tui.New(ctx, present.StderrRenderer(), renderer, cfg, svc, modelOpts...)
	res, err := tea.NewProgram(m, teaOpts...).Run()
	if err != nil {
		return nil, errs.Error{Err: err, Reason: "Couldn't start Bubble Tea program."}
	}
	m = res.(*tui.Lectern)
	if m.Error != nil {
		return nil, *m.Error
	}
	return m, nil
}

func (rt *runtime) print(w io.Writer, turn *tui.Lectern) error {
	cfg := &rt.cfg
	out := turn.Outcome

	if present.IsOutputTTY() && !cfg.Raw {
		r, err := present.NewRenderer(present.StdoutStyles(), cfg.WordWrap)
		if err != nil {
			return errs.Error{Err: err, Reason: "Could not set up the markdown renderer."}
		}
		_, _ = fmt.Fprintln(w, r.Render(answerSections(turn.Sections()), ""))
	} else {
		_, _ = fmt.Fprintln(w, out.Result.Text)
	}

	if cfg.ShowMessages {
		conv := append(proto.Conversation(out.Messages).Clone(), proto.Message{
			Role:    proto.RoleAssistant,
			Content: out.Result.Text,
		})
		text := conv.String()
		if present.IsOutputTTY() && !cfg.Raw {
			if formatted, err := present.RenderMarkdownForTTY(text, cfg.WordWrap); err == nil {
				text = formatted
			}
		}
		_, _ = fmt.Fprint(w, text)
	}
	return nil
}

// answerSections drops progress placeholders from what is printed once the
// run is over.
func answerSections(sections []view.Section) []view.Section {
	out := make([]view.Section, 0, len(sections))
	for _, s := range sections {
		if _, ok := s.(view.Spinner); ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// withReply appends the clarifying question and the user's reply to the
// conversation.
func withReply(messages []proto.Message, q inquiry.Inquiry, reply string) []proto.Message {
	out := proto.Conversation(messages).Clone()
	if reply == "" {
		return out
	}
	return append(out,
		proto.Message{Role: proto.RoleAssistant, Content: q.Question},
		proto.Message{Role: proto.RoleUser, Content: reply},
	)
}

// askInquiry puts a clarifying question to the user. An empty reply means
// the question was skipped.
func askInquiry(cfg *config.Config, q inquiry.Inquiry) (string, error) {
	var (
		selected []string
		input    string
		fields   []huh.Field
	)
	if len(q.Options) > 0 {
		options := make([]huh.Option[string], 0, len(q.Options))
		for _, opt := range q.Options {
			options = append(options, huh.NewOption(opt.Label, opt.Value))
		}
		fields = append(fields, huh.NewMultiSelect[string]().
			Title(q.Question).
			Options(options...).
			Value(&selected))
	}
	if q.AllowsInput || len(q.Options) == 0 {
		title := q.InputLabel
		if title == "" {
			title = q.Question
		}
		fields = append(fields, huh.NewInput().
			Title(title).
			Placeholder(q.InputPlaceholder).
			Value(&input))
	}

	err := huh.NewForm(huh.NewGroup(fields...)).
		WithTheme(themeFrom(cfg.Theme)).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", errs.Error{Err: err, Reason: "User canceled."}
	}
	if err != nil {
		return "", errs.Error{Err: err, Reason: "Prompt failed."}
	}
	return q.Answer(selected, input), nil
}

func prefixFromEditor(appName string) (string, error) {
	f, err := os.CreateTemp("", "question-*.md")
	if err != nil {
		return "", fmt.Errorf("could not create temporary file: %w", err)
	}
	_ = f.Close()
	defer func() { _ = os.Remove(f.Name()) }()

	c, err := editor.Cmd(appName, f.Name())
	if err != nil {
		return "", fmt.Errorf("could not open editor: %w", err)
	}
	c.Stdin = os.Stdin
	c.Stderr = os.Stderr
	c.Stdout = os.Stdout
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("could not open editor: %w", err)
	}
	prompt, err := os.ReadFile(f.Name())
	if err != nil {
		return "", fmt.Errorf("could not read file: %w", err)
	}
	return string(prompt), nil
}

func removeWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func themeFrom(theme string) *huh.Theme {
	switch theme {
	case "dracula":
		return huh.ThemeDracula()
	case "catppuccin":
		return huh.ThemeCatppuccin()
	case "base16":
		return huh.ThemeBase16()
	default:
		return huh.ThemeCharm()
	}
}
