package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/lectern/internal/present"
)

func useLine() string {
	appName := filepath.Base(os.Args[0])
	styles := present.StdoutStyles()

	if present.StdoutRenderer().ColorProfile() == termenv.TrueColor {
		appName = present.MakeGradientText(styles.AppName, appName)
	}

	return fmt.Sprintf(
		"%s %s",
		appName,
		styles.CliArgs.Render("[OPTIONS] [QUESTION]"),
	)
}

func usageFunc(cmd *cobra.Command) error {
	writeUsage(cmd.OutOrStdout(), cmd, present.StdoutStyles())
	return nil
}

func writeUsage(w io.Writer, cmd *cobra.Command, styles present.Styles) {
	_, _ = fmt.Fprintf(w, "Usage:\n  %s\n\n", useLine())
	_, _ = fmt.Fprintln(w, "Options:")
	cmd.Flags().VisitAll(func(f *flag.Flag) {
		if f.Hidden {
			return
		}
		if f.Shorthand == "" {
			_, _ = fmt.Fprintf(w,
				"  %-44s %s\n",
				styles.Flag.Render("--"+f.Name),
				styles.FlagDesc.Render(f.Usage),
			)
			return
		}
		_, _ = fmt.Fprintf(w,
			"  %s%s %-40s %s\n",
			styles.Flag.Render("-"+f.Shorthand),
			styles.FlagComma,
			styles.Flag.Render("--"+f.Name),
			styles.FlagDesc.Render(f.Usage),
		)
	})
	if cmds := cmd.Commands(); len(cmds) > 0 {
		_, _ = fmt.Fprintln(w, "\nCommands:")
		for _, c := range cmds {
			if c.Hidden || !c.IsAvailableCommand() {
				continue
			}
			_, _ = fmt.Fprintf(w, "  %-12s %s\n", c.Name(), styles.FlagDesc.Render(c.Short))
		}
	}
	if cmd.HasExample() {
		_, _ = fmt.Fprintf(w,
			"\nExample:\n  %s\n  %s\n",
			styles.Comment.Render("# "+cmd.Example),
			cheapHighlighting(styles, examples[cmd.Example]),
		)
	}
}
