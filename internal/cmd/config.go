package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
	"github.com/dotcommander/lectern/internal/present"
)

func newConfigCmd(rt *runtime) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Editing works even when the settings did not parse.
			return editSettings(&rt.cfg)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open settings in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return editSettings(&rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset settings to defaults",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return resetSettings(&rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:       "dirs",
		Short:     "Print the settings directory and log file",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "log"},
		RunE: func(cmd *cobra.Command, args []string) error {
			printDirs(cmd.OutOrStdout(), &rt.cfg, args)
			return nil
		},
	})

	return configCmd
}

func editSettings(cfg *config.Config) error {
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	appName := filepath.Base(os.Args[0])
	c, err := editor.Cmd(appName, cfg.SettingsPath)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not edit your settings file."}
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return errs.Error{Err: err, Reason: fmt.Sprintf(
			"Missing %s.",
			present.StderrStyles().InlineCode.Render("$EDITOR"),
		)}
	}

	if !cfg.Quiet {
		present.PrintConfirmation(os.Stderr, present.StderrRenderer(), "wrote", cfg.SettingsPath)
	}
	return nil
}

func resetSettings(cfg *config.Config) error {
	if err := backupSettings(cfg.SettingsPath); err != nil {
		return err
	}
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't write new config file."}
	}

	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, "\nSettings restored to defaults!")
		fmt.Fprintf(
			os.Stderr,
			"\n  %s %s\n\n",
			present.StderrStyles().Comment.Render("Your old settings have been saved to:"),
			present.StderrStyles().Link.Render(cfg.SettingsPath+".bak"),
		)
	}
	return nil
}

// backupSettings moves the settings file at path to path.bak.
func backupSettings(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Couldn't open config file."}
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(path + ".bak")
	if err != nil {
		return errs.Error{Err: err, Reason: "Couldn't backup config file."}
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't write config file."}
	}
	if err := os.Remove(path); err != nil {
		return errs.Error{Err: err, Reason: "Couldn't remove config file."}
	}
	return nil
}

func printDirs(w io.Writer, cfg *config.Config, args []string) {
	logFile := ""
	switch cfg.Log.Output {
	case "", "stderr", "stdout":
	default:
		logFile = cfg.Log.Output
	}

	if len(args) > 0 {
		switch args[0] {
		case "config":
			_, _ = fmt.Fprintln(w, filepath.Dir(cfg.SettingsPath))
		case "log":
			_, _ = fmt.Fprintln(w, logFile)
		}
		return
	}

	_, _ = fmt.Fprintf(w, "Configuration: %s\n", filepath.Dir(cfg.SettingsPath))
	if logFile != "" {
		//nolint:mnd
		_, _ = fmt.Fprintf(w, "%*sLog: %s\n", 10, " ", logFile)
	}
}
