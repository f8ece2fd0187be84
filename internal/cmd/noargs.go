package cmd

import "github.com/dotcommander/lectern/internal/config"

// isNoArgs reports whether nothing but plain options was given: no question
// and no action flag.
func isNoArgs(cfg *config.Config) bool {
	return cfg.Prefix == "" &&
		!cfg.ShowHelp &&
		!cfg.MCPList &&
		!cfg.MCPListTools &&
		!cfg.Dirs &&
		!cfg.EditSettings &&
		!cfg.ResetSettings
}
