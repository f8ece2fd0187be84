// Command lectern researches a question on the web with a language model and
// prints a sourced answer.
package main

import (
	"github.com/dotcommander/lectern/internal/cmd"
	"github.com/dotcommander/lectern/internal/config"
)

// Set with -ldflags "-X main.Version=... -X main.CommitSHA=...".
var (
	Version   string
	CommitSHA string
)

func main() {
	cfg, cfgErr := config.Ensure()
	cmd.Execute(cmd.BuildInfo{Version: Version, CommitSHA: CommitSHA}, cfg, cfgErr)
}
