package cmd

import (
	"io"
	"os"

	"github.com/dotcommander/lectern/internal/present"
)

// drainStdin consumes piped input so the writer on the other end of the pipe
// does not see a broken pipe.
func drainStdin() {
	if present.IsInputTTY() {
		return
	}
	_, _ = io.Copy(io.Discard, os.Stdin)
}
