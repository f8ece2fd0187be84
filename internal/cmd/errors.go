package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/lectern/internal/errs"
	"github.com/dotcommander/lectern/internal/present"
)

func handleError(err error) {
	maybeWriteMemProfile()
	drainStdin()
	writeError(os.Stderr, present.StderrStyles(), err)
}

func writeError(w io.Writer, styles present.Styles, err error) {
	format := "\n%s\n\n"

	var ferr flagParseError
	if errors.As(err, &ferr) {
		_, _ = fmt.Fprintf(w, format+"%s\n\n",
			fmt.Sprintf(
				"Check out %s %s",
				styles.InlineCode.Render("lectern -h"),
				styles.Comment.Render("for help."),
			),
			ferr.Reason(styles.InlineCode.Render),
		)
		return
	}

	var merr errs.Error
	if errors.As(err, &merr) {
		args := []any{styles.ErrPadding.Render(styles.ErrorHeader.String(), merr.Reason)}
		if merr.Err != nil && !errors.Is(merr.Err, huh.ErrUserAborted) {
			format += "%s\n\n"
			args = append(args, styles.ErrPadding.Render(styles.ErrorDetails.Render(err.Error())))
		}
		_, _ = fmt.Fprintf(w, format, args...)
		return
	}

	_, _ = fmt.Fprintf(w, format, styles.ErrPadding.Render(styles.ErrorDetails.Render(err.Error())))
}
