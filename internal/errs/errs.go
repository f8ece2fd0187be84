// Package errs carries user-facing reasons alongside technical errors.
package errs

import (
	"errors"
	"fmt"
)

// UserErrorf is a user-facing error. It keeps linters quiet about errors that
// start with a capital letter.
func UserErrorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// Error wraps an underlying error with a short, actionable reason. When Err is
// nil, Error() falls back to Reason.
type Error struct {
	Err    error
	Reason string
}

// Wrap creates an Error with the given underlying error and reason.
func Wrap(err error, reason string) Error {
	return Error{Err: err, Reason: reason}
}

// Wrapf creates an Error with the given underlying error and a formatted reason.
func Wrapf(err error, format string, a ...any) Error {
	return Error{Err: err, Reason: fmt.Sprintf(format, a...)}
}

func (e Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (e Error) Unwrap() error {
	return e.Err
}

// From returns the first Error in err's chain, or wraps err with fallback as
// the reason when there is none. From(nil, ...) is nil.
func From(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var e Error
	if errors.As(err, &e) {
		if e.Reason == "" {
			e.Reason = fallback
		}
		return &e
	}
	return &Error{Err: err, Reason: fallback}
}
