package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"charm.land/fantasy"

	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
)

// StreamErrorAction tells the caller whether a failed research run is worth
// another attempt, and with which prompt and model.
type StreamErrorAction struct {
	Retry         bool
	Prompt        string
	ModelOverride string
	Err           errs.Error
}

// ActionForStreamError classifies the error behind a degraded research result.
// prompt is the latest user message; it may come back shortened when the
// provider rejected the input as too long.
func (s *Service) ActionForStreamError(err error, mod config.Model, prompt string) StreamErrorAction {
	var providerErr *fantasy.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return s.actionForProviderError(providerErr, mod, prompt)
	case errors.Is(err, context.Canceled):
		return giveUp(err, "Research was canceled.")
	case errors.Is(err, context.DeadlineExceeded):
		return giveUp(err, fmt.Sprintf("The research did not finish within %s.", s.cfg.RequestTimeout))
	default:
		return giveUp(err, fmt.Sprintf("There was a problem with the %s API request.", mod.API))
	}
}

func (s *Service) actionForProviderError(err *fantasy.ProviderError, mod config.Model, prompt string) StreamErrorAction {
	switch {
	case err.StatusCode == http.StatusNotFound && mod.Fallback != "":
		action := retry(err, prompt, statusReason(err, mod.API+" API server error."))
		action.ModelOverride = mod.Fallback
		return action

	case err.StatusCode == http.StatusNotFound:
		return giveUp(err, fmt.Sprintf("Missing model '%s' for API '%s'.", mod.Name, mod.API))

	case err.StatusCode == http.StatusUnauthorized, err.StatusCode == http.StatusForbidden:
		return giveUp(err, fmt.Sprintf("The %s API rejected the credentials.", mod.API))

	case err.StatusCode == http.StatusBadRequest && isContextLengthExceeded(err):
		if s.cfg.NoLimit {
			return giveUp(err, "Maximum prompt size exceeded.")
		}
		return retry(err, cutPrompt(err.Error(), prompt), "Maximum prompt size exceeded.")

	case err.StatusCode == http.StatusBadRequest:
		return giveUp(err, statusReason(err, mod.API+" API request error."))

	case err.IsRetryable():
		return retry(err, prompt, statusReason(err, "Retryable API error."))

	default:
		return giveUp(err, statusReason(err, mod.API+" API request error."))
	}
}

func retry(err error, prompt, reason string) StreamErrorAction {
	return StreamErrorAction{Retry: true, Prompt: prompt, Err: errs.Error{Err: err, Reason: reason}}
}

func giveUp(err error, reason string) StreamErrorAction {
	return StreamErrorAction{Err: errs.Error{Err: err, Reason: reason}}
}

func statusReason(err *fantasy.ProviderError, fallback string) string {
	if reason := fantasy.ErrorTitleForStatusCode(err.StatusCode); reason != "" {
		return reason
	}
	return fallback
}

func isContextLengthExceeded(err *fantasy.ProviderError) bool {
	const code = "context_length_exceeded"
	return strings.Contains(strings.ToLower(err.Message), code) ||
		strings.Contains(strings.ToLower(string(err.ResponseBody)), code)
}

var tokenErrRe = regexp.MustCompile(`This model's maximum context length is (\d+) tokens. However, your messages resulted in (\d+) tokens`)

// charsPerToken is a rough estimate; cutMargin covers its error.
const (
	charsPerToken = 4
	cutMargin     = 10
)

// cutPrompt shortens prompt by the number of tokens the provider reported as
// over the limit. Prompts are returned unchanged when msg carries no usable
// token counts.
func cutPrompt(msg, prompt string) string {
	found := tokenErrRe.FindStringSubmatch(msg)
	if len(found) != 3 { //nolint:mnd
		return prompt
	}
	limit, _ := strconv.Atoi(found[1])
	used, _ := strconv.Atoi(found[2])
	if limit > used {
		return prompt
	}

	runes := []rune(prompt)
	over := cutMargin + (used-limit)*charsPerToken
	if len(runes) <= over {
		return prompt
	}
	return string(runes[:len(runes)-over])
}
