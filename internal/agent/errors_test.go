package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/config"
)

var cutPromptTests = map[string]struct {
	msg      string
	prompt   string
	expected string
}{
	"bad error": {
		msg:      "nope",
		prompt:   "the prompt",
		expected: "the prompt",
	},
	"crazy error": {
		msg:      tokenErrMsg(10, 93),
		prompt:   "the prompt",
		expected: "the prompt",
	},
	"cut prompt": {
		msg:      tokenErrMsg(10, 3),
		prompt:   "this is a long prompt I have no idea if its really 10 tokens",
		expected: "this is a long prompt ",
	},
	"multibyte prompt": {
		msg:      tokenErrMsg(10, 3),
		prompt:   strings.Repeat("é", 40),
		expected: "éé",
	},
	"missmatch of token estimation vs api result": {
		msg:      tokenErrMsg(30000, 100),
		prompt:   "tell me a joke",
		expected: "tell me a joke",
	},
}

func tokenErrMsg(l, ml int) string {
	return fmt.Sprintf(
		`This model's maximum context length is %d tokens. However, your messages resulted in %d tokens`,
		ml,
		l,
	)
}

func TestCutPrompt(t *testing.T) {
	for name, tc := range cutPromptTests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, cutPrompt(tc.msg, tc.prompt))
		})
	}
}

func TestActionForStreamError(t *testing.T) {
	svc := New(&config.Config{Settings: config.Settings{RequestTimeout: time.Minute}}, nil, nil)
	mod := config.Model{Name: "gpt-4o", API: "openai", Fallback: "gpt-4o-mini"}

	t.Run("missing model falls back", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: http.StatusNotFound, Message: "no such model"}, mod, "q")
		require.True(t, action.Retry)
		require.Equal(t, "gpt-4o-mini", action.ModelOverride)
		require.Equal(t, "q", action.Prompt)
	})

	t.Run("missing model without fallback", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: http.StatusNotFound}, config.Model{API: "openai"}, "q")
		require.False(t, action.Retry)
		require.Contains(t, action.Err.Reason, "Missing model")
	})

	t.Run("bad credentials are not retried", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: http.StatusUnauthorized}, mod, "q")
		require.False(t, action.Retry)
		require.Contains(t, action.Err.Reason, "credentials")
	})

	t.Run("context length cuts the prompt", func(t *testing.T) {
		prompt := "this is a long prompt I have no idea if its really 10 tokens"
		action := svc.ActionForStreamError(&fantasy.ProviderError{
			StatusCode: http.StatusBadRequest,
			Message:    "context_length_exceeded: " + tokenErrMsg(10, 3),
		}, mod, prompt)
		require.True(t, action.Retry)
		require.Equal(t, "this is a long prompt ", action.Prompt)
	})

	t.Run("canceled is not retried", func(t *testing.T) {
		action := svc.ActionForStreamError(fmt.Errorf("step 0: %w", context.Canceled), mod, "q")
		require.False(t, action.Retry)
		require.Equal(t, "Research was canceled.", action.Err.Reason)
	})

	t.Run("timeout names the limit", func(t *testing.T) {
		action := svc.ActionForStreamError(context.DeadlineExceeded, mod, "q")
		require.False(t, action.Retry)
		require.Contains(t, action.Err.Reason, "1m0s")
	})

	t.Run("other errors", func(t *testing.T) {
		action := svc.ActionForStreamError(errors.New("eof"), mod, "q")
		require.False(t, action.Retry)
		require.Contains(t, action.Err.Reason, "openai")
	})
}
