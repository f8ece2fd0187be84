package present

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownForTTY(t *testing.T) {
	out, err := RenderMarkdownForTTY("hello\tworld\n", 80)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out, "\n"))
	require.NotContains(t, out, "\t")
}

func TestMarkdownReusesLastRender(t *testing.T) {
	md, err := newMarkdown(40)
	require.NoError(t, err)

	first, err := md.render("# Sources")
	require.NoError(t, err)
	require.Contains(t, first, "Sources")
	require.Equal(t, "# Sources", md.in)

	again, err := md.render("# Sources")
	require.NoError(t, err)
	require.Equal(t, first, again)

	next, err := md.render("# Sources\n\n- one")
	require.NoError(t, err)
	require.Contains(t, next, "one")
	require.Equal(t, next, md.out)
}
