package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	maxRemotePromptBytes = 2 << 20
	maxErrorBodyBytes    = 8 << 10
)

// LoadPrompt resolves the researcher's system prompt. src is either the prompt
// itself, an http(s) URL, or a file:// path. Markdown files lose their YAML
// frontmatter. A nil client means http.DefaultClient.
func LoadPrompt(ctx context.Context, client *http.Client, src string) (string, error) {
	switch {
	case strings.HasPrefix(src, "https://"), strings.HasPrefix(src, "http://"):
		if client == nil {
			client = http.DefaultClient
		}
		return fetchPrompt(ctx, client, src)
	case strings.HasPrefix(src, "file://"):
		return readPromptFile(strings.TrimPrefix(src, "file://"))
	default:
		return src, nil
	}
}

func fetchPrompt(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch prompt: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch prompt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("fetch prompt: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemotePromptBytes+1))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	if len(body) > maxRemotePromptBytes {
		return "", fmt.Errorf("read prompt: larger than %d bytes", maxRemotePromptBytes)
	}
	return string(body), nil
}

func readPromptFile(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".md") {
		return string(body), nil
	}
	return StripYAMLFrontmatter(string(body))
}

// StripYAMLFrontmatter drops a leading "---" delimited YAML block. The block
// must be valid YAML.
func StripYAMLFrontmatter(content string) (string, error) {
	first, rest, found := strings.Cut(content, "\n")
	if !found || strings.TrimSpace(first) != "---" {
		return content, nil
	}

	var front []string
	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "---" {
			front = append(front, line)
			continue
		}
		var parsed map[string]any
		if err := yaml.Unmarshal([]byte(strings.Join(front, "\n")), &parsed); err != nil {
			return "", fmt.Errorf("invalid markdown frontmatter: %w", err)
		}
		return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\r\n"), nil
	}
	return "", fmt.Errorf("invalid markdown frontmatter: missing closing delimiter")
}
