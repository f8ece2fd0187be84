// Package mcp discovers and calls the tools of configured MCP servers so the
// researcher can use them next to web search.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
)

// Service lists and calls tools of the enabled MCP servers.
type Service struct {
	cfg *config.Config
}

// New returns a service over the servers in cfg.
func New(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// IsEnabled reports whether the server called name may be used.
func (s *Service) IsEnabled(name string) bool {
	for _, disabled := range s.cfg.MCPDisable {
		if disabled == "*" || disabled == name {
			return false
		}
	}
	return true
}

// EnabledServers yields enabled servers by name.
func (s *Service) EnabledServers() iter.Seq2[string, config.MCPServerConfig] {
	return func(yield func(string, config.MCPServerConfig) bool) {
		for _, name := range slices.Sorted(maps.Keys(s.cfg.MCPServers)) {
			if s.IsEnabled(name) && !yield(name, s.cfg.MCPServers[name]) {
				return
			}
		}
	}
}

// Tools lists the tools of every enabled server concurrently. Servers that
// fail are left out of the result and reported together in the error, so a
// single broken server does not hide the others.
func (s *Service) Tools(ctx context.Context) (map[string][]mcp.Tool, error) {
	var (
		mu       sync.Mutex
		g        errgroup.Group
		failures []error
	)
	byServer := map[string][]mcp.Tool{}
	for name, server := range s.EnabledServers() {
		g.Go(func() error {
			list, err := s.listTools(ctx, name, server)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			byServer[name] = list
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) > 0 {
		return byServer, errs.Wrap(errors.Join(failures...), "Could not list tools.")
	}
	return byServer, nil
}

func (s *Service) listTools(ctx context.Context, name string, server config.MCPServerConfig) ([]mcp.Tool, error) {
	cli, err := s.connect(ctx, server)
	if err != nil {
		return nil, serverError(name, err)
	}
	defer cli.Close() //nolint:errcheck

	res, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, serverError(name, err)
	}
	return res.Tools, nil
}

func serverError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: timed out; check the command or URL, and that any container it needs is running", name)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// CallTool runs the tool called fullName, which is the server name and the
// tool name joined by an underscore. data holds the JSON arguments.
func (s *Service) CallTool(ctx context.Context, fullName string, data []byte) (string, error) {
	name, tool, ok := s.splitToolName(fullName)
	if !ok {
		if !strings.Contains(fullName, "_") {
			return "", fmt.Errorf("mcp: invalid tool name: %q", fullName)
		}
		return "", fmt.Errorf("mcp: invalid server name in %q", fullName)
	}
	if !s.IsEnabled(name) {
		return "", fmt.Errorf("mcp: server is disabled: %q", name)
	}

	var args map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return "", fmt.Errorf("mcp: decode arguments for %s: %w", fullName, err)
		}
	}

	cli, err := s.connect(ctx, s.cfg.MCPServers[name])
	if err != nil {
		return "", fmt.Errorf("mcp: %w", serverError(name, err))
	}
	defer cli.Close() //nolint:errcheck

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp: call %s: %w", fullName, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// splitToolName matches the longest configured server name, so server names
// may contain underscores themselves.
func (s *Service) splitToolName(fullName string) (server, tool string, ok bool) {
	for name := range s.cfg.MCPServers {
		rest, found := strings.CutPrefix(fullName, name+"_")
		if found && rest != "" && len(name) > len(server) {
			server, tool, ok = name, rest, true
		}
	}
	return server, tool, ok
}

func contentText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch c := c.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", c.MIMEType))
		default:
			parts = append(parts, "[non-text content]")
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Service) connect(ctx context.Context, server config.MCPServerConfig) (*client.Client, error) {
	cli, err := newClient(s.cfg, server)
	if err != nil {
		return nil, err
	}
	if err := cli.Start(ctx); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("start client: %w", err)
	}
	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	return cli, nil
}

func newClient(cfg *config.Config, server config.MCPServerConfig) (*client.Client, error) {
	switch server.Type {
	case "", "stdio":
		env := server.Env
		if cfg != nil && !cfg.MCPNoInheritEnv {
			env = append(os.Environ(), server.Env...)
		}
		return client.NewStdioMCPClient(server.Command, env, server.Args...)
	case "sse":
		return client.NewSSEMCPClient(server.URL)
	case "http":
		return client.NewStreamableHttpClient(server.URL)
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %q, supported types are: stdio, sse, http", server.Type)
	}
}
