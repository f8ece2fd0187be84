package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	mmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lectern/internal/config"
	imcp "github.com/dotcommander/lectern/internal/mcp"
	"github.com/dotcommander/lectern/internal/present"
)

func newMCPCmd(rt *runtime) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP servers offered to the researcher as tools",
	}

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			mcpList(cmd.OutOrStdout(), &rt.cfg)
			return nil
		},
	})

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List tools from enabled MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.MCPTimeout)
			defer cancel()
			return mcpListTools(ctx, cmd.OutOrStdout(), &rt.cfg)
		},
	})

	return mcpCmd
}

func mcpList(w io.Writer, cfg *config.Config) {
	svc := imcp.New(cfg)
	muted := present.StdoutStyles().Muted
	for _, name := range slices.Sorted(maps.Keys(cfg.MCPServers)) {
		s := name
		if svc.IsEnabled(name) {
			s += muted.Render(" (enabled)")
		}
		_, _ = fmt.Fprintln(w, s)
	}
}

func mcpListTools(ctx context.Context, w io.Writer, cfg *config.Config) error {
	servers, err := imcp.New(cfg).Tools(ctx)

	muted := present.StdoutStyles().Muted
	for _, server := range slices.Sorted(maps.Keys(servers)) {
		tools := servers[server]
		slices.SortFunc(tools, func(a, b mmcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		for _, tool := range tools {
			_, _ = fmt.Fprintf(w, "%s%s\n", muted.Render(server+" > "), tool.Name)
		}
	}
	if err != nil {
		return fmt.Errorf("mcp list tools: %w", err)
	}
	return nil
}
