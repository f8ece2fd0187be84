package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAPIsKeepOrder(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
apis:
  zeta:
    base-url: http://z
  alpha:
    models:
      m:
        aliases: [x]
`), &cfg))
	require.Len(t, cfg.APIs, 2)
	require.Equal(t, "zeta", cfg.APIs[0].Name)
	require.Equal(t, "http://z", cfg.APIs[0].BaseURL)
	require.Equal(t, "alpha", cfg.APIs[1].Name)
	require.Equal(t, []string{"x"}, cfg.APIs[1].Models["m"].Aliases)
}

func TestLoadCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern", "lectern.yml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	def := Default()
	require.Equal(t, path, cfg.SettingsPath)
	require.Equal(t, def.Model, cfg.Model)
	require.Equal(t, def.MaxSteps, cfg.MaxSteps)
	require.Equal(t, def.Search.Backend, cfg.Search.Backend)
	require.Equal(t, def.Search.BreakerTimeout, cfg.Search.BreakerTimeout)
	require.Equal(t, def.MCPTimeout, cfg.MCPTimeout)
	require.InDelta(t, -1.0, cfg.Temperature, 0.0001)
	require.NotEmpty(t, cfg.APIs)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.yml")
	require.NoError(t, os.WriteFile(path, []byte("default-model: gpt-4o\nmax-steps: 3\n"), 0o600))

	t.Setenv("LECTERN_MODEL", "sonnet")
	t.Setenv("LECTERN_MAX_STEPS", "7")
	t.Setenv("LECTERN_SEARCH_BACKEND", "none")
	t.Setenv("LECTERN_LOG_LEVEL", "debug")
	t.Setenv("LECTERN_MCP_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sonnet", cfg.Model)
	require.Equal(t, 7, cfg.MaxSteps)
	require.Equal(t, "none", cfg.Search.Backend)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 2*time.Second, cfg.MCPTimeout)
}

func TestLoadDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.yml")
	require.NoError(t, os.WriteFile(path, []byte("max-steps: 0\nword-wrap: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxSteps)
	require.Equal(t, 80, cfg.WordWrap)
	require.Equal(t, ModeAuto, cfg.Mode)
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"defaults":            {mutate: func(*Config) {}},
		"bad mode":            {mutate: func(c *Config) { c.Mode = "batch" }, wantErr: true},
		"searxng without url": {mutate: func(c *Config) { c.Search.Backend = "searxng" }, wantErr: true},
		"searxng with url": {mutate: func(c *Config) {
			c.Search.Backend = "searxng"
			c.Search.SearXNGURL = "http://localhost:8888"
		}},
		"unknown backend": {mutate: func(c *Config) { c.Search.Backend = "bing" }, wantErr: true},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
