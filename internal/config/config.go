// Package config loads lectern settings from the settings file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	_ "embed"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/lectern/internal/errs"
)

//go:embed config_template.yml
var configTemplate string

// EnvPrefix is the prefix of every environment variable read into Settings.
const EnvPrefix = "LECTERN_"

// Answer modes.
const (
	ModeAuto     = "auto"
	ModeStream   = "stream"
	ModeGenerate = "generate"
)

// Model represents the LLM model used in the API call.
type Model struct {
	Name           string
	API            string
	MaxChars       int64    `yaml:"max-input-chars"`
	Aliases        []string `yaml:"aliases"`
	Fallback       string   `yaml:"fallback"`
	ThinkingBudget int      `yaml:"thinking-budget,omitempty"`
	// Mode overrides the configured answer mode for this model.
	Mode string `yaml:"mode,omitempty"`
}

// API represents an API endpoint and its models.
type API struct {
	Name      string
	APIKey    string           `yaml:"api-key"`
	APIKeyEnv string           `yaml:"api-key-env"`
	APIKeyCmd string           `yaml:"api-key-cmd"`
	BaseURL   string           `yaml:"base-url"`
	Models    map[string]Model `yaml:"models"`
	User      string           `yaml:"user"`
}

// APIs keeps the order in which endpoints appear in the settings file.
type APIs []API

// UnmarshalYAML implements sorted API YAML decoding.
func (apis *APIs) UnmarshalYAML(node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		var api API
		if err := node.Content[i+1].Decode(&api); err != nil {
			return fmt.Errorf("error decoding YAML file: %w", err)
		}
		api.Name = node.Content[i].Value
		*apis = append(*apis, api)
	}
	return nil
}

// SearchConfig configures the web search and page retrieval tools.
type SearchConfig struct {
	Backend         string        `yaml:"backend" env:"BACKEND"`
	TavilyAPIKey    string        `yaml:"tavily-api-key" env:"TAVILY_API_KEY"`
	TavilyAPIKeyEnv string        `yaml:"tavily-api-key-env"`
	SearXNGURL      string        `yaml:"searxng-url" env:"SEARXNG_URL"`
	MaxResults      int           `yaml:"max-results" env:"MAX_RESULTS"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimit       float64       `yaml:"rate-limit" env:"RATE_LIMIT"`
	Burst           int           `yaml:"burst" env:"BURST"`
	BreakerFailures uint32        `yaml:"breaker-failures" env:"BREAKER_FAILURES"`
	BreakerTimeout  time.Duration `yaml:"breaker-timeout" env:"BREAKER_TIMEOUT"`
	Retrieve        bool          `yaml:"retrieve" env:"RETRIEVE"`
	ReaderURL       string        `yaml:"reader-url" env:"READER_URL"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Exporter string `yaml:"exporter" env:"EXPORTER"`
}

// MCPServerConfig holds configuration for an MCP server.
type MCPServerConfig struct {
	Type    string   `yaml:"type"`
	Command string   `yaml:"command"`
	Env     []string `yaml:"env"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// Settings holds persisted configuration loaded from the YAML settings file
// and environment variables.
type Settings struct {
	API             string        `yaml:"default-api" env:"API"`
	Model           string        `yaml:"default-model" env:"MODEL"`
	Mode            string        `yaml:"mode" env:"MODE"`
	MaxSteps        int           `yaml:"max-steps" env:"MAX_STEPS"`
	SkipInquiry     bool          `yaml:"skip-inquiry" env:"SKIP_INQUIRY"`
	ToolConcurrency int           `yaml:"tool-concurrency" env:"TOOL_CONCURRENCY"`
	RequestTimeout  time.Duration `yaml:"request-timeout" env:"REQUEST_TIMEOUT"`
	MaxRetries      int           `yaml:"max-retries" env:"MAX_RETRIES"`
	Raw             bool          `yaml:"raw" env:"RAW"`
	Quiet           bool          `yaml:"quiet" env:"QUIET"`
	MaxTokens       int64         `yaml:"max-tokens" env:"MAX_TOKENS"`
	MaxInputChars   int64         `yaml:"max-input-chars" env:"MAX_INPUT_CHARS"`
	NoLimit         bool          `yaml:"no-limit" env:"NO_LIMIT"`
	Temperature     float64       `yaml:"temp" env:"TEMP"`
	TopP            float64       `yaml:"topp" env:"TOPP"`
	TopK            int64         `yaml:"topk" env:"TOPK"`
	WordWrap        int           `yaml:"word-wrap" env:"WORD_WRAP"`
	Theme           string        `yaml:"theme" env:"THEME"`
	HTTPProxy       string        `yaml:"http-proxy" env:"HTTP_PROXY"`
	System          string        `yaml:"system" env:"SYSTEM"`
	User            string        `yaml:"user" env:"USER"`
	APIs            APIs          `yaml:"apis"`

	Search SearchConfig `yaml:"search" envPrefix:"SEARCH_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
	Trace  TraceConfig  `yaml:"trace" envPrefix:"TRACE_"`

	MCPServers      map[string]MCPServerConfig `yaml:"mcp-servers"`
	MCPDisable      []string                   `yaml:"mcp-disable" env:"MCP_DISABLE"`
	MCPTimeout      time.Duration              `yaml:"mcp-timeout" env:"MCP_TIMEOUT"`
	MCPNoInheritEnv bool                       `yaml:"mcp-no-inherit-env" env:"MCP_NO_INHERIT_ENV"`
}

// Runtime holds CLI/runtime-only options that are never read from the
// settings file.
type Runtime struct {
	ShowHelp      bool
	Version       bool
	ResetSettings bool
	EditSettings  bool
	Dirs          bool
	SettingsPath  string
	Prefix        string
	OpenEditor    bool
	ShowMessages  bool
	NoTUI         bool
	MCPList       bool
	MCPListTools  bool
}

// Config is the application configuration (settings + runtime-only options).
type Config struct {
	Settings `yaml:",inline"`
	Runtime  `yaml:"-" env:"-"`
}

// DefaultSettingsPath returns ~/.config/lectern/lectern.yml.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Error{Err: err, Reason: "Could not determine home directory."}
	}
	return filepath.Join(home, ".config", "lectern", "lectern.yml"), nil
}

// Ensure loads settings from the default path, creating the file from the
// template first when it does not exist.
func Ensure() (Config, error) {
	sp, err := DefaultSettingsPath()
	if err != nil {
		return Config{}, err
	}
	return Load(sp)
}

// Load reads settings from path and the environment and applies defaults.
func Load(path string) (Config, error) {
	c := Default()
	c.SettingsPath = path

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not create settings directory."}
	}
	if err := WriteConfigFile(path); err != nil {
		return c, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return c, errs.Error{Err: err, Reason: "Could not read settings file."}
	}
	if err := yaml.Unmarshal(content, &c); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse settings file."}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse environment into settings file."}
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.WordWrap == 0 {
		c.WordWrap = def.WordWrap
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MCPTimeout == 0 {
		c.MCPTimeout = def.MCPTimeout
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = def.Search.MaxResults
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = def.Search.Timeout
	}
	if c.Search.ReaderURL == "" {
		c.Search.ReaderURL = def.Search.ReaderURL
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeStream, ModeGenerate:
	default:
		return errs.Error{
			Err:    errs.UserErrorf("Valid modes are: %s, %s, %s", ModeAuto, ModeStream, ModeGenerate),
			Reason: fmt.Sprintf("Unknown answer mode %q.", c.Mode),
		}
	}
	switch c.Search.Backend {
	case "", "none", "tavily":
	case "searxng":
		if c.Search.SearXNGURL == "" {
			return errs.Error{
				Err:    errs.UserErrorf("Set search.searxng-url or %sSEARCH_SEARXNG_URL", EnvPrefix),
				Reason: "The searxng search backend needs an instance URL.",
			}
		}
	default:
		return errs.Error{
			Err:    errs.UserErrorf("Valid search backends are: tavily, searxng, none"),
			Reason: fmt.Sprintf("Unknown search backend %q.", c.Search.Backend),
		}
	}
	return nil
}

// WriteConfigFile creates the config file at path if it does not exist.
func WriteConfigFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createConfigFile(path)
	} else if err != nil {
		return errs.Error{Err: err, Reason: "Could not stat path."}
	}
	return nil
}

func createConfigFile(path string) error {
	tmpl := template.Must(template.New("config").Parse(configTemplate))

	f, err := os.Create(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not create configuration file."}
	}
	defer func() { _ = f.Close() }()

	m := struct{ Config Config }{Config: Default()}
	if err := tmpl.Execute(f, m); err != nil {
		return errs.Error{Err: err, Reason: "Could not render template."}
	}
	return nil
}

// Default returns the default configuration values.
func Default() Config {
	return Config{
		Settings: Settings{
			API:            "openai",
			Model:          "gpt-4o",
			Mode:           ModeAuto,
			MaxSteps:       5,  //nolint:mnd
			WordWrap:       80, //nolint:mnd
			Temperature:    -1,
			TopP:           -1,
			TopK:           -1,
			MaxInputChars:  12250, //nolint:mnd
			RequestTimeout: 5 * time.Minute,
			MaxRetries:     3, //nolint:mnd
			MCPTimeout:     15 * time.Second,
			Search: SearchConfig{
				Backend:         "tavily",
				MaxResults:      5, //nolint:mnd
				Timeout:         15 * time.Second,
				RateLimit:       2, //nolint:mnd
				Burst:           2, //nolint:mnd
				BreakerFailures: 5, //nolint:mnd
				BreakerTimeout:  30 * time.Second,
				Retrieve:        true,
				ReaderURL:       "https://r.jina.ai",
			},
			Log: LogConfig{
				Level:  "warn",
				Format: "text",
				Output: "stderr",
			},
			Trace: TraceConfig{
				Exporter: "stderr",
			},
		},
	}
}
