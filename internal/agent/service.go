package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/go-shellwords"

	"github.com/dotcommander/lectern/internal/config"
	"github.com/dotcommander/lectern/internal/errs"
	"github.com/dotcommander/lectern/internal/fantasybridge"
	"github.com/dotcommander/lectern/internal/inquiry"
	"github.com/dotcommander/lectern/internal/logging"
	"github.com/dotcommander/lectern/internal/mcp"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
	"github.com/dotcommander/lectern/internal/tools"
	"github.com/dotcommander/lectern/internal/view"
)

// ClientFactory creates the model client for a resolved provider.
type ClientFactory func(fantasybridge.Config) (stream.Client, error)

// Service wires configuration, tools and the model client into research runs.
//
// It is UI-agnostic: everything it shows goes through a view.Surface.
type Service struct {
	cfg           *config.Config
	mcp           *mcp.Service
	logger        *slog.Logger
	clientFactory ClientFactory
}

// New creates an agent service. A nil mcpSvc uses the servers from cfg and a
// nil logger discards logs.
func New(cfg *config.Config, mcpSvc *mcp.Service, logger *slog.Logger, factory ...ClientFactory) *Service {
	if mcpSvc == nil {
		mcpSvc = mcp.New(cfg)
	}
	svc := &Service{
		cfg:           cfg,
		mcp:           mcpSvc,
		logger:        logging.OrDiscard(logger),
		clientFactory: NewFantasyClient,
	}
	if len(factory) > 0 && factory[0] != nil {
		svc.clientFactory = factory[0]
	}
	return svc
}

// AnswerOptions tune a single Answer call.
type AnswerOptions struct {
	// SkipInquiry goes straight to research.
	SkipInquiry bool
	// OnStep is called after every research step.
	OnStep func(StepEvent)
}

// Outcome is what an Answer call produced.
type Outcome struct {
	Model config.Model
	// Messages is the conversation as sent to the model.
	Messages []proto.Message
	// Inquiry is set when the run stopped to ask the user a question.
	Inquiry inquiry.Inquiry
	// Researched reports whether the researcher ran.
	Researched bool
	Result     Result
}

// Asked reports whether the run stopped at a clarifying question.
func (o Outcome) Asked() bool { return !o.Researched && o.Inquiry.NeedsAnswer() }

// Answer answers the conversation. Unless skipped, a clarifying question is
// generated first; if the model asks one, the run stops there and the caller
// is expected to call Answer again with the user's reply appended.
//
// The returned error covers setup only. Model failures during research are
// reported through Outcome.Result.Err.
func (s *Service) Answer(ctx context.Context, surface view.Surface, messages []proto.Message, opts AnswerOptions) (Outcome, error) {
	cfg := s.cfg

	api, mod, err := resolveModel(cfg)
	if err != nil {
		return Outcome{}, err
	}
	cfg.API = mod.API
	cfg.Model = mod.Name

	providerCfg, err := prepareProviderConfig(ctx, mod, api, cfg)
	if err != nil {
		return Outcome{}, err
	}
	if err := ApplyProxyConfig(cfg.HTTPProxy, &providerCfg); err != nil {
		return Outcome{}, err
	}
	client, err := s.clientFactory(providerCfg)
	if err != nil {
		return Outcome{}, err
	}

	if mod.MaxChars == 0 {
		mod.MaxChars = cfg.MaxInputChars
	}
	messages = s.prepareMessages(messages, mod)
	out := Outcome{Model: mod, Messages: messages}

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	if !opts.SkipInquiry && !cfg.SkipInquiry {
		gen := inquiry.NewGenerator(client, mod.Name, inquiry.WithLogger(s.logger))
		q, err := gen.Inquire(ctx, surface, messages)
		switch {
		case err != nil:
			s.logger.Warn("skipping clarifying question", "error", err)
		case q.NeedsAnswer():
			out.Inquiry = q
			return out, nil
		}
	}

	registry, err := s.Registry(ctx)
	if err != nil {
		return Outcome{}, err
	}

	ropts := []ResearcherOption{
		WithMaxSteps(cfg.MaxSteps),
		WithMode(resolveMode(cfg, mod)),
		WithParams(s.params()),
		WithResearchLogger(s.logger),
	}
	if cfg.System != "" {
		prompt, err := config.LoadPrompt(ctx, s.httpClient(), cfg.System)
		if err != nil {
			return Outcome{}, errs.Error{Err: err, Reason: "Could not load the system prompt."}
		}
		ropts = append(ropts, WithPrompt(prompt))
	}
	if opts.OnStep != nil {
		ropts = append(ropts, WithStepHook(opts.OnStep))
	}

	researcher := NewResearcher(client, registry, mod.Name, ropts...)
	out.Result = researcher.Research(ctx, surface, messages)
	out.Researched = true
	return out, nil
}

// Registry builds the tool registry from the configuration. MCP servers that
// fail to list their tools are skipped with a warning.
func (s *Service) Registry(ctx context.Context) (*tools.Registry, error) {
	cfg := s.cfg
	reg := tools.NewRegistry(s.logger)
	reg.SetConcurrency(cfg.ToolConcurrency)

	backend, err := s.searchBackend(ctx)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		guarded := tools.NewGuardedBackend(backend, tools.GuardConfig{
			RateLimit:       cfg.Search.RateLimit,
			Burst:           cfg.Search.Burst,
			BreakerFailures: cfg.Search.BreakerFailures,
			BreakerTimeout:  cfg.Search.BreakerTimeout,
		}, s.logger)
		if err := reg.Register(tools.NewSearchTool(guarded, cfg.Search.MaxResults)); err != nil {
			return nil, fmt.Errorf("register search tool: %w", err)
		}
	}

	if cfg.Search.Retrieve {
		if err := reg.Register(tools.NewRetrieveTool(cfg.Search.ReaderURL, s.httpClient())); err != nil {
			return nil, fmt.Errorf("register retrieve tool: %w", err)
		}
	}

	if len(cfg.MCPServers) > 0 {
		listCtx, cancel := context.WithTimeout(ctx, cfg.MCPTimeout)
		byServer, err := s.mcp.Tools(listCtx)
		cancel()
		if err != nil {
			s.logger.Warn("mcp tools unavailable", "error", err)
		}
		for _, tool := range tools.NewMCPTools(byServer, s.mcp, cfg.MCPTimeout) {
			if err := reg.Register(tool); err != nil {
				s.logger.Warn("skipping mcp tool", "tool", tool.Name(), "error", err)
			}
		}
	}

	s.logger.Debug("tool registry ready", "tools", reg.Names(), "kinds", reg.Kinds())
	return reg, nil
}

func (s *Service) searchBackend(ctx context.Context) (tools.SearchBackend, error) {
	search := s.cfg.Search
	switch search.Backend {
	case "none":
		return nil, nil
	case "searxng":
		return tools.NewSearXNGBackend(search.SearXNGURL, s.httpClient()), nil
	default:
		key, err := ensureKey(ctx, config.API{
			APIKey:    search.TavilyAPIKey,
			APIKeyEnv: search.TavilyAPIKeyEnv,
		}, "TAVILY_API_KEY", "https://app.tavily.com")
		if err != nil {
			return nil, errs.Error{Err: err, Reason: "Tavily search needs an API key; set search.backend to none to disable search."}
		}
		return tools.NewTavilyBackend(key, s.httpClient()), nil
	}
}

func (s *Service) httpClient() *http.Client {
	client := &http.Client{Timeout: s.cfg.Search.Timeout}
	var proxied fantasybridge.Config
	if err := ApplyProxyConfig(s.cfg.HTTPProxy, &proxied); err == nil && proxied.HTTPClient != nil {
		client.Transport = proxied.HTTPClient.Transport
	}
	return client
}

func (s *Service) params() Params {
	cfg := s.cfg
	p := Params{User: cfg.User}
	if cfg.Temperature >= 0 {
		v := cfg.Temperature
		p.Temperature = &v
	}
	if cfg.TopP >= 0 {
		v := cfg.TopP
		p.TopP = &v
	}
	if cfg.TopK >= 0 {
		v := cfg.TopK
		p.TopK = &v
	}
	if cfg.MaxTokens > 0 {
		v := cfg.MaxTokens
		p.MaxTokens = &v
	}
	return p
}

// prepareMessages prefixes the question, the first user message, and cuts
// the most recent user message to the model's input limit.
func (s *Service) prepareMessages(messages []proto.Message, mod config.Model) []proto.Message {
	cfg := s.cfg
	out := proto.Conversation(messages).Clone()
	first, last := -1, -1
	for i, msg := range out {
		if msg.Role != proto.RoleUser {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return out
	}
	if prefix := cfg.Prefix; prefix != "" {
		out[first].Content = strings.TrimSpace(prefix + "\n\n" + out[first].Content)
	}
	if prompt := out[last].Content; !cfg.NoLimit && mod.MaxChars > 0 && int64(len(prompt)) > mod.MaxChars {
		out[last].Content = cutAtRune(prompt, int(mod.MaxChars))
	}
	return out
}

// cutAtRune cuts s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// resolveMode picks the invocation mode. Auto selects generate for local
// ollama models, which stream tool calls unreliably.
func resolveMode(cfg *config.Config, mod config.Model) Mode {
	mode := cfg.Mode
	if mod.Mode != "" {
		mode = mod.Mode
	}
	switch mode {
	case config.ModeGenerate:
		return ModeGenerate
	case config.ModeStream:
		return ModeStream
	}
	if mod.API == "ollama" {
		return ModeGenerate
	}
	return ModeStream
}

func resolveModel(cfg *config.Config) (config.API, config.Model, error) {
	for _, api := range cfg.APIs {
		if api.Name != cfg.API && cfg.API != "" {
			continue
		}
		for name, mod := range api.Models {
			if name == cfg.Model || slices.Contains(mod.Aliases, cfg.Model) {
				cfg.Model = name
				break
			}
		}
		mod, ok := api.Models[cfg.Model]
		if ok {
			mod.Name = cfg.Model
			mod.API = api.Name
			return api, mod, nil
		}
		if cfg.API != "" {
			available := make([]string, 0, len(api.Models))
			for name := range api.Models {
				available = append(available, name)
			}
			slices.Sort(available)
			return config.API{}, config.Model{}, errs.Error{
				Err:    errs.UserErrorf("Available models are: %s", strings.Join(available, ", ")),
				Reason: fmt.Sprintf("The API endpoint %s does not contain the model %s", cfg.API, cfg.Model),
			}
		}
	}

	return config.API{}, config.Model{}, errs.Error{
		Reason: fmt.Sprintf("Model %s is not in the settings file.", cfg.Model),
		Err:    errs.UserErrorf("Please specify an API endpoint with --api or configure the model in the settings: lectern config edit"),
	}
}

func prepareProviderConfig(ctx context.Context, mod config.Model, api config.API, cfg *config.Config) (fantasybridge.Config, error) {
	keyed := func(env, docs, reason string) (fantasybridge.Config, error) {
		key, err := ensureKey(ctx, api, env, docs)
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: reason}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	}

	switch mod.API {
	case "openrouter":
		return keyed("OPENROUTER_API_KEY", "https://openrouter.ai/keys", "OpenRouter authentication failed")
	case "vercel":
		return keyed("VERCEL_API_KEY", "https://vercel.com/dashboard/tokens", "Vercel AI Gateway authentication failed")
	case "cohere":
		return keyed("COHERE_API_KEY", "https://dashboard.cohere.com/api-keys", "Cohere authentication failed")
	case "anthropic":
		return keyed("ANTHROPIC_API_KEY", "https://console.anthropic.com/settings/keys", "Anthropic authentication failed")
	case "bedrock":
		key, err := optionalKey(ctx, api)
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Bedrock authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "ollama":
		baseURL := api.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return fantasybridge.Config{API: mod.API, BaseURL: baseURL}, nil
	case "azure", "azure-ad":
		pc, err := keyed("AZURE_OPENAI_KEY", "https://aka.ms/oai/access", "Azure authentication failed")
		if err != nil {
			return pc, err
		}
		if mod.API == "azure-ad" {
			pc.API = "azure"
		}
		if api.User != "" {
			cfg.User = api.User
		}
		return pc, nil
	case "google":
		pc, err := keyed("GOOGLE_API_KEY", "https://aistudio.google.com/app/apikey", "Google authentication failed")
		if err != nil {
			return pc, err
		}
		pc.ThinkingBudget = mod.ThinkingBudget
		return pc, nil
	default:
		return keyed("OPENAI_API_KEY", "https://platform.openai.com/account/api-keys", "OpenAI authentication failed")
	}
}

// ApplyProxyConfig configures the provider HTTP client to use an HTTP proxy.
func ApplyProxyConfig(httpProxy string, providerCfg *fantasybridge.Config) error {
	if httpProxy == "" {
		return nil
	}
	proxyURL, err := url.Parse(httpProxy)
	if err != nil {
		return errs.Error{Err: err, Reason: "There was an error parsing your proxy URL."}
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return errs.Error{Err: errors.New("default transport is not *http.Transport"), Reason: "Could not configure proxy."}
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxyURL)
	tr.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second
	tr.IdleConnTimeout = 90 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second
	providerCfg.HTTPClient = &http.Client{Transport: tr}
	return nil
}

// NewFantasyClient creates the fantasy bridge client.
func NewFantasyClient(cfg fantasybridge.Config) (stream.Client, error) {
	if cfg.API == "" {
		return nil, errs.Error{Reason: "missing fantasy provider configuration"}
	}
	client, err := fantasybridge.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("new fantasy bridge client: %w", err)
	}
	return client, nil
}

func ensureKey(ctx context.Context, api config.API, defaultEnv, docsURL string) (string, error) {
	key, err := optionalKey(ctx, api)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = os.Getenv(defaultEnv)
	}
	if key != "" {
		return key, nil
	}
	return "", errs.Error{
		Reason: fmt.Sprintf("%s required; set %s or update lectern.yml through lectern config edit.", defaultEnv, defaultEnv),
		Err:    errs.UserErrorf("You can grab one at %s", docsURL),
	}
}

func optionalKey(ctx context.Context, api config.API) (string, error) {
	key := api.APIKey
	if key == "" && api.APIKeyEnv != "" && api.APIKeyCmd == "" {
		key = os.Getenv(api.APIKeyEnv)
	}
	if key == "" && api.APIKeyCmd != "" {
		args, err := shellwords.Parse(api.APIKeyCmd)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Failed to parse api-key-cmd"}
		}
		if len(args) == 0 {
			return "", errs.Error{Reason: "api-key-cmd is empty"}
		}
		// #nosec G204 -- api-key-cmd is explicitly configured by the local user.
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Cannot exec api-key-cmd"}
		}
		key = strings.TrimSpace(string(out))
	}
	return key, nil
}
