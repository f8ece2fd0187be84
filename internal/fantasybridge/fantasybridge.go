package fantasybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"charm.land/fantasy"

	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
)

var _ stream.Client = &Client{}

const (
	apiAnthropic = "anthropic"
	apiGoogle    = "google"
	apiOpenAI    = "openai"
	apiAzure     = "azure"
	apiAzureAD   = "azure-ad"
)

// partBuffer is the capacity of the channel between the provider iterator and
// the consumer.
const partBuffer = 64

// Config represents provider configuration used by the fantasy bridge.
type Config struct {
	API            string
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	ThinkingBudget int
}

// Client is a stream.Client backed by charm.land/fantasy.
type Client struct {
	provider fantasy.Provider
	config   Config
}

// New creates a new Fantasy-backed client.
func New(cfg Config) (*Client, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{provider: provider, config: cfg}, nil
}

func (c *Client) model(ctx context.Context, name string) (fantasy.LanguageModel, error) {
	model, err := c.provider.LanguageModel(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fantasy language model: %w", err)
	}
	return model, nil
}

func (c *Client) buildCall(req proto.Request) fantasy.Call {
	call := fantasy.Call{
		Prompt:          toFantasyPrompt(req.System, req.Messages),
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		Tools:           toFantasyTools(req.Tools),
		ProviderOptions: fantasy.ProviderOptions{},
	}
	if len(call.Tools) > 0 {
		choice := fantasy.ToolChoiceAuto
		call.ToolChoice = &choice
	}
	applyProviderOptions(&call, c.config.API, c.config, req)
	return call
}

// Stream implements stream.Client. It runs a single model step.
func (c *Client) Stream(ctx context.Context, req proto.Request) (stream.Stream, error) {
	model, err := c.model(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	seq, err := model.Stream(streamCtx, c.buildCall(req))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fantasy stream: %w", err)
	}
	s := newStream(streamCtx, cancel)
	go s.pump(seq)
	return s, nil
}

// Generate implements stream.Client.
func (c *Client) Generate(ctx context.Context, req proto.Request) (proto.Response, error) {
	model, err := c.model(ctx, req.Model)
	if err != nil {
		return proto.Response{}, err
	}
	resp, err := model.Generate(ctx, c.buildCall(req))
	if err != nil {
		return proto.Response{}, fmt.Errorf("fantasy generate: %w", err)
	}
	out := proto.Response{Text: resp.Content.Text()}
	seen := map[string]struct{}{}
	for _, call := range resp.Content.ToolCalls() {
		if call.ProviderExecuted {
			continue
		}
		if _, ok := seen[call.ToolCallID]; ok {
			continue
		}
		seen[call.ToolCallID] = struct{}{}
		out.ToolCalls = append(out.ToolCalls, proto.ToolCall{
			ID:   call.ToolCallID,
			Name: call.ToolName,
			Args: rawArgs(call.Input),
		})
	}
	return out, nil
}

// Stream is a stream.Stream backed by fantasy stream parts.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	parts  chan fantasy.StreamPart

	pending []stream.Event
	cur     stream.Event
	err     error

	callSeen    map[string]struct{}
	warningSeen map[string]struct{}
}

var _ stream.Stream = &Stream{}

func newStream(ctx context.Context, cancel context.CancelFunc) *Stream {
	return &Stream{
		ctx:         ctx,
		cancel:      cancel,
		parts:       make(chan fantasy.StreamPart, partBuffer),
		callSeen:    map[string]struct{}{},
		warningSeen: map[string]struct{}{},
	}
}

func (s *Stream) pump(seq func(func(fantasy.StreamPart) bool)) {
	defer close(s.parts)
	for part := range seq {
		select {
		case <-s.ctx.Done():
			return
		case s.parts <- part:
		}
	}
}

// Next implements stream.Stream.
func (s *Stream) Next() bool {
	for {
		if s.err != nil {
			return false
		}
		if len(s.pending) > 0 {
			s.cur = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		part, ok := <-s.parts
		if !ok {
			if err := s.ctx.Err(); err != nil {
				s.err = err
			}
			return false
		}
		s.consume(part)
	}
}

// Current implements stream.Stream.
func (s *Stream) Current() stream.Event { return s.cur }

// Err implements stream.Stream.
func (s *Stream) Err() error { return s.err }

// Close implements stream.Stream.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

func (s *Stream) consume(part fantasy.StreamPart) {
	switch part.Type {
	case fantasy.StreamPartTypeTextDelta:
		if part.Delta != "" {
			s.pending = append(s.pending, stream.Event{Type: stream.EventTextDelta, Delta: part.Delta})
		}
	case fantasy.StreamPartTypeToolCall:
		if part.ProviderExecuted {
			return
		}
		if _, exists := s.callSeen[part.ID]; exists {
			return
		}
		s.callSeen[part.ID] = struct{}{}
		s.pending = append(s.pending, stream.Event{
			Type: stream.EventToolCall,
			ToolCall: proto.ToolCall{
				ID:   part.ID,
				Name: part.ToolCallName,
				Args: rawArgs(part.ToolCallInput),
			},
		})
	case fantasy.StreamPartTypeError:
		s.err = part.Error
		if s.err == nil {
			s.err = errors.New("fantasy stream: provider reported an error")
		}
	case fantasy.StreamPartTypeWarnings:
		for _, text := range s.warnings(part.Warnings) {
			s.pending = append(s.pending, stream.Event{Type: stream.EventWarning, Warning: text})
		}
	case fantasy.StreamPartTypeFinish:
		s.pending = append(s.pending, stream.Event{
			Type:         stream.EventFinish,
			FinishReason: string(part.FinishReason),
		})
	case fantasy.StreamPartTypeTextStart,
		fantasy.StreamPartTypeTextEnd,
		fantasy.StreamPartTypeReasoningStart,
		fantasy.StreamPartTypeReasoningDelta,
		fantasy.StreamPartTypeReasoningEnd,
		fantasy.StreamPartTypeToolInputStart,
		fantasy.StreamPartTypeToolInputDelta,
		fantasy.StreamPartTypeToolInputEnd,
		fantasy.StreamPartTypeToolResult,
		fantasy.StreamPartTypeSource:
		return
	default:
		return
	}
}

// warnings returns the messages of ws not seen before on this stream.
func (s *Stream) warnings(ws []fantasy.CallWarning) []string {
	var out []string
	for _, warning := range ws {
		text := strings.TrimSpace(warning.Message)
		if text == "" {
			text = strings.TrimSpace(warning.Details)
		}
		if text == "" && warning.Setting != "" {
			text = fmt.Sprintf("unsupported setting: %s", warning.Setting)
		}
		if text == "" {
			text = "provider warning"
		}
		key := string(warning.Type) + ":" + text
		if _, exists := s.warningSeen[key]; exists {
			continue
		}
		s.warningSeen[key] = struct{}{}
		out = append(out, text)
	}
	return out
}

func rawArgs(input string) json.RawMessage {
	input = strings.TrimSpace(input)
	if input == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(input)
}
