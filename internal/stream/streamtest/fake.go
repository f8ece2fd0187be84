// Package streamtest provides a scripted stream.Client for tests.
package streamtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
)

// Step scripts the outcome of a single Stream or Generate call on a Fake.
type Step struct {
	Events []stream.Event
	// Err is returned after all Events were consumed.
	Err error
	// StartErr makes the call itself fail.
	StartErr error
}

// ObjectScript scripts a StreamObject call on a Fake.
type ObjectScript struct {
	Partials []json.RawMessage
	Final    json.RawMessage
	Err      error
	StartErr error
}

// Fake is a scripted stream.Client for tests. Steps are consumed in order; calls
// past the end of the script return an empty step.
type Fake struct {
	mu       sync.Mutex
	Steps    []Step
	Objects  []ObjectScript
	Requests []proto.Request
	// Block, when set, makes every stream wait for ctx before yielding.
	Block bool
}

var _ stream.Client = &Fake{}

func (f *Fake) next(req proto.Request) Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.Steps) == 0 {
		return Step{}
	}
	step := f.Steps[0]
	f.Steps = f.Steps[1:]
	return step
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []proto.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.Request(nil), f.Requests...)
}

// Stream implements stream.Client.
func (f *Fake) Stream(ctx context.Context, req proto.Request) (stream.Stream, error) {
	step := f.next(req)
	if step.StartErr != nil {
		return nil, step.StartErr
	}
	return &fakeStream{ctx: ctx, step: step, idx: -1, block: f.Block}, nil
}

// Generate implements stream.Client.
func (f *Fake) Generate(_ context.Context, req proto.Request) (proto.Response, error) {
	step := f.next(req)
	if step.StartErr != nil {
		return proto.Response{}, step.StartErr
	}
	var resp proto.Response
	for _, ev := range step.Events {
		switch ev.Type {
		case stream.EventTextDelta:
			resp.Text += ev.Delta
		case stream.EventToolCall:
			resp.ToolCalls = append(resp.ToolCalls, ev.ToolCall)
		case stream.EventWarning, stream.EventFinish:
		}
	}
	return resp, step.Err
}

// StreamObject implements stream.Client.
func (f *Fake) StreamObject(ctx context.Context, req proto.ObjectRequest) (stream.ObjectStream, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req.Request)
	var script ObjectScript
	if len(f.Objects) > 0 {
		script = f.Objects[0]
		f.Objects = f.Objects[1:]
	}
	f.mu.Unlock()
	if script.StartErr != nil {
		return nil, script.StartErr
	}
	return &fakeObjectStream{ctx: ctx, script: script, idx: -1}, nil
}

type fakeStream struct {
	ctx   context.Context
	step  Step
	idx   int
	err   error
	block bool
}

func (s *fakeStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.block {
		<-s.ctx.Done()
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.idx++
	if s.idx >= len(s.step.Events) {
		s.err = s.step.Err
		return false
	}
	return true
}

func (s *fakeStream) Current() stream.Event { return s.step.Events[s.idx] }
func (s *fakeStream) Err() error            { return s.err }
func (s *fakeStream) Close() error          { return nil }

type fakeObjectStream struct {
	ctx    context.Context
	script ObjectScript
	idx    int
	err    error
}

func (s *fakeObjectStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.idx++
	if s.idx >= len(s.script.Partials) {
		s.err = s.script.Err
		return false
	}
	return true
}

func (s *fakeObjectStream) Current() json.RawMessage { return s.script.Partials[s.idx] }

func (s *fakeObjectStream) Object() (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.script.Final) > 0 {
		return s.script.Final, nil
	}
	if n := len(s.script.Partials); n > 0 {
		return s.script.Partials[n-1], nil
	}
	return nil, stream.ErrNoObject
}

func (s *fakeObjectStream) Err() error   { return s.err }
func (s *fakeObjectStream) Close() error { return nil }

// Text is a text-delta event.
func Text(delta string) stream.Event {
	return stream.Event{Type: stream.EventTextDelta, Delta: delta}
}

// Call is a tool-call event.
func Call(id, name, args string) stream.Event {
	return stream.Event{
		Type:     stream.EventToolCall,
		ToolCall: proto.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)},
	}
}
