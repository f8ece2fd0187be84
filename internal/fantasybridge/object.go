package fantasybridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"charm.land/fantasy"

	"github.com/dotcommander/lectern/internal/partialjson"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream"
)

// StreamObject implements stream.Client. The model is offered a single tool
// whose input schema is the requested object schema and is required to call
// it; the tool input is surfaced as it streams.
func (c *Client) StreamObject(ctx context.Context, req proto.ObjectRequest) (stream.ObjectStream, error) {
	model, err := c.model(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	inner := req.Request
	inner.Tools = []proto.ToolSpec{{
		Name:        req.Name,
		Description: req.Description,
		Schema:      req.Schema,
	}}
	call := c.buildCall(inner)
	choice := fantasy.ToolChoiceRequired
	call.ToolChoice = &choice

	streamCtx, cancel := context.WithCancel(ctx)
	seq, err := model.Stream(streamCtx, call)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fantasy object stream: %w", err)
	}
	s := newObjectStream(newStream(streamCtx, cancel), req.Name)
	go s.parts.pump(seq)
	return s, nil
}

// ObjectStream is a stream.ObjectStream over the input of a forced tool call.
type ObjectStream struct {
	parts *Stream
	tool  string

	input   bytes.Buffer
	text    bytes.Buffer
	final   json.RawMessage
	last    json.RawMessage
	cur     json.RawMessage
	started bool
}

var _ stream.ObjectStream = &ObjectStream{}

func newObjectStream(s *Stream, tool string) *ObjectStream {
	return &ObjectStream{parts: s, tool: tool}
}

// Next implements stream.ObjectStream. It reports true each time the partial
// object changed.
func (o *ObjectStream) Next() bool {
	s := o.parts
	for {
		if s.err != nil {
			return false
		}
		part, ok := <-s.parts
		if !ok {
			if err := s.ctx.Err(); err != nil {
				s.err = err
			}
			return false
		}
		if o.consume(part) {
			return true
		}
	}
}

func (o *ObjectStream) consume(part fantasy.StreamPart) bool {
	switch part.Type {
	case fantasy.StreamPartTypeToolInputStart:
		o.started = true
		o.input.Reset()
		return false
	case fantasy.StreamPartTypeToolInputDelta:
		o.started = true
		o.input.WriteString(part.Delta)
		return o.emit(o.input.Bytes())
	case fantasy.StreamPartTypeToolCall:
		if part.ToolCallName != "" && part.ToolCallName != o.tool {
			return false
		}
		o.final = rawArgs(part.ToolCallInput)
		return o.emit(o.final)
	case fantasy.StreamPartTypeTextDelta:
		// Some providers ignore the forced tool and answer in text.
		if o.started {
			return false
		}
		o.text.WriteString(part.Delta)
		return o.emit(jsonStart(o.text.Bytes()))
	case fantasy.StreamPartTypeError:
		o.parts.err = part.Error
		if o.parts.err == nil {
			o.parts.err = errors.New("fantasy object stream: provider reported an error")
		}
		return false
	default:
		return false
	}
}

func (o *ObjectStream) emit(src []byte) bool {
	if len(src) == 0 {
		return false
	}
	doc, ok := partialjson.Complete(src)
	if !ok || bytes.Equal(doc, o.last) {
		return false
	}
	o.last = doc
	o.cur = doc
	return true
}

// Current implements stream.ObjectStream.
func (o *ObjectStream) Current() json.RawMessage { return o.cur }

// Object implements stream.ObjectStream.
func (o *ObjectStream) Object() (json.RawMessage, error) {
	if len(o.final) > 0 {
		if !json.Valid(o.final) {
			return nil, fmt.Errorf("tool %s returned invalid JSON", o.tool)
		}
		return o.final, nil
	}
	if len(o.last) > 0 {
		return o.last, nil
	}
	return nil, stream.ErrNoObject
}

// Err implements stream.ObjectStream.
func (o *ObjectStream) Err() error { return o.parts.err }

// Close implements stream.ObjectStream.
func (o *ObjectStream) Close() error { return o.parts.Close() }

// jsonStart drops anything before the first object brace, such as a code
// fence around a text answer.
func jsonStart(b []byte) []byte {
	i := bytes.IndexByte(b, '{')
	if i < 0 {
		return nil
	}
	return b[i:]
}
