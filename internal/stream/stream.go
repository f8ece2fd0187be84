// Package stream defines the model invocation interfaces used by the agent.
package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dotcommander/lectern/internal/proto"
)

// ErrNoObject is returned by ObjectStream.Object when the model produced
// nothing that could be decoded.
var ErrNoObject = errors.New("no object generated")

// EventType tags the variant held by an Event.
type EventType int

// Event types.
const (
	EventTextDelta EventType = iota
	EventToolCall
	EventWarning
	EventFinish
)

func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text-delta"
	case EventToolCall:
		return "tool-call"
	case EventWarning:
		return "warning"
	case EventFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Event is a single item of a step stream. Only the field matching Type is
// set.
type Event struct {
	Type         EventType
	Delta        string
	ToolCall     proto.ToolCall
	Warning      string
	FinishReason string
}

// Stream iterates the events of one model step.
type Stream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// ObjectStream iterates partial objects of a structured generation.
type ObjectStream interface {
	Next() bool
	// Current returns the latest partial object as JSON.
	Current() json.RawMessage
	// Object returns the final object once Next returned false.
	Object() (json.RawMessage, error)
	Err() error
	Close() error
}

// Client invokes a language model.
type Client interface {
	Stream(ctx context.Context, req proto.Request) (Stream, error)
	Generate(ctx context.Context, req proto.Request) (proto.Response, error)
	StreamObject(ctx context.Context, req proto.ObjectRequest) (ObjectStream, error)
}
