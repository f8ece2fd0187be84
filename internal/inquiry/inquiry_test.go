package inquiry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/live"
	"github.com/dotcommander/lectern/internal/proto"
	"github.com/dotcommander/lectern/internal/stream/streamtest"
	"github.com/dotcommander/lectern/internal/view"
)

var history = []proto.Message{{Role: proto.RoleUser, Content: "compare mitosis and meiosis"}}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func inquirySection(t *testing.T, rec *view.Recorder) live.Reader[Inquiry] {
	t.Helper()
	ops := rec.Ops()
	require.Len(t, ops, 1)
	require.Equal(t, view.OpUpdate, ops[0].Kind)
	section, ok := ops[0].Section.(Section)
	require.True(t, ok)
	return section.Inquiry
}

func TestInquireStreamsPartials(t *testing.T) {
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{
		Partials: []json.RawMessage{
			raw(`{}`),
			raw(`{"question":"Which"}`),
			raw(`{"question":"Which aspect?","options":[{"value":"stages"}]}`),
			raw(`{"question":"Which aspect?","options":[{"value":"stages","label":"Stages"}],"allowsInput":true}`),
		},
	}}}
	rec := &view.Recorder{}

	var seen []string
	gen := NewGenerator(client, "gpt-4o")
	// Subscribe as soon as the section is pushed.
	surface := &hookSurface{Recorder: rec, onSection: func(s view.Section) {
		s.(Section).Inquiry.Subscribe(func(snap live.Snapshot[Inquiry]) {
			seen = append(seen, snap.Value.Question)
		})
	}}

	q, err := gen.Inquire(context.Background(), surface, history)
	require.NoError(t, err)
	require.True(t, q.NeedsAnswer())
	require.Equal(t, "Which aspect?", q.Question)
	require.Equal(t, []Option{{Value: "stages", Label: "Stages"}}, q.Options)
	require.True(t, q.AllowsInput)

	require.Equal(t, []string{"Which", "Which aspect?", "Which aspect?", "Which aspect?", "Which aspect?"}, seen)
	snap := inquirySection(t, rec).Snapshot()
	require.True(t, snap.Done)
	require.Equal(t, q, snap.Value)

	calls := client.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "gpt-4o", calls[0].Model)
	require.Equal(t, SystemPrompt, calls[0].System)
	require.Equal(t, history, calls[0].Messages)
}

func TestInquireNoObject(t *testing.T) {
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{}}}
	rec := &view.Recorder{}

	completions := 0
	surface := &hookSurface{Recorder: rec, onSection: func(s view.Section) {
		s.(Section).Inquiry.Subscribe(func(snap live.Snapshot[Inquiry]) {
			if snap.Done {
				completions++
			}
		})
	}}

	q, err := NewGenerator(client, "m").Inquire(context.Background(), surface, history)
	require.NoError(t, err)
	require.True(t, q.IsZero())
	require.False(t, q.NeedsAnswer())
	require.Equal(t, 1, completions)
	require.True(t, inquirySection(t, rec).Snapshot().Done)
}

func TestInquireEmptyObjectMeansNoQuestion(t *testing.T) {
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{Partials: []json.RawMessage{raw(`{}`)}}}}
	rec := &view.Recorder{}

	q, err := NewGenerator(client, "m").Inquire(context.Background(), rec, history)
	require.NoError(t, err)
	require.True(t, q.IsZero())
	require.True(t, inquirySection(t, rec).Snapshot().Done)
}

func TestInquireFailureStillCompletes(t *testing.T) {
	for name, script := range map[string]streamtest.ObjectScript{
		"start error": {StartErr: errors.New("401")},
		"stream error": {
			Partials: []json.RawMessage{raw(`{"question":"Wh"}`)},
			Err:      errors.New("connection reset"),
		},
	} {
		t.Run(name, func(t *testing.T) {
			client := &streamtest.Fake{Objects: []streamtest.ObjectScript{script}}
			rec := &view.Recorder{}

			_, err := NewGenerator(client, "m").Inquire(context.Background(), rec, history)
			require.Error(t, err)

			snap := inquirySection(t, rec).Snapshot()
			require.True(t, snap.Done)
		})
	}
}

func TestInquireCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{Partials: []json.RawMessage{raw(`{"question":"x"}`)}}}}
	rec := &view.Recorder{}

	_, err := NewGenerator(client, "m").Inquire(ctx, rec, history)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, inquirySection(t, rec).Snapshot().Done)
}

func TestInquireDropsInvalidValues(t *testing.T) {
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{
		Final: raw(`{"question":"¿Qué aspecto?","options":[
			{"value":"etapas","label":"Etapas"},
			{"value":"número de cromosomas","label":"Número"},
			{"value":"1st","label":"Primero"},
			{"value":"etapas","label":"Duplicado"},
			{"value":"purpose","label":"Propósito"}]}`),
	}}}

	q, err := NewGenerator(client, "m").Inquire(context.Background(), &view.Recorder{}, history)
	require.NoError(t, err)
	require.Equal(t, []Option{
		{Value: "etapas", Label: "Etapas"},
		{Value: "purpose", Label: "Propósito"},
	}, q.Options)
}

func TestInquireOptionsNeverShrink(t *testing.T) {
	client := &streamtest.Fake{Objects: []streamtest.ObjectScript{{
		Partials: []json.RawMessage{
			raw(`{"question":"¿Qué aspecto?","options":[{"value":"etapas","label":"Etapas"}]}`),
			raw(`{"question":"¿Qué aspecto?","options":[{"value":"etapas","label":"Etapas"},{"value":"qu"}]}`),
			raw(`{"question":"¿Qué aspecto?","options":[{"value":"etapas","label":"Etapas"},{"value":"qué pasa","label":"Qué"}]}`),
			raw(`{"question":"¿Qué aspecto?","options":[{"value":"etapas","label":"Etapas"},{"value":"qué pasa","label":"Qué"},{"value":"purpose"}]}`),
		},
		Final: raw(`{"question":"¿Qué aspecto?","options":[{"value":"etapas","label":"Etapas"},{"value":"qué pasa","label":"Qué"},{"value":"purpose","label":"Propósito"}]}`),
	}}}

	var counts []int
	surface := &hookSurface{Recorder: &view.Recorder{}, onSection: func(s view.Section) {
		s.(Section).Inquiry.Subscribe(func(snap live.Snapshot[Inquiry]) {
			counts = append(counts, len(snap.Value.Options))
			for _, opt := range snap.Value.Options {
				require.Regexp(t, valueRe, opt.Value)
			}
		})
	}}

	q, err := NewGenerator(client, "m").Inquire(context.Background(), surface, history)
	require.NoError(t, err)
	require.Equal(t, []Option{
		{Value: "etapas", Label: "Etapas"},
		{Value: "purpose", Label: "Propósito"},
	}, q.Options)

	require.NotEmpty(t, counts)
	require.Equal(t, 2, counts[len(counts)-1])
	for i := 1; i < len(counts); i++ {
		require.GreaterOrEqual(t, counts[i], counts[i-1], "option counts %v", counts)
	}
}

func TestAnswer(t *testing.T) {
	q := Inquiry{Options: []Option{{Value: "a", Label: "Alpha"}, {Value: "b", Label: "Beta"}}}
	require.Equal(t, "Alpha, Beta, more detail", q.Answer([]string{"a", "b", "zzz"}, "  more detail "))
	require.Equal(t, "Beta", q.Answer([]string{"b"}, ""))
	require.Empty(t, q.Answer(nil, " "))
}

func TestSchemaCompiles(t *testing.T) {
	require.NoError(t, compiled.Validate(raw(`{"question":"q","options":[{"value":"a","label":"A"}],"allowsInput":false}`)))
	require.NoError(t, compiled.Validate(raw(`{}`)))
	require.Error(t, compiled.Validate(raw(`{"options":[{"value":"a"}]}`)))
}

type hookSurface struct {
	*view.Recorder
	onSection func(view.Section)
}

func (h *hookSurface) Update(s view.Section) {
	h.Recorder.Update(s)
	h.onSection(s)
}
