// Package view is the append/update surface the agent renders into.
//
// The agent never reads back what it rendered. Sections are opaque to this
// package; renderers type-switch on the concrete section types owned by the
// packages that produce them.
package view

import (
	"context"
	"slices"
	"sync"

	"github.com/dotcommander/lectern/internal/live"
)

// Section is a renderable unit of output.
type Section interface {
	SectionKind() string
}

// Surface receives sections.
type Surface interface {
	// Append adds a section after the existing ones.
	Append(Section)
	// Update replaces the most recently added section, or appends when the
	// surface is empty.
	Update(Section)
}

// Spinner is a placeholder shown while work starts.
type Spinner struct {
	Label string
}

// SectionKind implements Section.
func (Spinner) SectionKind() string { return "spinner" }

// Note is a plain text section.
type Note struct {
	Text string
}

// SectionKind implements Section.
func (Note) SectionKind() string { return "note" }

// Transcript is a Surface that publishes its section list as a live value.
// It is safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	sections []Section
	value    *live.Value[[]Section]
}

var _ Surface = &Transcript{}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{value: live.New[[]Section]()}
}

// Append implements Surface.
func (t *Transcript) Append(s Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sections = append(t.sections, s)
	t.publish()
}

// Update implements Surface.
func (t *Transcript) Update(s Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sections) == 0 {
		t.sections = append(t.sections, s)
	} else {
		t.sections[len(t.sections)-1] = s
	}
	t.publish()
}

func (t *Transcript) publish() {
	// Publishing after Close is a no-op.
	_ = t.value.Update(slices.Clone(t.sections))
}

// Sections returns a copy of the current sections.
func (t *Transcript) Sections() []Section {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sections)
}

// Watch streams section lists until Close is called or ctx is done.
func (t *Transcript) Watch(ctx context.Context) <-chan live.Snapshot[[]Section] {
	return t.value.Watch(ctx)
}

// Close completes the transcript. Later Append and Update calls are still
// recorded but not published.
func (t *Transcript) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.value.CompleteWith(slices.Clone(t.sections))
}
