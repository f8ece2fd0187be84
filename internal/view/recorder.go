package view

import "sync"

// OpKind is the surface operation recorded by a Recorder.
type OpKind string

// Recorded operations.
const (
	OpAppend OpKind = "append"
	OpUpdate OpKind = "update"
)

// Op is a single recorded surface call.
type Op struct {
	Kind    OpKind
	Section Section
}

// Recorder logs every surface call and forwards it to Next when set.
type Recorder struct {
	Next Surface

	mu  sync.Mutex
	ops []Op
}

var _ Surface = &Recorder{}

// Append implements Surface.
func (r *Recorder) Append(s Section) {
	r.record(OpAppend, s)
	if r.Next != nil {
		r.Next.Append(s)
	}
}

// Update implements Surface.
func (r *Recorder) Update(s Section) {
	r.record(OpUpdate, s)
	if r.Next != nil {
		r.Next.Update(s)
	}
}

func (r *Recorder) record(kind OpKind, s Section) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Kind: kind, Section: s})
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Kinds returns the section kinds of the recorded calls as "op:kind" pairs.
func (r *Recorder) Kinds() []string {
	ops := r.Ops()
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, string(op.Kind)+":"+op.Section.SectionKind())
	}
	return out
}
