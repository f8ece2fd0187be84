// Package live provides a single-writer, multi-reader value that is updated
// incrementally and completed exactly once.
//
// Writers push successive versions of a value with Update and finish with
// Complete or CompleteWith. Readers observe versions through Subscribe or
// Watch. There is no replay: a reader that arrives late sees the value from
// that point on, or only the terminal value when the channel is already done.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState is the error kind for operations on a completed value.
var ErrInvalidState = errors.New("invalid state")

// ErrDone is returned by Update, Complete and CompleteWith once the value is
// done.
var ErrDone = fmt.Errorf("value already completed: %w", ErrInvalidState)

// Snapshot is a point-in-time view of a Value.
type Snapshot[T any] struct {
	Value T
	// Set reports whether Value was ever assigned.
	Set  bool
	Done bool
}

// Reader is the read side of a Value.
type Reader[T any] interface {
	Snapshot() Snapshot[T]
	Subscribe(fn func(Snapshot[T])) (unsubscribe func())
	Watch(ctx context.Context) <-chan Snapshot[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(Snapshot[T])
}

// Value is an incrementally updated value. The zero value is ready to use.
type Value[T any] struct {
	mu     sync.Mutex
	notify sync.Mutex
	cur    Snapshot[T]
	subs   []subscriber[T]
	nextID uint64
}

var _ Reader[string] = &Value[string]{}

// New returns an empty Value.
func New[T any]() *Value[T] {
	return &Value[T]{}
}

// NewWith returns a Value holding v.
func NewWith[T any](v T) *Value[T] {
	return &Value[T]{cur: Snapshot[T]{Value: v, Set: true}}
}

// Update replaces the current value and notifies subscribers.
func (v *Value[T]) Update(val T) error {
	return v.apply(func(s *Snapshot[T]) {
		s.Value = val
		s.Set = true
	})
}

// Complete marks the value done, keeping the current value.
func (v *Value[T]) Complete() error {
	return v.apply(func(s *Snapshot[T]) {
		s.Done = true
	})
}

// CompleteWith sets a final value and marks the value done.
func (v *Value[T]) CompleteWith(val T) error {
	return v.apply(func(s *Snapshot[T]) {
		s.Value = val
		s.Set = true
		s.Done = true
	})
}

// Done reports whether the value was completed.
func (v *Value[T]) Done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur.Done
}

// Snapshot returns the current state.
func (v *Value[T]) Snapshot() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

func (v *Value[T]) apply(mutate func(*Snapshot[T])) error {
	// notify serializes delivery so subscribers see versions in write order.
	v.notify.Lock()
	defer v.notify.Unlock()

	v.mu.Lock()
	if v.cur.Done {
		v.mu.Unlock()
		return ErrDone
	}
	mutate(&v.cur)
	snap := v.cur
	subs := append([]subscriber[T](nil), v.subs...)
	if snap.Done {
		v.subs = nil
	}
	v.mu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
	return nil
}

// Subscribe registers fn to be called with every later version, in
// registration order, synchronously from the writer. If the value is already
// done, fn is called once with the terminal snapshot before Subscribe returns.
func (v *Value[T]) Subscribe(fn func(Snapshot[T])) func() {
	v.mu.Lock()
	if v.cur.Done {
		snap := v.cur
		v.mu.Unlock()
		fn(snap)
		return func() {}
	}
	v.nextID++
	id := v.nextID
	v.subs = append(v.subs, subscriber[T]{id: id, fn: fn})
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, s := range v.subs {
			if s.id == id {
				v.subs = append(v.subs[:i:i], v.subs[i+1:]...)
				return
			}
		}
	}
}

// Watch returns a channel that yields versions from now on. Intermediate
// versions may be coalesced into the latest one when the reader is slow; the
// terminal snapshot is always delivered, after which the channel is closed.
// The channel is also closed when ctx is cancelled.
func (v *Value[T]) Watch(ctx context.Context) <-chan Snapshot[T] {
	out := make(chan Snapshot[T])
	wake := make(chan struct{}, 1)

	var (
		mu      sync.Mutex
		pending Snapshot[T]
		has     bool
	)
	unsubscribe := v.Subscribe(func(s Snapshot[T]) {
		mu.Lock()
		pending, has = s, true
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			mu.Lock()
			snap, ok := pending, has
			has = false
			mu.Unlock()

			if ok {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				if snap.Done {
					return
				}
				continue
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
