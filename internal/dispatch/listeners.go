package dispatch

import (
	"sync"
	"sync/atomic"
)

// Listeners is a list of callbacks receiving values of type T. Callbacks may
// add or remove listeners while being invoked.
type Listeners[T any] struct {
	// gate is read-held for the duration of an Emit so Close can wait out a
	// delivery in progress.
	gate   sync.RWMutex
	closed bool

	mu   sync.Mutex
	subs []*subscription[T]
}

type subscription[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Add registers fn and returns a func that removes it again. Removal takes
// effect for every Emit that starts after it returns. After Close, Add is a
// no-op.
func (l *Listeners[T]) Add(fn func(T)) (remove func()) {
	s := &subscription[T]{fn: fn}
	s.active.Store(true)

	l.gate.RLock()
	closed := l.closed
	l.gate.RUnlock()
	if closed {
		return func() {}
	}

	l.mu.Lock()
	l.prune()
	l.subs = append(l.subs, s)
	l.mu.Unlock()

	return func() { s.active.Store(false) }
}

// Emit calls every active listener with v, in registration order, on the
// calling goroutine.
func (l *Listeners[T]) Emit(v T) {
	l.gate.RLock()
	defer l.gate.RUnlock()
	if l.closed {
		return
	}

	l.mu.Lock()
	subs := make([]*subscription[T], len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			s.fn(v)
		}
	}
}

// Close removes all listeners. Once Close returns no listener is invoked
// again; a delivery running concurrently is waited for, so Close must not be
// called from inside a listener of the same list.
func (l *Listeners[T]) Close() {
	l.gate.Lock()
	l.closed = true
	l.gate.Unlock()

	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

// Len returns the number of active listeners.
func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.subs {
		if s.active.Load() {
			n++
		}
	}
	return n
}

// prune drops removed subscriptions (caller must hold mu).
func (l *Listeners[T]) prune() {
	kept := l.subs[:0]
	for _, s := range l.subs {
		if s.active.Load() {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(l.subs); i++ {
		l.subs[i] = nil
	}
	l.subs = kept
}
