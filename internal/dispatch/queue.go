// Package dispatch provides the serial work queue that owns all Bluetooth
// state transitions and the listener lists used to publish them.
package dispatch

import (
	"sync"
	"time"
)

// Queue runs submitted functions one at a time, in submission order, on a
// single goroutine. It never blocks the submitter: pending work is kept in
// an unbounded list, so work may be submitted from inside queued work.
type Queue struct {
	label string

	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewQueue starts a queue. The label only shows up in logs.
func NewQueue(label string) *Queue {
	q := &Queue{
		label: label,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Label returns the queue's label.
func (q *Queue) Label() string { return q.label }

// Async schedules fn. It returns false if the queue is closed.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	// Signal under mu so Close cannot close wake in between.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// AsyncAfter schedules fn after d. The returned func cancels the timer and
// reports whether it stopped fn from being queued.
func (q *Queue) AsyncAfter(d time.Duration, fn func()) (cancel func() bool) {
	t := time.AfterFunc(d, func() { q.Async(fn) })
	return t.Stop
}

// Sync runs fn on the queue and waits for it. It must not be called from
// queued work. It returns false without running fn if the queue is closed.
func (q *Queue) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.Async(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-q.done:
		return false
	}
}

// Close stops the queue. Work not yet started is dropped; work already
// running completes. Close does not wait and may be called from queued work.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.tasks = nil
	close(q.wake)
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if q.closed || len(q.tasks) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			q.mu.Unlock()

			fn()
		}
	}
}
