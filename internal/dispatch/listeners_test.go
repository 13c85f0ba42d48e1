package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestListenersEmitInOrder(t *testing.T) {
	var l Listeners[int]
	var got []string
	l.Add(func(v int) { got = append(got, "a") })
	l.Add(func(v int) { got = append(got, "b") })

	l.Emit(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestListenersRemove(t *testing.T) {
	var l Listeners[int]
	calls := 0
	remove := l.Add(func(int) { calls++ })
	l.Emit(1)
	remove()
	l.Emit(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestListenersAddAndRemoveFromCallback(t *testing.T) {
	var l Listeners[int]
	inner := 0
	var remove func()
	remove = l.Add(func(int) {
		remove()
		l.Add(func(int) { inner++ })
	})

	l.Emit(1) // removes itself, adds inner
	l.Emit(2) // only inner

	if inner != 1 {
		t.Errorf("inner calls = %d, want 1", inner)
	}
}

func TestListenersCloseStopsDelivery(t *testing.T) {
	var l Listeners[int]
	calls := 0
	l.Add(func(int) { calls++ })
	l.Close()

	for i := 0; i < 100; i++ {
		l.Emit(i)
	}
	l.Add(func(int) { calls++ })
	l.Emit(0)

	if calls != 0 {
		t.Errorf("calls after Close = %d, want 0", calls)
	}
}

func TestListenersCloseWaitsForDelivery(t *testing.T) {
	var l Listeners[int]
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false

	l.Add(func(int) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go l.Emit(1)
	<-entered

	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Close returned before the delivery finished")
	}
}
