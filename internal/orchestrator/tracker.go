package orchestrator

import (
	"context"
	"sync"
)

// Tracker maps job ids to the pipeline currently running for them. An entry
// lives exactly as long as its pipeline goroutine.
type Tracker struct {
	mu      sync.Mutex
	running map[string]chan struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{running: make(map[string]chan struct{})}
}

// Track registers id and returns the function that marks it finished.
// Calling done more than once is harmless.
func (t *Tracker) Track(id string) (done func()) {
	ch := make(chan struct{})
	t.mu.Lock()
	t.running[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.running[id] == ch {
				delete(t.running, id)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until the pipeline tracked for id finishes. Untracked ids
// return immediately.
func (t *Tracker) Wait(ctx context.Context, id string) error {
	t.mu.Lock()
	ch, ok := t.running[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll blocks until nothing is tracked, including pipelines started while
// waiting.
func (t *Tracker) WaitAll(ctx context.Context) error {
	for {
		t.mu.Lock()
		var next chan struct{}
		for _, ch := range t.running {
			next = ch
			break
		}
		t.mu.Unlock()
		if next == nil {
			return nil
		}
		select {
		case <-next:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Running reports whether a pipeline is tracked for id.
func (t *Tracker) Running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[id]
	return ok
}

// Len returns the number of tracked pipelines.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}
