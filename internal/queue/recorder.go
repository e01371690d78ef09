package queue

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher that keeps every event.  It backs
// tests and the local API's recent-activity view.
type Recorder struct {
	mu     sync.Mutex
	events []LockEvent
	max    int
}

// NewRecorder keeps at most max events (0 means unbounded).
func NewRecorder(max int) *Recorder { return &Recorder{max: max} }

func (r *Recorder) Publish(_ context.Context, ev LockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.max > 0 && len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []LockEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LockEvent(nil), r.events...)
}

// Fanout publishes every event to each of its publishers and returns the
// first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev LockEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
