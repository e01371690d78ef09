package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBufferFull is returned by Async.Publish when the buffer is full and
// the event was dropped.
var ErrBufferFull = errors.New("queue: publish buffer full")

// Async hands events to a background goroutine so a slow or unreachable
// broker never delays the caller.  Events are dropped when the buffer is
// full.
type Async struct {
	next   Publisher
	logger *slog.Logger
	events chan LockEvent
	done   chan struct{}
	once   sync.Once
}

// NewAsync starts the worker publishing to next.
func NewAsync(next Publisher, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		next:   next,
		logger: logger,
		events: make(chan LockEvent, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		if err := a.next.Publish(context.Background(), ev); err != nil {
			a.logger.Debug("async publish failed", "type", ev.Type, "error", err)
		}
	}
}

// Publish enqueues ev without blocking.
func (a *Async) Publish(_ context.Context, ev LockEvent) error {
	select {
	case a.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events and waits until the buffered ones have
// been handed to the next publisher.  Publish must not be called after
// Close.
func (a *Async) Close() {
	a.once.Do(func() { close(a.events) })
	<-a.done
}
