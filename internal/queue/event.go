// Package queue defines the lock lifecycle events exchanged over the
// message broker and the consumer that records them.
package queue

import (
	"context"
	"time"
)

// LockEventsQueue is the durable queue carrying LockEvent messages.
const LockEventsQueue = "seatlock.events"

// Lock event types.
const (
	EventSeatHeld       = "seat.held"
	EventSeatReleased   = "seat.released"
	EventCartCheckedOut = "cart.checked_out"
	EventLocksReleased  = "locks.released"
)

// LockEvent is published whenever this device gains or gives up seat
// locks.  It carries enough context for downstream consumers to audit
// hold contention without calling the booking server.
type LockEvent struct {
	Type     string    `json:"type"`
	ClientID string    `json:"client_id"`
	TripKey  string    `json:"trip_key"`
	Seats    []string  `json:"seats"`
	CartID   string    `json:"cart_id,omitempty"`
	Failed   int       `json:"failed,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher sends lock events.  Implementations must not block the
// caller for long; failures are reported but never fatal.
type Publisher interface {
	Publish(ctx context.Context, ev LockEvent) error
}

// Noop is a Publisher that drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, LockEvent) error { return nil }
