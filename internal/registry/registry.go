// Package registry is the durable ledger of seats this device believes
// it holds.  It is the last-resort release mechanism: when in-memory
// cart state is lost the registry still knows which locks to give back.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
)

// Releaser asks the booking server to drop seat locks.
type Releaser interface {
	ReleaseLocks(ctx context.Context, req api.ReleaseRequest) error
}

// ReleaseReport summarizes a ReleaseAll call.
type ReleaseReport struct {
	Attempted int `json:"attempted"`
	Failed    int `json:"failed"`
}

// Registry serializes every mutation through one writer and delegates
// persistence to a Storage.
type Registry struct {
	mu        sync.Mutex
	store     Storage
	releaser  Releaser
	clientID  string
	logger    *slog.Logger
	publisher queue.Publisher
	clock     clock.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option { return func(r *Registry) { r.clock = c } }

// WithPublisher sets where locks.released events go.
func WithPublisher(p queue.Publisher) Option { return func(r *Registry) { r.publisher = p } }

// New returns a Registry.  clientID is attached to every release call.
func New(store Storage, releaser Releaser, clientID string, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		releaser:  releaser,
		clientID:  clientID,
		logger:    slog.Default(),
		publisher: queue.Noop{},
		clock:     clock.Real(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// ClientID returns the device identifier sent with release calls.
func (r *Registry) ClientID() string { return r.clientID }

// Add merges seats into the entry for trip.
func (r *Registry) Add(ctx context.Context, trip model.TripKey, seats []string) error {
	seats = model.UniqueSeats(seats)
	if len(seats) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Add(ctx, model.NewRegistryEntry(trip, seats))
}

// Remove drops seats from the entry for trip, deleting the entry once
// it is empty.
func (r *Registry) Remove(ctx context.Context, trip model.TripKey, seats []string) error {
	seats = model.UniqueSeats(seats)
	if len(seats) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Remove(ctx, trip.String(), seats)
}

// Entries returns every entry ordered by trip key.
func (r *Registry) Entries(ctx context.Context) ([]model.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.List(ctx)
}

// ReleaseAll sends one release request per entry, all of them in
// parallel, then clears the registry whatever the release outcomes.  A
// registry that cannot be listed is left untouched.  Failures are
// logged and counted, never returned: server side lock expiry is the
// backstop.
func (r *Registry) ReleaseAll(ctx context.Context) ReleaseReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.List(ctx)
	if err != nil {
		// Clearing a ledger that could not be read would forget held
		// seats without a single release.
		r.logger.Warn("list registry, keeping entries", "error", err)
		return ReleaseReport{}
	}
	var report ReleaseReport
	if len(entries) > 0 {
		report = r.release(ctx, entries)
	}
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Warn("clear registry", "error", err)
	}
	if report.Attempted > 0 {
		r.logger.Info("released registry", "attempted", report.Attempted, "failed", report.Failed)
	}
	return report
}

func (r *Registry) release(ctx context.Context, entries []model.RegistryEntry) ReleaseReport {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e model.RegistryEntry) {
			defer wg.Done()
			err := r.releaser.ReleaseLocks(ctx, api.ReleaseRequest{
				BusID:         e.BusID,
				Date:          e.Date,
				DepartureTime: e.DepartureTime,
				Seats:         e.Seats,
				ClientID:      r.clientID,
			})
			if err != nil {
				r.logger.Debug("release failed", "trip", e.TripKey, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			r.publish(ctx, e, err != nil)
		}(e)
	}
	wg.Wait()
	return ReleaseReport{Attempted: len(entries), Failed: failed}
}

func (r *Registry) publish(ctx context.Context, e model.RegistryEntry, failed bool) {
	ev := queue.LockEvent{
		Type:     queue.EventLocksReleased,
		ClientID: r.clientID,
		TripKey:  e.TripKey,
		Seats:    e.Seats,
		At:       r.clock.Now().UTC(),
	}
	if failed {
		ev.Failed = len(e.Seats)
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Debug("publish lock event", "error", err)
	}
}
