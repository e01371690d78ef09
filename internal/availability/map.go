package availability

import (
	"sync"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Map is the shared availability picture, one record per trip key.  It is
// written only by the Controller, one batch per refresh, and read by any
// number of consumers.  Records are replaced whole, never patched.
type Map struct {
	mu       sync.RWMutex
	records  map[string]model.Availability
	version  uint64
	watchers map[chan struct{}]struct{}
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{
		records:  map[string]model.Availability{},
		watchers: map[chan struct{}]struct{}{},
	}
}

// Merge replaces the record of every key in batch and bumps the version
// once.  A record fetched before the one already stored is dropped, so a
// slow batch cannot put older data back.  A batch that changes nothing
// leaves the version alone.
func (m *Map) Merge(batch map[string]model.Availability) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	applied := 0
	for k, rec := range batch {
		if cur, ok := m.records[k]; ok && rec.FetchedAt.Before(cur.FetchedAt) {
			continue
		}
		m.records[k] = clone(rec)
		applied++
	}
	if applied == 0 {
		m.mu.Unlock()
		return
	}
	m.version++
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.mu.Unlock()
}

// Get returns a copy of the record for trip.
func (m *Map) Get(trip model.TripKey) (model.Availability, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[trip.String()]
	if !ok {
		return model.Availability{}, false
	}
	return clone(rec), true
}

// All returns a copy of every record keyed by trip key.
func (m *Map) All() map[string]model.Availability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Availability, len(m.records))
	for k, rec := range m.records {
		out[k] = clone(rec)
	}
	return out
}

// Version counts the merges so far.
func (m *Map) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Watch returns a channel signalled after each merge.  Signals coalesce:
// a slow reader sees one pending signal however many merges happened.
// Call cancel to stop watching.
func (m *Map) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, ch)
			m.mu.Unlock()
		})
	}
}

func clone(rec model.Availability) model.Availability {
	out := rec
	if rec.Available != nil {
		v := *rec.Available
		out.Available = &v
	}
	if rec.Window != nil {
		v := *rec.Window
		out.Window = &v
	}
	out.BookedSeats = append([]string{}, rec.BookedSeats...)
	out.SeatGenderMap = make(map[string]string, len(rec.SeatGenderMap))
	for k, v := range rec.SeatGenderMap {
		out.SeatGenderMap[k] = v
	}
	return out
}
