package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Storage persists registry entries.  Add and Remove are each a single
// read-modify-write that the backend performs atomically on its side.
type Storage interface {
	// Add merges entry's seats into the stored entry for entry.TripKey,
	// creating it when absent.
	Add(ctx context.Context, entry model.RegistryEntry) error
	// Remove drops seats from the entry for tripKey and deletes the
	// entry once it holds no seats.  Unknown trips are a no-op.
	Remove(ctx context.Context, tripKey string, seats []string) error
	// List returns every entry ordered by trip key.
	List(ctx context.Context) ([]model.RegistryEntry, error)
	// Clear deletes every entry.
	Clear(ctx context.Context) error
}

// mergeEntry returns cur with add's seats unioned in.  Trip metadata is
// taken from add when cur is empty.
func mergeEntry(cur *model.RegistryEntry, add model.RegistryEntry) model.RegistryEntry {
	if cur == nil {
		add.Seats = model.UniqueSeats(add.Seats)
		return add
	}
	out := *cur
	out.Seats = model.UniqueSeats(append(append([]string{}, cur.Seats...), add.Seats...))
	return out
}

// subtractSeats returns seats minus drop.
func subtractSeats(seats, drop []string) []string {
	gone := make(map[string]struct{}, len(drop))
	for _, s := range drop {
		gone[s] = struct{}{}
	}
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		if _, ok := gone[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func sortEntries(entries []model.RegistryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].TripKey < entries[j].TripKey })
}

// MemoryStorage keeps entries in process memory.  It is not durable and
// is meant for tests and ephemeral sessions.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]model.RegistryEntry
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: map[string]model.RegistryEntry{}}
}

func (m *MemoryStorage) Add(_ context.Context, entry model.RegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur *model.RegistryEntry
	if e, ok := m.entries[entry.TripKey]; ok {
		cur = &e
	}
	m.entries[entry.TripKey] = mergeEntry(cur, entry)
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, tripKey string, seats []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tripKey]
	if !ok {
		return nil
	}
	e.Seats = subtractSeats(e.Seats, seats)
	if len(e.Seats) == 0 {
		delete(m.entries, tripKey)
		return nil
	}
	m.entries[tripKey] = e
	return nil
}

func (m *MemoryStorage) List(context.Context) ([]model.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RegistryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		e.Seats = append([]string(nil), e.Seats...)
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStorage) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]model.RegistryEntry{}
	return nil
}
