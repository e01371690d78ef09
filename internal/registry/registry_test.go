package registry_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
	"github.com/iliyamo/bus-seat-hold/internal/registry"
	"github.com/iliyamo/bus-seat-hold/internal/testutil"
)

var (
	tripA = model.TripKey{BusID: "bus-1", Date: "2026-10-20", DepartureTime: "21:30"}
	tripB = model.TripKey{BusID: "bus-2", Date: "2026-10-21", DepartureTime: "07:15"}
)

func newRegistry(t *testing.T) (*registry.Registry, *testutil.SeatServer, *queue.Recorder) {
	t.Helper()
	srv := testutil.NewSeatServer()
	t.Cleanup(srv.Close)
	rec := queue.NewRecorder(0)
	reg := registry.New(registry.NewMemoryStorage(), api.NewClient(srv.URL()), "device-1",
		registry.WithPublisher(rec))
	return reg, srv, rec
}

func TestReleaseAllReleasesEveryEntryThenClears(t *testing.T) {
	reg, srv, rec := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, []string{"1", "2"}))
	require.NoError(t, reg.Add(ctx, tripB, []string{"7"}))

	report := reg.ReleaseAll(ctx)
	assert.Equal(t, registry.ReleaseReport{Attempted: 2, Failed: 0}, report)

	rel := srv.Releases()
	require.Len(t, rel, 2)
	for _, r := range rel {
		assert.Equal(t, "device-1", r.ClientID)
	}
	assert.ElementsMatch(t, []string{"bus-1", "bus-2"}, []string{rel[0].BusID, rel[1].BusID})

	entries, err := reg.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, queue.EventLocksReleased, events[0].Type)
}

func TestReleaseAllTwiceNeverDoubleReleases(t *testing.T) {
	reg, srv, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, []string{"1"}))

	reg.ReleaseAll(ctx)
	second := reg.ReleaseAll(ctx)

	assert.Equal(t, registry.ReleaseReport{}, second)
	assert.Equal(t, 1, srv.Calls(testutil.RouteRelease))
}

func TestReleaseAllOnEmptyRegistryIsNoop(t *testing.T) {
	reg, srv, _ := newRegistry(t)
	report := reg.ReleaseAll(context.Background())
	assert.Zero(t, report.Attempted)
	assert.Zero(t, srv.Calls(testutil.RouteRelease))
}

func TestReleaseAllClearsEvenWhenReleasesFail(t *testing.T) {
	reg, srv, rec := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, []string{"1"}))
	require.NoError(t, reg.Add(ctx, tripB, []string{"2"}))
	srv.Fail(testutil.RouteRelease, http.StatusInternalServerError, 0, "")

	report := reg.ReleaseAll(ctx)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, srv.Calls(testutil.RouteRelease))

	entries, err := reg.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	failed := 0
	for _, ev := range rec.Events() {
		failed += ev.Failed
	}
	assert.Equal(t, 1, failed)
}

func TestAddAndRemoveIgnoreEmptySeatLists(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, nil))
	require.NoError(t, reg.Add(ctx, tripA, []string{""}))
	require.NoError(t, reg.Remove(ctx, tripA, nil))

	entries, err := reg.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, "device-1", reg.ClientID())
}

// unreadableStorage fails List and records whether Clear was called.
type unreadableStorage struct {
	*registry.MemoryStorage
	cleared bool
}

func (s *unreadableStorage) List(context.Context) ([]model.RegistryEntry, error) {
	return nil, errors.New("disk gone")
}

func (s *unreadableStorage) Clear(ctx context.Context) error {
	s.cleared = true
	return s.MemoryStorage.Clear(ctx)
}

func TestReleaseAllKeepsEntriesWhenListFails(t *testing.T) {
	srv := testutil.NewSeatServer()
	t.Cleanup(srv.Close)
	store := &unreadableStorage{MemoryStorage: registry.NewMemoryStorage()}
	reg := registry.New(store, api.NewClient(srv.URL()), "device-1")
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, []string{"1"}))

	report := reg.ReleaseAll(ctx)
	assert.Equal(t, registry.ReleaseReport{}, report)
	assert.False(t, store.cleared)
	assert.Zero(t, srv.Calls(testutil.RouteRelease))
}

func TestReleaseEventsUseInjectedClock(t *testing.T) {
	srv := testutil.NewSeatServer()
	t.Cleanup(srv.Close)
	rec := queue.NewRecorder(0)
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	reg := registry.New(registry.NewMemoryStorage(), api.NewClient(srv.URL()), "device-1",
		registry.WithPublisher(rec), registry.WithClock(clock.Fake(at)))
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, tripA, []string{"1"}))

	reg.ReleaseAll(ctx)
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].At)
}
