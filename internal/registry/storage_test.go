package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

var (
	tripA = model.TripKey{BusID: "bus-1", Date: "2026-10-20", DepartureTime: "21:30"}
	tripB = model.TripKey{BusID: "bus-2", Date: "2026-10-21", DepartureTime: "07:15"}
)

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewFileStorage(filepath.Join(t.TempDir(), "state", "registry.json")),
		"redis":  NewRedisStorage(rdb, "device-1"),
	}
}

func TestStorageUnionAndRemove(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.Add(ctx, model.NewRegistryEntry(tripA, []string{"12", "3"})))
			require.NoError(t, st.Add(ctx, model.NewRegistryEntry(tripA, []string{"3", "14"})))
			require.NoError(t, st.Add(ctx, model.NewRegistryEntry(tripB, []string{"1"})))

			entries, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, tripA.String(), entries[0].TripKey)
			assert.Equal(t, []string{"12", "14", "3"}, entries[0].Seats)
			assert.Equal(t, tripA, entries[0].Trip())

			require.NoError(t, st.Remove(ctx, tripA.String(), []string{"12", "3"}))
			entries, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, []string{"14"}, entries[0].Seats)

			require.NoError(t, st.Remove(ctx, tripA.String(), []string{"14"}))
			entries, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tripB.String(), entries[0].TripKey)

			require.NoError(t, st.Remove(ctx, "unknown|x|y", []string{"1"}))

			require.NoError(t, st.Clear(ctx))
			entries, err = st.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestStorageConcurrentAddsKeepEverySeat(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seats := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
			var wg sync.WaitGroup
			for _, s := range seats {
				wg.Add(1)
				go func(s string) {
					defer wg.Done()
					assert.NoError(t, st.Add(ctx, model.NewRegistryEntry(tripA, []string{s})))
				}(s)
			}
			wg.Wait()

			entries, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.ElementsMatch(t, seats, entries[0].Seats)
		})
	}
}

func TestFileStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	ctx := context.Background()
	require.NoError(t, NewFileStorage(path).Add(ctx, model.NewRegistryEntry(tripA, []string{"9"})))

	entries, err := NewFileStorage(path).List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"9"}, entries[0].Seats)

	require.NoError(t, NewFileStorage(path).Clear(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorageRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStorage(path).List(context.Background())
	assert.Error(t, err)
}

func TestRedisStorageIsNamespacedByDevice(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	one := NewRedisStorage(rdb, "device-1")
	two := NewRedisStorage(rdb, "device-2")
	require.NoError(t, one.Add(ctx, model.NewRegistryEntry(tripA, []string{"1"})))

	entries, err := two.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, two.Clear(ctx))
	entries, err = one.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
