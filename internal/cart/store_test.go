package cart_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
	"github.com/iliyamo/bus-seat-hold/internal/registry"
	"github.com/iliyamo/bus-seat-hold/internal/testutil"
)

var (
	tripA = model.TripKey{BusID: "bus-1", Date: "2026-10-20", DepartureTime: "21:30"}
	tripB = model.TripKey{BusID: "bus-2", Date: "2026-10-21", DepartureTime: "07:15"}
)

type fixture struct {
	store  *cart.Store
	reg    *registry.Registry
	srv    *testutil.SeatServer
	events *queue.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv := testutil.NewSeatServer()
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL())
	reg := registry.New(registry.NewMemoryStorage(), client, "device-1")
	rec := queue.NewRecorder(0)
	store := cart.NewStore(client, reg, cart.WithPublisher(rec), cart.WithClientID("device-1"))
	return fixture{store: store, reg: reg, srv: srv, events: rec}
}

func registrySeats(t *testing.T, reg *registry.Registry, trip model.TripKey) []string {
	t.Helper()
	entries, err := reg.Entries(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		if e.TripKey == trip.String() {
			return e.Seats
		}
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.store.AddSeat(ctx, tripA, "12", "F")
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, snap.Seats)
	assert.Equal(t, "F", snap.Genders["12"])
	require.NotNil(t, snap.CartID)
	require.NotNil(t, snap.ExpiresAt)
	assert.True(t, snap.ExpiresAt.After(time.Now()))
	assert.Equal(t, []string{"12"}, registrySeats(t, f.reg, tripA))

	res, err := f.store.RemoveSeat(ctx, tripA, "12")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Snapshot.Seats)
	assert.Nil(t, res.Snapshot.CartID)

	stored := f.store.Snapshot(tripA)
	assert.Empty(t, stored.Seats)
	assert.Nil(t, stored.CartID)
	assert.Nil(t, registrySeats(t, f.reg, tripA))
}

func TestSnapshotEqualsServerCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.AddSeat(ctx, tripA, "1", "")
	require.NoError(t, err)
	snap, err := f.store.AddSeat(ctx, tripA, "2", "F")
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, snap.Seats)
	assert.Equal(t, map[string]string{"1": "M", "2": "F"}, snap.Genders)
	assert.Equal(t, model.Pricing{
		Subtotal: 2 * testutil.SeatPrice,
		Fee:      2 * testutil.SeatFee,
		Total:    2 * (testutil.SeatPrice + testutil.SeatFee),
	}, snap.Pricing)
	assert.Equal(t, "bp-1", snap.BoardingPoint)
	assert.Equal(t, f.srv.HeldSeats(tripA), f.store.Snapshot(tripA).Seats)
}

func TestRegistryAlwaysCoversHeldSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []struct {
		add  bool
		trip model.TripKey
		seat string
	}{
		{true, tripA, "1"}, {true, tripA, "2"}, {true, tripB, "9"},
		{false, tripA, "1"}, {true, tripA, "3"}, {false, tripB, "9"},
		{false, tripB, "9"}, {true, tripB, "10"},
	}
	for _, st := range steps {
		if st.add {
			_, err := f.store.AddSeat(ctx, st.trip, st.seat, "M")
			require.NoError(t, err)
		} else {
			_, err := f.store.RemoveSeat(ctx, st.trip, st.seat)
			require.NoError(t, err)
		}
		for _, trip := range []model.TripKey{tripA, tripB} {
			held := f.store.Snapshot(trip).Seats
			assert.Subset(t, registrySeats(t, f.reg, trip), held, "trip %s after %+v", trip, st)
		}
	}
}

func TestRemoveWithoutCartIsSkipped(t *testing.T) {
	f := newFixture(t)
	res, err := f.store.RemoveSeat(context.Background(), tripA, "4")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "no active cart", res.Reason)
	assert.Zero(t, f.srv.Calls(testutil.RouteRemove))
}

func TestAddFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddSeat(ctx, tripA, "1", "M")
	require.NoError(t, err)
	before := f.store.Snapshot(tripA)

	f.srv.Book(tripA, "2", "F")
	_, err = f.store.AddSeat(ctx, tripA, "2", "M")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrSeatUnavailable)

	f.srv.Fail(testutil.RouteAdd, http.StatusInternalServerError, 0, "")
	_, err = f.store.AddSeat(ctx, tripA, "3", "M")
	assert.ErrorIs(t, err, api.ErrServer)

	assert.Equal(t, before, f.store.Snapshot(tripA))
	assert.Equal(t, []string{"1"}, registrySeats(t, f.reg, tripA))
}

func TestRemoveFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddSeat(ctx, tripA, "1", "M")
	require.NoError(t, err)
	before := f.store.Snapshot(tripA)

	f.srv.Fail(testutil.RouteRemove, http.StatusBadGateway, 0, "")
	_, err = f.store.RemoveSeat(ctx, tripA, "1")
	require.Error(t, err)
	assert.Equal(t, before, f.store.Snapshot(tripA))
	assert.Equal(t, []string{"1"}, registrySeats(t, f.reg, tripA))
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddSeat(ctx, model.TripKey{BusID: "b"}, "1", "M")
	assert.ErrorIs(t, err, model.ErrInvalidTrip)
	_, err = f.store.AddSeat(ctx, tripA, "  ", "M")
	assert.ErrorIs(t, err, cart.ErrInvalidSeat)
	assert.Zero(t, f.srv.Calls(testutil.RouteAdd))
}

func TestGetMineHydratesAndMirrorsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddSeat(ctx, tripA, "5", "F")
	require.NoError(t, err)

	// A fresh store and registry, as after a restart that lost both.
	client := api.NewClient(f.srv.URL())
	reg := registry.New(registry.NewMemoryStorage(), client, "device-1")
	fresh := cart.NewStore(client, reg)

	snap, err := fresh.GetMine(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, snap.Seats)
	assert.Equal(t, tripA, snap.Trip())
	assert.Equal(t, []string{"5"}, fresh.Snapshot(tripA).Seats)
	assert.Equal(t, []string{"5"}, registrySeats(t, reg, tripA))
}

func TestGetMineWithoutCartResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddSeat(ctx, tripA, "5", "M")
	require.NoError(t, err)

	// The hold vanished server side, e.g. it expired.
	require.NoError(t, api.NewClient(f.srv.URL()).ReleaseLocks(ctx, api.ReleaseRequest{
		BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, Seats: []string{"5"},
	}))

	snap, err := f.store.GetMine(ctx, &tripA)
	require.NoError(t, err)
	assert.Empty(t, snap.Seats)
	assert.False(t, f.store.Snapshot(tripA).HasCart())

	f.srv.Fail(testutil.RouteMine, http.StatusNotFound, 0, "")
	_, err = f.store.GetMine(ctx, nil)
	assert.NoError(t, err)
}

func TestExtendLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.store.ExtendLocks(ctx, tripA)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Zero(t, f.srv.Calls(testutil.RouteExtend))

	snap, err := f.store.AddSeat(ctx, tripA, "1", "M")
	require.NoError(t, err)
	res, err = f.store.ExtendLocks(ctx, tripA)
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.After(*snap.ExpiresAt))

	// Local expiry only moves on the next fetch.
	assert.Equal(t, snap.ExpiresAt, f.store.Snapshot(tripA).ExpiresAt)
	refreshed, err := f.store.GetMine(ctx, &tripA)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(*snap.ExpiresAt))
}

func TestCheckoutClearsHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.store.AddSeat(ctx, tripA, "7", "M")
	require.NoError(t, err)

	pi, err := f.store.PaymentIntent(ctx, *snap.CartID)
	require.NoError(t, err)
	booking, err := f.store.Checkout(ctx, tripA, api.CheckoutRequest{PaymentIntentID: pi.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", booking.Status)

	assert.False(t, f.store.Snapshot(tripA).HasCart())
	assert.Nil(t, registrySeats(t, f.reg, tripA))

	types := []string{}
	for _, ev := range f.events.Events() {
		types = append(types, ev.Type)
		assert.Equal(t, "device-1", ev.ClientID)
	}
	assert.Equal(t, []string{queue.EventSeatHeld, queue.EventCartCheckedOut}, types)

	_, err = f.store.Checkout(ctx, tripB, api.CheckoutRequest{})
	assert.Error(t, err)
}

type brokenLedger struct{}

func (brokenLedger) Add(context.Context, model.TripKey, []string) error {
	return errors.New("disk full")
}

func (brokenLedger) Remove(context.Context, model.TripKey, []string) error {
	return errors.New("disk full")
}

func TestLedgerFailureDoesNotFailMutation(t *testing.T) {
	srv := testutil.NewSeatServer()
	defer srv.Close()
	store := cart.NewStore(api.NewClient(srv.URL()), brokenLedger{})

	snap, err := store.AddSeat(context.Background(), tripA, "1", "M")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, snap.Seats)
	_, err = store.RemoveSeat(context.Background(), tripA, "1")
	require.NoError(t, err)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddSeat(context.Background(), tripA, "1", "M")
	require.NoError(t, err)

	snap := f.store.Snapshot(tripA)
	snap.Seats[0] = "99"
	snap.Genders["1"] = "F"
	assert.Equal(t, []string{"1"}, f.store.Snapshot(tripA).Seats)
	assert.Equal(t, "M", f.store.Snapshot(tripA).Genders["1"])
	assert.Len(t, f.store.All(), 1)
}
