package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/testutil"
	"github.com/iliyamo/bus-seat-hold/internal/utils"
)

var tripA = model.TripKey{BusID: "bus-1", Date: "2026-10-20", DepartureTime: "21:30"}

func newClient(t *testing.T) (*api.Client, *testutil.SeatServer) {
	t.Helper()
	srv := testutil.NewSeatServer()
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL()), srv
}

func TestAddSeatReturnsFullCart(t *testing.T) {
	c, _ := newClient(t)
	cart, err := c.AddSeat(context.Background(), api.AddSeatRequest{
		BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, SeatNo: "12", Gender: "F",
	})
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.NotEmpty(t, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, api.SeatNo("12"), cart.Items[0].SeatNo)
	assert.Equal(t, tripA, cart.Trip())
	assert.Equal(t, testutil.SeatPrice+testutil.SeatFee, cart.Total)
}

func TestAddSeatConflict(t *testing.T) {
	c, srv := newClient(t)
	srv.Book(tripA, "12", "M")

	_, err := c.AddSeat(context.Background(), api.AddSeatRequest{
		BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, SeatNo: "12", Gender: "M",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrSeatUnavailable)

	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestRemoveLastSeatReturnsNilCart(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	cart, err := c.AddSeat(ctx, api.AddSeatRequest{
		BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, SeatNo: "3", Gender: "M",
	})
	require.NoError(t, err)

	after, err := c.RemoveSeat(ctx, api.RemoveSeatRequest{CartID: cart.ID, SeatNo: "3"})
	require.NoError(t, err)
	assert.Nil(t, after)
}

func TestMyCartEmpty(t *testing.T) {
	c, _ := newClient(t)
	cart, err := c.MyCart(context.Background(), &tripA)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestMyCartNotFoundIsEmpty(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail(testutil.RouteMine, http.StatusNotFound, 0, "")
	cart, err := c.MyCart(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestFetchAvailabilityNormalizesSeats(t *testing.T) {
	c, srv := newClient(t)
	srv.Book(tripA, "7", "f")
	srv.Book(tripA, "U1", "M")

	rec, err := c.FetchAvailability(context.Background(), tripA)
	require.NoError(t, err)
	require.NotNil(t, rec.Available)
	assert.Equal(t, testutil.Capacity-2, *rec.Available)
	assert.Nil(t, rec.Window)
	assert.ElementsMatch(t, []string{"7", "U1"}, rec.BookedSeats)
	assert.Equal(t, "F", rec.SeatGenderMap["7"])
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail(testutil.RouteAvailability, http.StatusTooManyRequests, 30, "too_many_requests")

	_, err := c.FetchAvailability(context.Background(), tripA)
	require.Error(t, err)
	assert.True(t, api.IsRateLimited(err))
	d, ok := api.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)
}

func TestBadRequestMentioningUnavailableIsConflict(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail(testutil.RouteAdd, http.StatusBadRequest, 0, "some seats are unavailable")
	_, err := c.AddSeat(context.Background(), api.AddSeatRequest{BusID: "b", Date: "d", DepartureTime: "t", SeatNo: "1"})
	assert.ErrorIs(t, err, api.ErrSeatUnavailable)

	srv.Fail(testutil.RouteAdd, http.StatusUnprocessableEntity, 0, "departure already passed")
	_, err = c.AddSeat(context.Background(), api.AddSeatRequest{BusID: "b", Date: "d", DepartureTime: "t", SeatNo: "1"})
	assert.ErrorIs(t, err, api.ErrRejected)
}

func TestTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := api.NewClient(url)
	_, err := c.FetchAvailability(context.Background(), tripA)
	assert.ErrorIs(t, err, api.ErrTransport)
}

func TestExpiredTokenFailsWithoutRequest(t *testing.T) {
	srv := testutil.NewSeatServer()
	defer srv.Close()
	tok, err := utils.NewAccessToken("s3cret", "u1", time.Minute)
	require.NoError(t, err)

	c := api.NewClient(srv.URL(), api.WithStaticToken(tok.Token))
	ctx := api.WithToken(context.Background(), tok.Token)
	_, err = c.MyCart(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, tok.Token, srv.LastToken())

	expired := api.NewClient(srv.URL(), api.WithStaticToken(tok.Token), api.WithClock(clock.Fake(time.Now().Add(time.Hour))))
	before := srv.Calls(testutil.RouteMine)
	_, err = expired.MyCart(context.Background(), nil)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, before, srv.Calls(testutil.RouteMine))
}

func TestCheckoutSendsIdempotencyKey(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	cart, err := c.AddSeat(ctx, api.AddSeatRequest{BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, SeatNo: "1", Gender: "M"})
	require.NoError(t, err)

	pi, err := c.PaymentIntent(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_"+cart.ID, pi.PaymentIntentID)

	booking, err := c.Checkout(ctx, api.CheckoutRequest{CartID: cart.ID, PaymentIntentID: pi.PaymentIntentID, IdempotencyKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", booking.Status)
	assert.NotEmpty(t, booking.Raw)

	_, err = c.Checkout(ctx, api.CheckoutRequest{CartID: "missing"})
	assert.ErrorIs(t, err, api.ErrNotFound)

	keys := srv.IdempotencyKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "key-1", keys[0])
	assert.NotEmpty(t, keys[1])
}

func TestReleaseLocksSendsClientID(t *testing.T) {
	c, srv := newClient(t)
	err := c.ReleaseLocks(context.Background(), api.ReleaseRequest{
		BusID: tripA.BusID, Date: tripA.Date, DepartureTime: tripA.DepartureTime, Seats: []string{"1", "2"}, ClientID: "dev-1",
	})
	require.NoError(t, err)
	rel := srv.Releases()
	require.Len(t, rel, 1)
	assert.Equal(t, "dev-1", rel[0].ClientID)
	assert.Equal(t, []string{"1", "2"}, rel[0].Seats)
}
