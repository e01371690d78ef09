package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

func TestSeatViewPrefersLocalCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddSeat(context.Background(), tripA, "3", "F")
	require.NoError(t, err)

	five := 5
	avail := model.Availability{
		Available:     &five,
		BookedSeats:   []string{"3", "8"},
		SeatGenderMap: map[string]string{"3": "M", "8": "F"},
	}
	v := f.store.SeatView(tripA, avail, time.Now())

	assert.Equal(t, []string{"3"}, v.Mine)
	assert.Equal(t, []string{"8"}, v.Booked)
	assert.Equal(t, "F", v.Genders["3"])
	assert.Equal(t, cart.SeatMine, v.Status("3"))
	assert.Equal(t, cart.SeatBooked, v.Status("8"))
	assert.Equal(t, cart.SeatFree, v.Status("1"))
	assert.Equal(t, 5, *v.Available)
}

func TestSeatViewDropsExpiredHolds(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.AddSeat(context.Background(), tripA, "3", "M")
	require.NoError(t, err)

	v := f.store.SeatView(tripA, model.Availability{}, snap.ExpiresAt.Add(time.Second))
	assert.True(t, v.Expired)
	assert.Empty(t, v.Mine)
	assert.Equal(t, cart.SeatFree, v.Status("3"))
	assert.Nil(t, v.Available)
}
