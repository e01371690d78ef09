package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/availability"
	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
)

// TripHandler joins a trip's cart snapshot with its availability record
// into the seat map the UI draws.
type TripHandler struct {
	Store *cart.Store
	Avail *availability.Map
	Clock clock.Clock
}

// NewTripHandler defaults clk to the wall clock.
func NewTripHandler(store *cart.Store, avail *availability.Map, clk clock.Clock) *TripHandler {
	if store == nil || avail == nil {
		panic("nil dependency passed to NewTripHandler")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &TripHandler{Store: store, Avail: avail, Clock: clk}
}

// Seats handles GET /v1/trips/seats.  Seats outside both lists are free.
func (h *TripHandler) Seats(c echo.Context) error {
	trip, err := tripFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	rec, _ := h.Avail.Get(trip)
	return c.JSON(http.StatusOK, h.Store.SeatView(trip, rec, h.Clock.Now()))
}
