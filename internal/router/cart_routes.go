package router

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/handler"
	"github.com/iliyamo/bus-seat-hold/internal/middleware"
)

// Handlers bundles everything mounted under /v1.
type Handlers struct {
	Cart         *handler.CartHandler
	Availability *handler.AvailabilityHandler
	Trips        *handler.TripHandler
	Session      *handler.SessionHandler
}

// RegisterAPI mounts the shopper endpoints under /v1.  A bearer token on
// the request, when present, is forwarded to the booking server in place
// of the configured one.  refreshLimit wraps the refresh route so a busy
// UI cannot turn forced refreshes into a flood; pass nil to skip it.
func RegisterAPI(e *echo.Echo, h Handlers, now func() time.Time, refreshLimit echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.BearerForward(now))

	g.GET("/cart", h.Cart.Get)
	g.POST("/cart/sync", h.Cart.Sync)
	g.POST("/cart/seats", h.Cart.AddSeat)
	g.DELETE("/cart/seats/:seat", h.Cart.RemoveSeat)
	g.POST("/cart/extend", h.Cart.Extend)
	g.POST("/cart/payment-intent", h.Cart.PaymentIntent)
	g.POST("/cart/checkout", h.Cart.Checkout)

	g.GET("/availability", h.Availability.Get)
	if refreshLimit != nil {
		g.POST("/availability/refresh", h.Availability.Refresh, refreshLimit)
	} else {
		g.POST("/availability/refresh", h.Availability.Refresh)
	}
	g.GET("/trips/seats", h.Trips.Seats)

	registerSession(g, h.Session)
}
