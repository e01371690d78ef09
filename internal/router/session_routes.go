package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/handler"
)

// registerSession mounts the page lifecycle endpoints.  Teardown is what
// the UI calls when its window closes.
func registerSession(g *echo.Group, h *handler.SessionHandler) {
	g.PUT("/session/focus", h.Focus)
	g.POST("/session/visibility", h.Visibility)
	g.POST("/session/teardown", h.Teardown)
	g.GET("/session/events", h.RecentEvents)
}
