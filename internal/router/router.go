// Package router registers the local API routes on an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/handler"
)

// RegisterRoutes registers routes that do not need a shopper token.
// At the moment it only exposes a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}
