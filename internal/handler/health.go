// Package handler contains the HTTP handlers of the local API.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health reports that the companion is up.  It does not reach the
// booking server.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
