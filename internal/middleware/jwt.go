package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/utils"
)

// BearerForward copies the shopper's bearer token into the request
// context so the booking client sends it upstream.  The companion does
// not hold the server's signing key, so the token is only inspected: an
// expired JWT is rejected here instead of after a round trip.  Requests
// without a token fall through and use the configured one.
func BearerForward(now func() time.Time) echo.MiddlewareFunc {
	if now == nil {
		now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return next(c)
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			tok, err := utils.InspectAccessToken(raw, now())
			if errors.Is(err, utils.ErrTokenExpired) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
			}
			if tok.Subject != "" {
				c.Set("user_id", tok.Subject)
			}
			req := c.Request()
			c.SetRequest(req.WithContext(api.WithToken(req.Context(), raw)))
			return next(c)
		}
	}
}
