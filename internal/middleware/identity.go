package middleware

import "github.com/labstack/echo/v4"

// shopperID returns the subject stored by BearerForward, or "anon".
func shopperID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	return "anon"
}
