package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// writeError maps err onto an HTTP status and writes the usual
// {"error": ...} body.
func writeError(c echo.Context, err error) error {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, model.ErrInvalidTrip), errors.Is(err, cart.ErrInvalidSeat):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrSeatUnavailable):
		status = http.StatusConflict
	case errors.Is(err, api.ErrRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrRateLimited):
		status = http.StatusTooManyRequests
		if ra, ok := api.RetryAfter(err); ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ra.Seconds()))))
		}
	case errors.Is(err, api.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// tripFromQuery reads a trip either from a single "trip" parameter in
// busId|date|departureTime form or from the three separate parameters.
func tripFromQuery(c echo.Context) (model.TripKey, error) {
	if raw := c.QueryParam("trip"); raw != "" {
		return model.ParseTripKey(raw)
	}
	k := model.TripKey{
		BusID:         strings.TrimSpace(c.QueryParam("busId")),
		Date:          strings.TrimSpace(c.QueryParam("date")),
		DepartureTime: strings.TrimSpace(c.QueryParam("departureTime")),
	}
	return k, k.Validate()
}

// tripsFromQuery collects every repeated "trip" parameter.
func tripsFromQuery(c echo.Context) ([]model.TripKey, error) {
	raws := c.QueryParams()["trip"]
	out := make([]model.TripKey, 0, len(raws))
	for _, raw := range raws {
		for _, part := range strings.Split(raw, ",") {
			if part == "" {
				continue
			}
			k, err := model.ParseTripKey(part)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
	}
	return out, nil
}
