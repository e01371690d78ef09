package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/availability"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// maxWait caps how long a GET /v1/availability long-poll may block.
const maxWait = 30 * time.Second

// AvailabilityHandler serves the shared availability map and lets the
// UI ask for a refresh.
type AvailabilityHandler struct {
	Ctrl *availability.Controller
}

// NewAvailabilityHandler panics on a nil controller.
func NewAvailabilityHandler(ctrl *availability.Controller) *AvailabilityHandler {
	if ctrl == nil {
		panic("nil controller passed to NewAvailabilityHandler")
	}
	return &AvailabilityHandler{Ctrl: ctrl}
}

type availabilityResponse struct {
	Version      uint64                        `json:"version"`
	Records      map[string]model.Availability `json:"records"`
	BackoffUntil *time.Time                    `json:"backoffUntil,omitempty"`
}

// Get handles GET /v1/availability.  Repeated "trip" parameters select
// records; none selects all.  With since=<version> the call waits up to
// wait (default and cap 30s) for the map to move past that version.
func (h *AvailabilityHandler) Get(c echo.Context) error {
	trips, err := tripsFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	m := h.Ctrl.Map()
	if raw := c.QueryParam("since"); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid since")
		}
		wait := maxWait
		if w := c.QueryParam("wait"); w != "" {
			d, err := time.ParseDuration(w)
			if err != nil || d < 0 {
				return badRequest(c, "invalid wait")
			}
			if d < wait {
				wait = d
			}
		}
		ch, cancel := m.Watch()
		defer cancel()
		if m.Version() <= since {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ch:
			case <-timer.C:
			case <-c.Request().Context().Done():
				return nil
			}
		}
	}

	resp := availabilityResponse{Version: m.Version(), Records: map[string]model.Availability{}}
	if len(trips) == 0 {
		resp.Records = m.All()
	}
	for _, t := range trips {
		if rec, ok := m.Get(t); ok {
			resp.Records[t.String()] = rec
		}
	}
	if until := h.Ctrl.BackoffUntil(); !until.IsZero() {
		resp.BackoffUntil = &until
	}
	return c.JSON(http.StatusOK, resp)
}

type refreshBody struct {
	Trips []model.TripKey `json:"trips"`
	Force bool            `json:"force"`
}

// Refresh handles POST /v1/availability/refresh.  Fetch failures are
// not errors: the report lists them and the map keeps the last record.
func (h *AvailabilityHandler) Refresh(c echo.Context) error {
	var body refreshBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.Trips) == 0 {
		return badRequest(c, "trips is required")
	}
	rep := h.Ctrl.Refresh(c.Request().Context(), body.Trips, body.Force)
	return c.JSON(http.StatusOK, rep)
}
