package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/availability"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
	"github.com/iliyamo/bus-seat-hold/internal/registry"
)

// teardownTimeout bounds the release calls made by Teardown.
const teardownTimeout = 5 * time.Second

// SessionHandler carries the UI's page state: which trips are on screen,
// whether the page is visible and when it goes away.
type SessionHandler struct {
	Poller   *availability.Poller
	Registry *registry.Registry
	Events   *queue.Recorder // optional recent lock events
}

// NewSessionHandler panics on nil dependencies.
func NewSessionHandler(p *availability.Poller, reg *registry.Registry) *SessionHandler {
	if p == nil || reg == nil {
		panic("nil dependency passed to NewSessionHandler")
	}
	return &SessionHandler{Poller: p, Registry: reg}
}

type focusBody struct {
	Focus   *model.TripKey  `json:"focus"`
	Visible []model.TripKey `json:"visible"`
}

// Focus handles PUT /v1/session/focus.  The body replaces both the
// expanded trip (null clears it) and the visible result page.
func (h *SessionHandler) Focus(c echo.Context) error {
	var body focusBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Focus != nil {
		if err := body.Focus.Validate(); err != nil {
			return writeError(c, err)
		}
	}
	visible := make([]model.TripKey, 0, len(body.Visible))
	for _, t := range body.Visible {
		if t.Validate() == nil {
			visible = append(visible, t)
		}
	}
	h.Poller.SetFocus(body.Focus)
	h.Poller.SetVisibleTrips(visible)
	return c.JSON(http.StatusOK, echo.Map{"targets": h.Poller.Targets()})
}

type visibilityBody struct {
	Visible bool `json:"visible"`
}

// Visibility handles POST /v1/session/visibility.
func (h *SessionHandler) Visibility(c echo.Context) error {
	var body visibilityBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	h.Poller.SetVisible(body.Visible)
	return c.NoContent(http.StatusNoContent)
}

// Teardown handles POST /v1/session/teardown: every seat this device
// still holds is released and the registry cleared.  The release runs
// detached from the request so a closing page cannot cut it short.
func (h *SessionHandler) Teardown(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), teardownTimeout)
	defer cancel()
	rep := h.Registry.ReleaseAll(ctx)
	return c.JSON(http.StatusOK, rep)
}

// RecentEvents handles GET /v1/session/events: the latest lock events
// of this device, oldest first.
func (h *SessionHandler) RecentEvents(c echo.Context) error {
	events := []queue.LockEvent{}
	if h.Events != nil {
		events = append(events, h.Events.Events()...)
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}
