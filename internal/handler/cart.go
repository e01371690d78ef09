package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/cart"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// CartHandler exposes the cart store to the local UI.  Every mutation
// goes through the store so the snapshot and the lock registry stay in
// step with the server.
type CartHandler struct {
	Store *cart.Store
}

// NewCartHandler panics on a nil store.
func NewCartHandler(store *cart.Store) *CartHandler {
	if store == nil {
		panic("nil store passed to NewCartHandler")
	}
	return &CartHandler{Store: store}
}

// Get handles GET /v1/cart.  With a trip it returns that trip's local
// snapshot, without one every snapshot known locally.  No server call is
// made.
func (h *CartHandler) Get(c echo.Context) error {
	if c.QueryParam("trip") == "" && c.QueryParam("busId") == "" {
		return c.JSON(http.StatusOK, echo.Map{"carts": h.Store.All()})
	}
	trip, err := tripFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.Store.Snapshot(trip))
}

// Sync handles POST /v1/cart/sync.  The body may name a trip to scope
// the lookup; an empty body syncs whatever cart the server has.
func (h *CartHandler) Sync(c echo.Context) error {
	var body model.TripKey
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	var filter *model.TripKey
	if !body.IsZero() {
		filter = &body
	}
	snap, err := h.Store.GetMine(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type addSeatBody struct {
	model.TripKey
	SeatNo string `json:"seatNo"`
	Gender string `json:"gender"`
}

// AddSeat handles POST /v1/cart/seats.
func (h *CartHandler) AddSeat(c echo.Context) error {
	var body addSeatBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	snap, err := h.Store.AddSeat(c.Request().Context(), body.TripKey, body.SeatNo, body.Gender)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// RemoveSeat handles DELETE /v1/cart/seats/:seat with the trip in the
// query string.  A skipped removal still answers 200 with Skipped set.
func (h *CartHandler) RemoveSeat(c echo.Context) error {
	trip, err := tripFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Store.RemoveSeat(c.Request().Context(), trip, c.Param("seat"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Extend handles POST /v1/cart/extend.
func (h *CartHandler) Extend(c echo.Context) error {
	var trip model.TripKey
	if err := c.Bind(&trip); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Store.ExtendLocks(c.Request().Context(), trip)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type paymentIntentBody struct {
	model.TripKey
	CartID string `json:"cartId"`
}

// PaymentIntent handles POST /v1/cart/payment-intent.  The cart id
// defaults to the named trip's cart.
func (h *CartHandler) PaymentIntent(c echo.Context) error {
	var body paymentIntentBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	cartID := strings.TrimSpace(body.CartID)
	if cartID == "" && !body.TripKey.IsZero() {
		if snap := h.Store.Snapshot(body.TripKey); snap.HasCart() {
			cartID = *snap.CartID
		}
	}
	if cartID == "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "no active cart"})
	}
	pi, err := h.Store.PaymentIntent(c.Request().Context(), cartID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pi)
}

type checkoutBody struct {
	model.TripKey
	api.CheckoutRequest
}

// Checkout handles POST /v1/cart/checkout.  An Idempotency-Key header is
// forwarded so a retried click cannot book twice.
func (h *CartHandler) Checkout(c echo.Context) error {
	var body checkoutBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := body.TripKey.Validate(); err != nil {
		return writeError(c, err)
	}
	if body.CheckoutRequest.CartID == "" && !h.Store.Snapshot(body.TripKey).HasCart() {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "no active cart"})
	}
	if strings.TrimSpace(body.PaymentIntentID) == "" {
		return badRequest(c, "paymentIntentId is required")
	}
	body.IdempotencyKey = c.Request().Header.Get("Idempotency-Key")
	booking, err := h.Store.Checkout(c.Request().Context(), body.TripKey, body.CheckoutRequest)
	if err != nil {
		return writeError(c, err)
	}
	if len(booking.Raw) > 0 {
		return c.JSONBlob(http.StatusCreated, booking.Raw)
	}
	return c.JSON(http.StatusCreated, booking)
}
