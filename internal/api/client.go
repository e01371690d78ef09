// Package api is the client side of the booking server's REST contract:
// cart mutations, seat availability, lock release, payment intent and
// checkout.  The server owns the wire format and every policy (lock
// expiry, extension limits, idempotency); this package only moves
// requests and classifies failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/utils"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

type tokenKey struct{}

// WithToken returns a context carrying the shopper's bearer token.  It
// takes precedence over the client's configured token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

// Client talks to the booking server.  It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithStaticToken sets the bearer token used when the request context
// carries none.
func WithStaticToken(token string) Option { return func(c *Client) { c.token = token } }

// WithClock sets the clock used for token expiry checks.
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		clock:   clock.Real(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddSeat locks seatNo on the trip and returns the full cart.
func (c *Client) AddSeat(ctx context.Context, req AddSeatRequest) (*Cart, error) {
	const op = "add seat"
	body, err := c.do(ctx, op, http.MethodPost, "/api/cart/add", nil, req, nil)
	if err != nil {
		return nil, err
	}
	cart, err := decodeCart(body)
	if err != nil {
		return nil, decodeError(op, http.StatusOK, err)
	}
	if cart == nil {
		return nil, decodeError(op, http.StatusOK, errors.New("response carries no cart"))
	}
	return cart, nil
}

// RemoveSeat releases one seat.  A nil cart means the cart is gone.
func (c *Client) RemoveSeat(ctx context.Context, req RemoveSeatRequest) (*Cart, error) {
	const op = "remove seat"
	body, err := c.do(ctx, op, http.MethodPost, "/api/cart/remove", nil, req, nil)
	if err != nil {
		return nil, err
	}
	cart, err := decodeCart(body)
	if err != nil {
		return nil, decodeError(op, http.StatusOK, err)
	}
	return cart, nil
}

// MyCart fetches the active cart, optionally scoped to one trip.  A nil
// cart with a nil error means the server has no active cart.
func (c *Client) MyCart(ctx context.Context, filter *model.TripKey) (*Cart, error) {
	const op = "fetch cart"
	q := url.Values{}
	if filter != nil {
		q.Set("busId", filter.BusID)
		q.Set("date", filter.Date)
		q.Set("departureTime", filter.DepartureTime)
	}
	body, err := c.do(ctx, op, http.MethodGet, "/api/cart/mine", q, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cart, err := decodeCart(body)
	if err != nil {
		return nil, decodeError(op, http.StatusOK, err)
	}
	return cart, nil
}

// ExtendLocks asks the server to extend every lock this shopper holds on
// the trip.  The extension policy is enforced server side.
func (c *Client) ExtendLocks(ctx context.Context, trip model.TripKey) (ExtendResult, error) {
	const op = "extend locks"
	body, err := c.do(ctx, op, http.MethodPost, "/api/cart/extend", nil, tripBodyOf(trip), nil)
	if err != nil {
		return ExtendResult{}, err
	}
	res := ExtendResult{OK: true}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &res); err != nil {
			return ExtendResult{}, decodeError(op, http.StatusOK, err)
		}
	}
	return res, nil
}

// FetchAvailability returns the shared seat picture for a trip.  Booked
// seats are normalized to strings.
func (c *Client) FetchAvailability(ctx context.Context, trip model.TripKey) (model.Availability, error) {
	const op = "fetch availability"
	q := url.Values{}
	q.Set("date", trip.Date)
	q.Set("departureTime", trip.DepartureTime)
	path := "/api/buses/" + url.PathEscape(trip.BusID) + "/availability"
	var wire availabilityWire
	if _, err := c.do(ctx, op, http.MethodGet, path, q, nil, &wire); err != nil {
		return model.Availability{}, err
	}
	return wire.record(c.clock.Now()), nil
}

// ReleaseLocks asks the server to drop the listed seats held by the
// device identified in req.ClientID.
func (c *Client) ReleaseLocks(ctx context.Context, req ReleaseRequest) error {
	_, err := c.do(ctx, "release locks", http.MethodPost, "/api/locks/release", nil, req, nil)
	return err
}

// PaymentIntent creates a payment intent for a cart.
func (c *Client) PaymentIntent(ctx context.Context, cartID string) (PaymentIntent, error) {
	var out PaymentIntent
	_, err := c.do(ctx, "payment intent", http.MethodPost, "/api/payments/intent", nil,
		map[string]string{"cartId": cartID}, &out)
	return out, err
}

// Checkout confirms a booking.  Retries with the same IdempotencyKey are
// deduplicated by the server.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (Booking, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	var out Booking
	_, err := c.do(ctx, "checkout", http.MethodPost, "/api/bookings/checkout", nil, req, &out,
		header{"Idempotency-Key", key})
	return out, err
}

type header struct{ name, value string }

// do performs one request.  When out is non-nil a 2xx body is decoded
// into it; the raw body is returned either way.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any, extra ...header) ([]byte, error) {
	token := tokenFrom(ctx)
	if token == "" {
		token = c.token
	}
	if _, err := utils.InspectAccessToken(token, c.clock.Now()); errors.Is(err, utils.ErrTokenExpired) {
		return nil, &Error{Op: op, Status: http.StatusUnauthorized, Message: "access token expired", Err: ErrUnauthorized}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("api: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("api: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, h := range extra {
		req.Header.Set(h.name, h.value)
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "error", err)
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(op, err)
	}
	c.logger.Debug("request done", "op", op, "status", resp.StatusCode, "elapsed", c.clock.Now().Sub(start))

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		retry := parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
		if retry == 0 && eb.RetryAfter > 0 {
			retry = time.Duration(eb.RetryAfter) * time.Second
		}
		return body, newError(op, resp.StatusCode, eb.text(), retry)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return body, decodeError(op, resp.StatusCode, err)
		}
	}
	return body, nil
}

// decodeCart accepts either a bare cart object or an envelope
// {"cart": …}.  It returns nil when the body carries no cart.
func decodeCart(body []byte) (*Cart, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	var env struct {
		Cart json.RawMessage `json:"cart"`
		ID   string          `json:"_id"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	raw := env.Cart
	if len(raw) == 0 || string(raw) == "null" {
		if env.ID == "" {
			return nil, nil
		}
		raw = body
	}
	var cart Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}
