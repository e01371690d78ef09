// Package testutil provides an in-memory booking server speaking the
// same REST contract as production, for tests of the cart store, the
// availability controller, the lock registry and the local API.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Route names accepted by Fail and Calls.
const (
	RouteAdd          = "/api/cart/add"
	RouteRemove       = "/api/cart/remove"
	RouteMine         = "/api/cart/mine"
	RouteExtend       = "/api/cart/extend"
	RouteAvailability = "/api/buses/:busId/availability"
	RouteRelease      = "/api/locks/release"
	RouteIntent       = "/api/payments/intent"
	RouteCheckout     = "/api/bookings/checkout"
)

// SeatPrice and SeatFee are the per-seat amounts the fake server charges.
const (
	SeatPrice = 500.0
	SeatFee   = 20.0
	Capacity  = 40
)

type failure struct {
	status     int
	retryAfter int
	message    string
}

type heldCart struct {
	id        string
	trip      model.TripKey
	items     []api.CartItem
	expiresAt time.Time
}

// SeatServer is a fake booking server.  It keeps one cart per trip for a
// single shopper and a set of seats booked by "other" shoppers.
type SeatServer struct {
	mu        sync.Mutex
	srv       *httptest.Server
	now       func() time.Time
	holdTTL   time.Duration
	nextID    int
	carts     map[string]*heldCart
	booked    map[string]map[string]string
	calls     map[string]int
	failures  map[string][]failure
	gate      chan struct{}
	releases  []api.ReleaseRequest
	idemKeys  []string
	lastToken string
}

// NewSeatServer starts a fake server.  Close it when done.
func NewSeatServer() *SeatServer {
	s := &SeatServer{
		now:      time.Now,
		holdTTL:  10 * time.Minute,
		carts:    map[string]*heldCart{},
		booked:   map[string]map[string]string{},
		calls:    map[string]int{},
		failures: map[string][]failure{},
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(s.track)
	e.POST(RouteAdd, s.add)
	e.POST(RouteRemove, s.remove)
	e.GET(RouteMine, s.mine)
	e.POST(RouteExtend, s.extend)
	e.GET(RouteAvailability, s.availability)
	e.POST(RouteRelease, s.release)
	e.POST(RouteIntent, s.intent)
	e.POST(RouteCheckout, s.checkout)
	s.srv = httptest.NewServer(e)
	return s
}

// URL is the base URL of the server.
func (s *SeatServer) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *SeatServer) Close() { s.srv.Close() }

// SetNow overrides the server's clock.
func (s *SeatServer) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Book marks seat as booked by another shopper.
func (s *SeatServer) Book(trip model.TripKey, seat, gender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trip.String()
	if s.booked[k] == nil {
		s.booked[k] = map[string]string{}
	}
	s.booked[k][seat] = gender
}

// Fail makes the next call on route answer status.  retryAfter, when
// positive, is sent as the Retry-After header.
func (s *SeatServer) Fail(route string, status, retryAfter int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, retryAfter: retryAfter, message: message})
}

// HoldAvailability blocks availability responses until the returned
// function is called.
func (s *SeatServer) HoldAvailability() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many requests hit route.
func (s *SeatServer) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Releases returns every release request received.
func (s *SeatServer) Releases() []api.ReleaseRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ReleaseRequest(nil), s.releases...)
}

// IdempotencyKeys returns the Idempotency-Key headers seen on checkout.
func (s *SeatServer) IdempotencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.idemKeys...)
}

// LastToken returns the bearer token of the most recent request.
func (s *SeatServer) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastToken
}

// HeldSeats returns the seats currently locked in the trip's cart.
func (s *SeatServer) HeldSeats(trip model.TripKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.carts[trip.String()]
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, string(it.SeatNo))
	}
	return out
}

// track counts calls and serves injected failures.
func (s *SeatServer) track(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := c.Path()
		s.mu.Lock()
		s.calls[route]++
		if auth := c.Request().Header.Get("Authorization"); len(auth) > 7 {
			s.lastToken = auth[7:]
		}
		var f *failure
		if q := s.failures[route]; len(q) > 0 {
			f = &q[0]
			s.failures[route] = q[1:]
		}
		gate := s.gate
		s.mu.Unlock()

		if route == RouteAvailability && gate != nil {
			<-gate
		}
		if f != nil {
			if f.retryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(f.retryAfter))
			}
			msg := f.message
			if msg == "" {
				msg = http.StatusText(f.status)
			}
			return c.JSON(f.status, echo.Map{"error": msg})
		}
		return next(c)
	}
}

func (s *SeatServer) wire(c *heldCart) api.Cart {
	n := float64(len(c.items))
	exp := c.expiresAt
	return api.Cart{
		ID:             c.id,
		Items:          append([]api.CartItem(nil), c.items...),
		ExpiresAt:      &exp,
		Subtotal:       SeatPrice * n,
		ConvenienceFee: SeatFee * n,
		Total:          (SeatPrice + SeatFee) * n,
		Bus:            api.Ref{ID: c.trip.BusID},
		BoardingPoint:  api.Ref{ID: "bp-1"},
		DroppingPoint:  api.Ref{ID: "dp-1"},
		Date:           c.trip.Date,
		DepartureTime:  c.trip.DepartureTime,
	}
}

func (s *SeatServer) add(c echo.Context) error {
	var req api.AddSeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	trip := model.TripKey{BusID: req.BusID, Date: req.Date, DepartureTime: req.DepartureTime}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trip.String()
	if _, taken := s.booked[k][req.SeatNo]; taken {
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat already booked"})
	}
	cart := s.carts[k]
	if cart == nil {
		s.nextID++
		cart = &heldCart{id: fmt.Sprintf("cart-%d", s.nextID), trip: trip}
		s.carts[k] = cart
	}
	present := false
	for _, it := range cart.items {
		if string(it.SeatNo) == req.SeatNo {
			present = true
		}
	}
	if !present {
		cart.items = append(cart.items, api.CartItem{SeatNo: api.SeatNo(req.SeatNo), Gender: req.Gender})
	}
	cart.expiresAt = s.now().UTC().Add(s.holdTTL)
	return c.JSON(http.StatusOK, s.wire(cart))
}

func (s *SeatServer) remove(c echo.Context) error {
	var req api.RemoveSeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, cart := range s.carts {
		if cart.id != req.CartID {
			continue
		}
		kept := cart.items[:0]
		for _, it := range cart.items {
			if string(it.SeatNo) != req.SeatNo {
				kept = append(kept, it)
			}
		}
		cart.items = kept
		if len(cart.items) == 0 {
			delete(s.carts, k)
			return c.JSON(http.StatusOK, echo.Map{"cart": nil})
		}
		return c.JSON(http.StatusOK, echo.Map{"cart": s.wire(cart)})
	}
	return c.JSON(http.StatusNotFound, echo.Map{"error": "cart not found"})
}

func (s *SeatServer) mine(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bus := c.QueryParam("busId"); bus != "" {
		trip := model.TripKey{BusID: bus, Date: c.QueryParam("date"), DepartureTime: c.QueryParam("departureTime")}
		if cart := s.carts[trip.String()]; cart != nil {
			return c.JSON(http.StatusOK, echo.Map{"cart": s.wire(cart)})
		}
		return c.JSON(http.StatusOK, echo.Map{"cart": nil})
	}
	keys := make([]string, 0, len(s.carts))
	for k := range s.carts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return c.JSON(http.StatusOK, echo.Map{"cart": nil})
	}
	return c.JSON(http.StatusOK, echo.Map{"cart": s.wire(s.carts[keys[0]])})
}

func (s *SeatServer) extend(c echo.Context) error {
	var trip model.TripKey
	if err := c.Bind(&trip); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cart := s.carts[trip.String()]
	if cart == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active locks"})
	}
	cart.expiresAt = cart.expiresAt.Add(s.holdTTL)
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "expiresAt": cart.expiresAt})
}

func (s *SeatServer) availability(c echo.Context) error {
	trip := model.TripKey{BusID: c.Param("busId"), Date: c.QueryParam("date"), DepartureTime: c.QueryParam("departureTime")}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trip.String()
	booked := make([]any, 0, len(s.booked[k]))
	genders := map[string]string{}
	seats := make([]string, 0, len(s.booked[k]))
	for seat := range s.booked[k] {
		seats = append(seats, seat)
	}
	sort.Strings(seats)
	for _, seat := range seats {
		// Numeric seats go out as numbers, like the production server.
		if n, err := strconv.Atoi(seat); err == nil {
			booked = append(booked, n)
		} else {
			booked = append(booked, seat)
		}
		genders[seat] = s.booked[k][seat]
	}
	held := 0
	if cart := s.carts[k]; cart != nil {
		held = len(cart.items)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"availableSeats":       Capacity - len(seats) - held,
		"availableWindowSeats": nil,
		"bookedSeats":          booked,
		"seatGenderMap":        genders,
	})
}

func (s *SeatServer) release(c echo.Context) error {
	var req api.ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, req)
	trip := model.TripKey{BusID: req.BusID, Date: req.Date, DepartureTime: req.DepartureTime}
	if cart := s.carts[trip.String()]; cart != nil {
		drop := map[string]bool{}
		for _, seat := range req.Seats {
			drop[seat] = true
		}
		kept := cart.items[:0]
		for _, it := range cart.items {
			if !drop[string(it.SeatNo)] {
				kept = append(kept, it)
			}
		}
		cart.items = kept
		if len(kept) == 0 {
			delete(s.carts, trip.String())
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": len(req.Seats)})
}

func (s *SeatServer) intent(c echo.Context) error {
	var req struct {
		CartID string `json:"cartId"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cart := range s.carts {
		if cart.id == req.CartID {
			return c.JSON(http.StatusOK, api.PaymentIntent{
				PaymentIntentID: "pi_" + cart.id,
				Amount:          (SeatPrice + SeatFee) * float64(len(cart.items)),
				Currency:        "INR",
			})
		}
	}
	return c.JSON(http.StatusNotFound, echo.Map{"error": "cart not found"})
}

func (s *SeatServer) checkout(c echo.Context) error {
	var req api.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idemKeys = append(s.idemKeys, c.Request().Header.Get("Idempotency-Key"))
	for k, cart := range s.carts {
		if cart.id != req.CartID {
			continue
		}
		if s.booked[k] == nil {
			s.booked[k] = map[string]string{}
		}
		for _, it := range cart.items {
			s.booked[k][string(it.SeatNo)] = it.Gender
		}
		delete(s.carts, k)
		return c.JSON(http.StatusCreated, echo.Map{"_id": "bk-" + cart.id, "status": "CONFIRMED"})
	}
	return c.JSON(http.StatusNotFound, echo.Map{"error": "cart not found"})
}
