// Package cart keeps this device's view of the seats it holds, one
// snapshot per trip, in step with the booking server.  Every mutation
// waits for the server and replaces the trip's snapshot with the cart
// the server returned; nothing is applied optimistically.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/iliyamo/bus-seat-hold/internal/api"
	"github.com/iliyamo/bus-seat-hold/internal/clock"
	"github.com/iliyamo/bus-seat-hold/internal/model"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
)

// ErrInvalidSeat is returned when a seat number is empty.
var ErrInvalidSeat = errors.New("seat number is required")

// reasonNoCart is reported when an operation needs a cart and none is known.
const reasonNoCart = "no active cart"

// Backend is the part of the booking server the store talks to.
// *api.Client implements it.
type Backend interface {
	AddSeat(ctx context.Context, req api.AddSeatRequest) (*api.Cart, error)
	RemoveSeat(ctx context.Context, req api.RemoveSeatRequest) (*api.Cart, error)
	MyCart(ctx context.Context, filter *model.TripKey) (*api.Cart, error)
	ExtendLocks(ctx context.Context, trip model.TripKey) (api.ExtendResult, error)
	PaymentIntent(ctx context.Context, cartID string) (api.PaymentIntent, error)
	Checkout(ctx context.Context, req api.CheckoutRequest) (api.Booking, error)
}

// Ledger records held seats durably.  *registry.Registry implements it.
type Ledger interface {
	Add(ctx context.Context, trip model.TripKey, seats []string) error
	Remove(ctx context.Context, trip model.TripKey, seats []string) error
}

// RemoveResult reports the outcome of RemoveSeat.  Skipped is set when
// no server call was made because no cart is known for the trip.
type RemoveResult struct {
	Skipped  bool               `json:"skipped"`
	Reason   string             `json:"reason,omitempty"`
	Snapshot model.CartSnapshot `json:"snapshot"`
}

// Store is the single source of truth for what this device holds.
type Store struct {
	mu        sync.RWMutex
	snaps     map[string]model.CartSnapshot
	backend   Backend
	ledger    Ledger
	publisher queue.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	clientID  string
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets where lock events go.
func WithPublisher(p queue.Publisher) Option { return func(s *Store) { s.publisher = p } }

// WithClock sets the clock.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClientID sets the device id stamped on lock events.
func WithClientID(id string) Option { return func(s *Store) { s.clientID = id } }

// NewStore returns an empty Store.
func NewStore(backend Backend, ledger Ledger, opts ...Option) *Store {
	s := &Store{
		snaps:     map[string]model.CartSnapshot{},
		backend:   backend,
		ledger:    ledger,
		publisher: queue.Noop{},
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cart")
	return s
}

// AddSeat locks seatNo on trip.  gender defaults to "M".  On success the
// trip's snapshot becomes the returned cart and its seats are recorded
// in the ledger.  On failure nothing local changes.
func (s *Store) AddSeat(ctx context.Context, trip model.TripKey, seatNo, gender string) (model.CartSnapshot, error) {
	if err := trip.Validate(); err != nil {
		return model.CartSnapshot{}, err
	}
	seatNo = strings.TrimSpace(seatNo)
	if seatNo == "" {
		return model.CartSnapshot{}, ErrInvalidSeat
	}
	cart, err := s.backend.AddSeat(ctx, api.AddSeatRequest{
		BusID:         trip.BusID,
		Date:          trip.Date,
		DepartureTime: trip.DepartureTime,
		SeatNo:        seatNo,
		Gender:        model.NormalizeGender(gender),
	})
	if err != nil {
		return model.CartSnapshot{}, fmt.Errorf("add seat %s: %w", seatNo, err)
	}

	snap := cart.Snapshot(trip)
	s.put(trip, snap)
	s.record(ctx, trip, append([]string{seatNo}, snap.Seats...))
	s.publish(ctx, queue.EventSeatHeld, trip, []string{seatNo}, snap.CartID)
	return snap.Clone(), nil
}

// RemoveSeat releases seatNo on trip.  Without a known cart id no call is
// made and the result is marked Skipped.  When the server returns no
// cart, or an empty one, the snapshot resets to empty.
func (s *Store) RemoveSeat(ctx context.Context, trip model.TripKey, seatNo string) (RemoveResult, error) {
	if err := trip.Validate(); err != nil {
		return RemoveResult{}, err
	}
	seatNo = strings.TrimSpace(seatNo)
	if seatNo == "" {
		return RemoveResult{}, ErrInvalidSeat
	}
	cur := s.Snapshot(trip)
	if !cur.HasCart() {
		return RemoveResult{Skipped: true, Reason: reasonNoCart, Snapshot: cur}, nil
	}

	cart, err := s.backend.RemoveSeat(ctx, api.RemoveSeatRequest{CartID: *cur.CartID, SeatNo: seatNo})
	if err != nil {
		return RemoveResult{}, fmt.Errorf("remove seat %s: %w", seatNo, err)
	}

	snap := model.EmptySnapshot(trip)
	if cart != nil && !cart.Empty() {
		snap = cart.Snapshot(trip)
	}
	s.put(trip, snap)
	if !contains(snap.Seats, seatNo) {
		if err := s.ledger.Remove(ctx, trip, []string{seatNo}); err != nil {
			s.logger.Warn("registry remove", "trip", trip.String(), "seat", seatNo, "error", err)
		}
	}
	s.publish(ctx, queue.EventSeatReleased, trip, []string{seatNo}, cur.CartID)
	return RemoveResult{Snapshot: snap.Clone()}, nil
}

// GetMine asks the server for the active cart, optionally scoped to one
// trip, and overwrites the matching snapshot.  No active cart is not an
// error: the filtered trip resets to empty, or with no filter every
// local snapshot does.
func (s *Store) GetMine(ctx context.Context, filter *model.TripKey) (model.CartSnapshot, error) {
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return model.CartSnapshot{}, err
		}
	}
	cart, err := s.backend.MyCart(ctx, filter)
	if err != nil {
		return model.CartSnapshot{}, fmt.Errorf("fetch cart: %w", err)
	}

	if cart == nil || cart.Empty() {
		if filter != nil {
			empty := model.EmptySnapshot(*filter)
			s.put(*filter, empty)
			return empty.Clone(), nil
		}
		s.mu.Lock()
		for k, snap := range s.snaps {
			s.snaps[k] = model.EmptySnapshot(snap.Trip())
		}
		s.mu.Unlock()
		return model.EmptySnapshot(model.TripKey{}), nil
	}

	trip := cart.Trip()
	if filter != nil {
		trip = *filter
	}
	snap := cart.Snapshot(trip)
	if err := trip.Validate(); err != nil {
		s.logger.Warn("cart without trip", "cart", cart.ID)
		return snap, nil
	}
	s.put(trip, snap)
	s.record(ctx, trip, snap.Seats)
	return snap.Clone(), nil
}

// ExtendLocks asks the server to extend every hold on trip.  The local
// expiry is left alone until the next GetMine.  Without a known cart the
// call is skipped and reported as not OK.
func (s *Store) ExtendLocks(ctx context.Context, trip model.TripKey) (api.ExtendResult, error) {
	if err := trip.Validate(); err != nil {
		return api.ExtendResult{}, err
	}
	if !s.Snapshot(trip).HasCart() {
		return api.ExtendResult{OK: false, Message: reasonNoCart}, nil
	}
	res, err := s.backend.ExtendLocks(ctx, trip)
	if err != nil {
		return api.ExtendResult{}, fmt.Errorf("extend locks: %w", err)
	}
	return res, nil
}

// PaymentIntent passes through to the server.
func (s *Store) PaymentIntent(ctx context.Context, cartID string) (api.PaymentIntent, error) {
	return s.backend.PaymentIntent(ctx, cartID)
}

// Checkout confirms the booking for trip's cart.  req.CartID defaults to
// the trip's cart.  Once the server confirms, the held seats are real
// bookings: the snapshot resets and the seats leave the ledger.
func (s *Store) Checkout(ctx context.Context, trip model.TripKey, req api.CheckoutRequest) (api.Booking, error) {
	cur := s.Snapshot(trip)
	if req.CartID == "" && cur.HasCart() {
		req.CartID = *cur.CartID
	}
	if req.CartID == "" {
		return api.Booking{}, fmt.Errorf("checkout: %s", reasonNoCart)
	}
	booking, err := s.backend.Checkout(ctx, req)
	if err != nil {
		return api.Booking{}, err
	}

	s.put(trip, model.EmptySnapshot(trip))
	if len(cur.Seats) > 0 {
		if err := s.ledger.Remove(ctx, trip, cur.Seats); err != nil {
			s.logger.Warn("registry remove", "trip", trip.String(), "error", err)
		}
	}
	id := req.CartID
	s.publish(ctx, queue.EventCartCheckedOut, trip, cur.Seats, &id)
	return booking, nil
}

// Snapshot returns a copy of trip's snapshot, creating the empty default
// on first access.
func (s *Store) Snapshot(trip model.TripKey) model.CartSnapshot {
	key := trip.String()
	s.mu.RLock()
	snap, ok := s.snaps[key]
	s.mu.RUnlock()
	if ok {
		return snap.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok = s.snaps[key]; !ok {
		snap = model.EmptySnapshot(trip)
		s.snaps[key] = snap
	}
	return snap.Clone()
}

// All returns copies of every snapshot that holds a cart, ordered by
// trip key.
func (s *Store) All() []model.CartSnapshot {
	s.mu.RLock()
	keys := make([]string, 0, len(s.snaps))
	for k, snap := range s.snaps {
		if snap.HasCart() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]model.CartSnapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.snaps[k].Clone())
	}
	s.mu.RUnlock()
	return out
}

// put replaces trip's snapshot.
func (s *Store) put(trip model.TripKey, snap model.CartSnapshot) {
	s.mu.Lock()
	s.snaps[trip.String()] = snap
	s.mu.Unlock()
}

// record mirrors seats into the ledger.  A ledger failure does not undo
// the hold; it is logged and the server side expiry still applies.
func (s *Store) record(ctx context.Context, trip model.TripKey, seats []string) {
	if len(seats) == 0 {
		return
	}
	if err := s.ledger.Add(ctx, trip, seats); err != nil {
		s.logger.Warn("registry add", "trip", trip.String(), "error", err)
	}
}

func (s *Store) publish(ctx context.Context, typ string, trip model.TripKey, seats []string, cartID *string) {
	ev := queue.LockEvent{
		Type:     typ,
		ClientID: s.clientID,
		TripKey:  trip.String(),
		Seats:    seats,
		At:       s.clock.Now().UTC(),
	}
	if cartID != nil {
		ev.CartID = *cartID
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Debug("publish lock event", "type", typ, "error", err)
	}
}

func contains(seats []string, seat string) bool {
	for _, s := range seats {
		if s == seat {
			return true
		}
	}
	return false
}
