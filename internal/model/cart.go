package model

import (
	"strings"
	"time"
)

// Passenger gender markers used for gender-aware seat adjacency.
const (
	GenderMale   = "M"
	GenderFemale = "F"
)

// NormalizeGender upper-cases a marker and falls back to GenderMale for
// anything that is not a known marker.
func NormalizeGender(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case GenderFemale:
		return GenderFemale
	default:
		return GenderMale
	}
}

// Pricing is the price breakdown of a cart.  All values come from the
// server; nothing here is ever computed locally.
type Pricing struct {
	Subtotal float64 `json:"subtotal"`
	Fee      float64 `json:"fee"`
	Total    float64 `json:"total"`
}

// CartSnapshot is this device's view of the seats it holds on one trip.
// A snapshot is always replaced as a whole from a server cart object and
// never patched field by field.
//
// Fields:
//
//	CartID        – server cart id, nil when no active cart exists.
//	Seats         – held seat numbers in server order.
//	Genders       – seat number to gender marker.
//	ExpiresAt     – moment the server auto-releases every seat, nil when empty.
//	Pricing       – server computed subtotal, fee and total.
//	BoardingPoint – boarding point reference.
//	DroppingPoint – dropping point reference.
//	BusID, Date, DepartureTime – denormalized trip fields for display.
type CartSnapshot struct {
	CartID        *string           `json:"cartId"`
	Seats         []string          `json:"seats"`
	Genders       map[string]string `json:"genders"`
	ExpiresAt     *time.Time        `json:"expiresAt"`
	Pricing       Pricing           `json:"pricing"`
	BoardingPoint string            `json:"boardingPoint,omitempty"`
	DroppingPoint string            `json:"droppingPoint,omitempty"`
	BusID         string            `json:"busId"`
	Date          string            `json:"date"`
	DepartureTime string            `json:"departureTime"`
}

// EmptySnapshot returns the default snapshot for a trip with no cart.
func EmptySnapshot(trip TripKey) CartSnapshot {
	return CartSnapshot{
		Seats:         []string{},
		Genders:       map[string]string{},
		BusID:         trip.BusID,
		Date:          trip.Date,
		DepartureTime: trip.DepartureTime,
	}
}

// Trip returns the key of the trip the snapshot belongs to.
func (s CartSnapshot) Trip() TripKey {
	return TripKey{BusID: s.BusID, Date: s.Date, DepartureTime: s.DepartureTime}
}

// HasCart reports whether a server cart id is known.
func (s CartSnapshot) HasCart() bool {
	return s.CartID != nil && *s.CartID != ""
}

// Expired reports whether the hold window has elapsed at now.
func (s CartSnapshot) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// ActiveSeats returns the seats still held at now.  Once the snapshot
// has expired its seats count as unavailable until they are added again.
func (s CartSnapshot) ActiveSeats(now time.Time) []string {
	if s.Expired(now) {
		return nil
	}
	return append([]string(nil), s.Seats...)
}

// Holds reports whether seat is part of the snapshot and not expired.
func (s CartSnapshot) Holds(seat string, now time.Time) bool {
	if s.Expired(now) {
		return false
	}
	for _, v := range s.Seats {
		if v == seat {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate store state.
func (s CartSnapshot) Clone() CartSnapshot {
	out := s
	if s.CartID != nil {
		id := *s.CartID
		out.CartID = &id
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Seats = append([]string{}, s.Seats...)
	out.Genders = make(map[string]string, len(s.Genders))
	for k, v := range s.Genders {
		out.Genders[k] = v
	}
	return out
}
