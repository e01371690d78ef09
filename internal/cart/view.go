package cart

import (
	"sort"
	"time"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// Seat states reported by a View.
const (
	SeatFree   = "free"
	SeatMine   = "mine"
	SeatBooked = "booked"
)

// View merges the local cart for one trip with the shared availability
// record.  Seats this device holds are always "mine" even when the
// availability feed already lists them as taken.
type View struct {
	Trip      model.TripKey     `json:"trip"`
	CartID    *string           `json:"cartId"`
	Mine      []string          `json:"mine"`
	Booked    []string          `json:"booked"`
	Genders   map[string]string `json:"genders"`
	Available *int              `json:"available"`
	Window    *int              `json:"window,omitempty"`
	ExpiresAt *time.Time        `json:"expiresAt"`
	Expired   bool              `json:"expired"`
	Pricing   model.Pricing     `json:"pricing"`
}

// Status returns the state of seat in the view.
func (v View) Status(seat string) string {
	if contains(v.Mine, seat) {
		return SeatMine
	}
	if contains(v.Booked, seat) {
		return SeatBooked
	}
	return SeatFree
}

// SeatView builds the View for trip from its snapshot and avail, which
// may be the zero record when nothing has been fetched yet.  Expired
// holds are not "mine" any more.
func (s *Store) SeatView(trip model.TripKey, avail model.Availability, now time.Time) View {
	snap := s.Snapshot(trip)
	mine := snap.ActiveSeats(now)

	v := View{
		Trip:      trip,
		CartID:    snap.CartID,
		Mine:      mine,
		Booked:    []string{},
		Genders:   make(map[string]string, len(avail.SeatGenderMap)+len(mine)),
		Available: avail.Available,
		Window:    avail.Window,
		ExpiresAt: snap.ExpiresAt,
		Expired:   snap.Expired(now),
		Pricing:   snap.Pricing,
	}
	if v.Mine == nil {
		v.Mine = []string{}
	}
	for _, seat := range avail.BookedSeats {
		if !contains(mine, seat) {
			v.Booked = append(v.Booked, seat)
		}
	}
	sort.Strings(v.Booked)
	for seat, g := range avail.SeatGenderMap {
		v.Genders[seat] = g
	}
	for _, seat := range mine {
		if g, ok := snap.Genders[seat]; ok {
			v.Genders[seat] = g
		}
	}
	return v
}
