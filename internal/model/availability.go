package model

import "time"

// Availability is the shared, platform-wide seat picture for one trip.
// It is written only by the availability controller and read by every
// consumer.  A record is always replaced as a whole.
//
// Fields:
//
//	Available     – free seat count, nil when unknown.
//	Window        – free seats inside the boarding/dropping window, nil when not reported.
//	BookedSeats   – seats taken by any shopper, as strings.
//	SeatGenderMap – gender marker of every booked seat.
//	FetchedAt     – when the record was received.
type Availability struct {
	Available     *int              `json:"available"`
	Window        *int              `json:"window,omitempty"`
	BookedSeats   []string          `json:"bookedSeats"`
	SeatGenderMap map[string]string `json:"seatGenderMap"`
	FetchedAt     time.Time         `json:"fetchedAt"`
}

// IsBooked reports whether seat appears in BookedSeats.
func (a Availability) IsBooked(seat string) bool {
	for _, s := range a.BookedSeats {
		if s == seat {
			return true
		}
	}
	return false
}
