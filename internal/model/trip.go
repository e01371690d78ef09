package model

import (
	"fmt"
	"strings"
)

// tripKeySep separates the components of a formatted TripKey.  Bus ids,
// dates and departure times never contain it.
const tripKeySep = "|"

// TripKey identifies one scheduled departure.  It is the mapping key
// used by the cart store, the availability map and the lock registry.
//
// Fields:
//
//	BusID         – server identifier of the bus.
//	Date          – travel date as sent to the server (YYYY-MM-DD).
//	DepartureTime – departure time as sent to the server (HH:MM).
type TripKey struct {
	BusID         string `json:"busId" yaml:"busId"`
	Date          string `json:"date" yaml:"date"`
	DepartureTime string `json:"departureTime" yaml:"departureTime"`
}

// String formats the key as "busId|date|departureTime".
func (k TripKey) String() string {
	return k.BusID + tripKeySep + k.Date + tripKeySep + k.DepartureTime
}

// IsZero reports whether no component of the key is set.
func (k TripKey) IsZero() bool {
	return k.BusID == "" && k.Date == "" && k.DepartureTime == ""
}

// Validate checks that all three components are present.
func (k TripKey) Validate() error {
	if strings.TrimSpace(k.BusID) == "" || strings.TrimSpace(k.Date) == "" || strings.TrimSpace(k.DepartureTime) == "" {
		return fmt.Errorf("%w: busId, date and departureTime are required", ErrInvalidTrip)
	}
	return nil
}

// ParseTripKey is the inverse of TripKey.String.
func ParseTripKey(s string) (TripKey, error) {
	parts := strings.Split(s, tripKeySep)
	if len(parts) != 3 {
		return TripKey{}, fmt.Errorf("%w: %q", ErrInvalidTrip, s)
	}
	k := TripKey{BusID: parts[0], Date: parts[1], DepartureTime: parts[2]}
	if err := k.Validate(); err != nil {
		return TripKey{}, err
	}
	return k, nil
}
