package model

import "sort"

// RegistryEntry records the seats this device believes it holds on one
// trip.  Entries may list seats that are no longer held but must never
// miss a seat that is.
type RegistryEntry struct {
	TripKey       string   `json:"tripKey"`
	BusID         string   `json:"busId"`
	DepartureTime string   `json:"departureTime"`
	Date          string   `json:"date"`
	Seats         []string `json:"seats"`
}

// NewRegistryEntry builds an entry for trip holding seats.
func NewRegistryEntry(trip TripKey, seats []string) RegistryEntry {
	return RegistryEntry{
		TripKey:       trip.String(),
		BusID:         trip.BusID,
		DepartureTime: trip.DepartureTime,
		Date:          trip.Date,
		Seats:         UniqueSeats(seats),
	}
}

// Trip returns the entry's trip key.
func (e RegistryEntry) Trip() TripKey {
	return TripKey{BusID: e.BusID, Date: e.Date, DepartureTime: e.DepartureTime}
}

// UniqueSeats drops empty and duplicate seat numbers and sorts the rest.
func UniqueSeats(seats []string) []string {
	seen := make(map[string]struct{}, len(seats))
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
