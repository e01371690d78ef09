package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// SeatNo is a seat identifier that the server may send either as a JSON
// string or as a number.  It always decodes to its string form.
type SeatNo string

func (s *SeatNo) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = SeatNo(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = SeatNo(n.String())
	return nil
}

// Ref is a reference that is either an id string or an embedded object
// carrying "_id" (or "id") and optionally "name".
type Ref struct {
	ID   string
	Name string
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*r = Ref{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID    string `json:"_id"`
		AltID string `json:"id"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	if r.ID == "" {
		r.ID = obj.AltID
	}
	r.Name = obj.Name
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) { return json.Marshal(r.ID) }

// label is what the snapshot stores for a boarding or dropping point.
func (r Ref) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// CartItem is one held seat inside a server cart.
type CartItem struct {
	SeatNo SeatNo `json:"seatNo"`
	Gender string `json:"gender"`
}

// Cart is the server's cart object as observed by the client.
type Cart struct {
	ID             string     `json:"_id"`
	Items          []CartItem `json:"items"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	Subtotal       float64    `json:"subtotal"`
	ConvenienceFee float64    `json:"convenienceFee"`
	Total          float64    `json:"total"`
	BoardingPoint  Ref        `json:"boardingPoint"`
	DroppingPoint  Ref        `json:"droppingPoint"`
	Bus            Ref        `json:"bus"`
	Date           string     `json:"date"`
	DepartureTime  string     `json:"departureTime"`
}

// Trip returns the trip the cart belongs to, with the date reduced to
// YYYY-MM-DD when the server sent a full timestamp.
func (c Cart) Trip() model.TripKey {
	return model.TripKey{BusID: c.Bus.ID, Date: normalizeDate(c.Date), DepartureTime: c.DepartureTime}
}

// Empty reports whether the cart holds no seats.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Snapshot converts the cart into the local snapshot for trip.  trip
// fills in the denormalized fields when the server omitted them.
func (c Cart) Snapshot(trip model.TripKey) model.CartSnapshot {
	snap := model.EmptySnapshot(trip)
	if c.ID != "" {
		id := c.ID
		snap.CartID = &id
	}
	for _, it := range c.Items {
		seat := string(it.SeatNo)
		if seat == "" {
			continue
		}
		if _, dup := snap.Genders[seat]; !dup {
			snap.Seats = append(snap.Seats, seat)
		}
		snap.Genders[seat] = model.NormalizeGender(it.Gender)
	}
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.UTC()
		snap.ExpiresAt = &t
	}
	snap.Pricing = model.Pricing{Subtotal: c.Subtotal, Fee: c.ConvenienceFee, Total: c.Total}
	snap.BoardingPoint = c.BoardingPoint.label()
	snap.DroppingPoint = c.DroppingPoint.label()
	if c.Bus.ID != "" {
		snap.BusID = c.Bus.ID
	}
	if d := normalizeDate(c.Date); d != "" {
		snap.Date = d
	}
	if c.DepartureTime != "" {
		snap.DepartureTime = c.DepartureTime
	}
	return snap
}

func normalizeDate(d string) string {
	d = strings.TrimSpace(d)
	if len(d) > 10 && d[4] == '-' && d[7] == '-' && (d[10] == 'T' || d[10] == ' ') {
		return d[:10]
	}
	return d
}

// AddSeatRequest is the body of an add-seat call.
type AddSeatRequest struct {
	BusID         string `json:"busId"`
	Date          string `json:"date"`
	DepartureTime string `json:"departureTime"`
	SeatNo        string `json:"seatNo"`
	Gender        string `json:"gender"`
}

// RemoveSeatRequest is the body of a remove-seat call.
type RemoveSeatRequest struct {
	CartID string `json:"cartId"`
	SeatNo string `json:"seatNo"`
}

type tripBody struct {
	BusID         string `json:"busId"`
	Date          string `json:"date"`
	DepartureTime string `json:"departureTime"`
}

func tripBodyOf(k model.TripKey) tripBody {
	return tripBody{BusID: k.BusID, Date: k.Date, DepartureTime: k.DepartureTime}
}

// ExtendResult is the server's acknowledgement of an extend call.  Only
// the fields the client displays are decoded.
type ExtendResult struct {
	OK        bool       `json:"ok"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ReleaseRequest asks the server to drop locks held by clientID.
type ReleaseRequest struct {
	BusID         string   `json:"busId"`
	Date          string   `json:"date"`
	DepartureTime string   `json:"departureTime"`
	Seats         []string `json:"seats"`
	ClientID      string   `json:"clientId"`
}

// PaymentIntent is returned by the payment-intent call.
type PaymentIntent struct {
	PaymentIntentID string  `json:"paymentIntentId"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
}

// Passenger is one traveller in a checkout.
type Passenger struct {
	Name   string `json:"name"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	SeatNo string `json:"seatNo"`
}

// CheckoutRequest completes a booking.  IdempotencyKey is sent as a
// header; a random one is generated when empty.
type CheckoutRequest struct {
	CartID          string      `json:"cartId"`
	PaymentIntentID string      `json:"paymentIntentId"`
	Passengers      []Passenger `json:"passengers,omitempty"`
	From            string      `json:"from,omitempty"`
	To              string      `json:"to,omitempty"`
	IdempotencyKey  string      `json:"-"`
}

// Booking is the server's confirmation.  Raw keeps the full body since
// its shape is owned by the server.
type Booking struct {
	ID     string          `json:"_id"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

func (b *Booking) UnmarshalJSON(data []byte) error {
	type plain Booking
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Booking(p)
	b.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// availabilityWire is the availability response body.
type availabilityWire struct {
	AvailableSeats       *int              `json:"availableSeats"`
	AvailableWindowSeats *int              `json:"availableWindowSeats"`
	BookedSeats          []SeatNo          `json:"bookedSeats"`
	SeatGenderMap        map[string]string `json:"seatGenderMap"`
}

func (w availabilityWire) record(now time.Time) model.Availability {
	out := model.Availability{
		Available:     w.AvailableSeats,
		Window:        w.AvailableWindowSeats,
		BookedSeats:   make([]string, 0, len(w.BookedSeats)),
		SeatGenderMap: make(map[string]string, len(w.SeatGenderMap)),
		FetchedAt:     now,
	}
	seen := make(map[string]struct{}, len(w.BookedSeats))
	for _, s := range w.BookedSeats {
		seat := string(s)
		if seat == "" {
			continue
		}
		if _, ok := seen[seat]; ok {
			continue
		}
		seen[seat] = struct{}{}
		out.BookedSeats = append(out.BookedSeats, seat)
	}
	for seat, g := range w.SeatGenderMap {
		out.SeatGenderMap[strings.TrimSpace(seat)] = model.NormalizeGender(g)
	}
	return out
}

// errorBody covers the error envelopes the server is known to use.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

func (e errorBody) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
