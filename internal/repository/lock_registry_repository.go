// Package repository holds the MySQL backed stores.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/iliyamo/bus-seat-hold/internal/model"
)

// lockRegistrySchema creates the table backing LockRegistryRepo.  One row
// is one seat this device believes it holds; the primary key makes a
// repeated insert of the same seat a no-op.
const lockRegistrySchema = `CREATE TABLE IF NOT EXISTS lock_registry (
    client_id      VARCHAR(64)  NOT NULL,
    trip_key       VARCHAR(191) NOT NULL,
    bus_id         VARCHAR(64)  NOT NULL,
    travel_date    VARCHAR(16)  NOT NULL,
    departure_time VARCHAR(16)  NOT NULL,
    seat_no        VARCHAR(16)  NOT NULL,
    created_at     TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (client_id, trip_key, seat_no)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// ErrFieldTooLong is returned by Add when a value does not fit its
// lock_registry column.  Nothing is written.
var ErrFieldTooLong = errors.New("value too long for lock_registry column")

// Column widths of lock_registry, in characters.
const (
	maxClientID = 64
	maxTripKey  = 191
	maxBusID    = 64
	maxDate     = 16
	maxDepTime  = 16
	maxSeatNo   = 16
)

// LockRegistryRepo stores lock registry entries in MySQL, scoped to one
// device.  Several companions sharing a device id can write concurrently
// without losing seats because every mutation is a row level insert or
// delete inside a transaction.
type LockRegistryRepo struct {
	db       *sql.DB
	clientID string
}

// NewLockRegistryRepo returns a LockRegistryRepo bound to db and clientID.
func NewLockRegistryRepo(db *sql.DB, clientID string) *LockRegistryRepo {
	return &LockRegistryRepo{db: db, clientID: clientID}
}

// EnsureSchema creates the lock_registry table when it does not exist.
func (r *LockRegistryRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, lockRegistrySchema)
	return err
}

// Add inserts one row per seat, leaving seats already recorded as they
// are.  Values wider than their column are rejected up front rather than
// truncated, since a truncated seat or bus id would release the wrong lock.
func (r *LockRegistryRepo) Add(ctx context.Context, entry model.RegistryEntry) error {
	if len(entry.Seats) == 0 {
		return nil
	}
	if err := r.checkWidths(entry); err != nil {
		return err
	}
	query := `INSERT INTO lock_registry (client_id, trip_key, bus_id, travel_date, departure_time, seat_no) VALUES `
	args := make([]interface{}, 0, len(entry.Seats)*6)
	for i, seat := range entry.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, r.clientID, entry.TripKey, entry.BusID, entry.Date, entry.DepartureTime, seat)
	}
	query += " ON DUPLICATE KEY UPDATE seat_no = seat_no"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lock_registry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

type column struct {
	name  string
	value string
	max   int
}

func (r *LockRegistryRepo) checkWidths(entry model.RegistryEntry) error {
	cols := []column{
		{"client_id", r.clientID, maxClientID},
		{"trip_key", entry.TripKey, maxTripKey},
		{"bus_id", entry.BusID, maxBusID},
		{"travel_date", entry.Date, maxDate},
		{"departure_time", entry.DepartureTime, maxDepTime},
	}
	for _, seat := range entry.Seats {
		cols = append(cols, column{"seat_no", seat, maxSeatNo})
	}
	for _, c := range cols {
		if utf8.RuneCountInString(c.value) > c.max {
			return fmt.Errorf("%w: %s %q (max %d)", ErrFieldTooLong, c.name, c.value, c.max)
		}
	}
	return nil
}

// Remove deletes the listed seats of one trip.  Once the last seat goes
// the trip has no rows left, which is how an entry disappears.
func (r *LockRegistryRepo) Remove(ctx context.Context, tripKey string, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	query := `DELETE FROM lock_registry WHERE client_id = ? AND trip_key = ? AND seat_no IN (`
	args := make([]interface{}, 0, len(seats)+2)
	args = append(args, r.clientID, tripKey)
	for i, seat := range seats {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, seat)
	}
	query += ")"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete lock_registry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// List groups the device's rows into one entry per trip, ordered by trip
// key.
func (r *LockRegistryRepo) List(ctx context.Context) ([]model.RegistryEntry, error) {
	const q = `SELECT trip_key, bus_id, travel_date, departure_time, seat_no
               FROM lock_registry
               WHERE client_id = ?
               ORDER BY trip_key, seat_no`
	rows, err := r.db.QueryContext(ctx, q, r.clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.RegistryEntry{}
	for rows.Next() {
		var e model.RegistryEntry
		var seat string
		if err := rows.Scan(&e.TripKey, &e.BusID, &e.Date, &e.DepartureTime, &seat); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].TripKey == e.TripKey {
			out[n-1].Seats = append(out[n-1].Seats, seat)
			continue
		}
		e.Seats = []string{seat}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every row of the device.
func (r *LockRegistryRepo) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lock_registry WHERE client_id = ?`, r.clientID)
	return err
}
