// Package sqlitestore is a single-file slot store for local use and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/storage"
)

// Instants are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05Z"

const schema = `
CREATE TABLE IF NOT EXISTS doctor_locations (
	id TEXT PRIMARY KEY,
	doctor_id TEXT NOT NULL,
	name TEXT NOT NULL,
	city TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS doctor_slots (
	id TEXT PRIMARY KEY,
	doctor_id TEXT NOT NULL,
	location_id TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL,
	is_booked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_doctor_slots_doctor_start ON doctor_slots (doctor_id, start_time);
`

type Store struct {
	db    *sql.DB
	clock clock.Clock
}

var _ manager.Store = (*Store)(nil)

func Open(ctx context.Context, path string, c clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, clock: c}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (s *Store) dayBounds(date string) (string, string, error) {
	from, to, err := s.clock.DayBounds(date)
	if err != nil {
		return "", "", err
	}
	return formatTime(from), formatTime(to), nil
}

func (s *Store) FetchSlotsForDate(ctx context.Context, doctorID, date string) ([]model.Slot, error) {
	from, to, err := s.dayBounds(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doctor_id, location_id, start_time, end_time, duration_minutes, is_booked
		FROM doctor_slots
		WHERE doctor_id = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Slot
	for rows.Next() {
		var sl model.Slot
		var start, end string
		if err := rows.Scan(&sl.ID, &sl.DoctorID, &sl.LocationID, &start, &end, &sl.Duration, &sl.IsBooked); err != nil {
			return nil, err
		}
		if sl.StartTime, err = time.Parse(timeLayout, start); err != nil {
			return nil, err
		}
		if sl.EndTime, err = time.Parse(timeLayout, end); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSlots(ctx context.Context, doctorID, date string) error {
	from, to, err := s.dayBounds(date)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM doctor_slots
		WHERE doctor_id = ? AND start_time >= ? AND start_time < ? AND is_booked = 0
	`, doctorID, from, to)
	return err
}

func (s *Store) InsertSlots(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO doctor_slots (id, doctor_id, location_id, start_time, end_time, duration_minutes, is_booked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sl := range slots {
		id := sl.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, sl.DoctorID, sl.LocationID,
			formatTime(sl.StartTime), formatTime(sl.EndTime), sl.Duration, sl.IsBooked); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FetchOccupiedDates(ctx context.Context, doctorID, from, to string) ([]string, error) {
	start, _, err := s.dayBounds(from)
	if err != nil {
		return nil, err
	}
	_, end, err := s.dayBounds(to)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_time
		FROM doctor_slots
		WHERE doctor_id = ? AND is_booked = 1 AND start_time >= ? AND start_time < ?
		ORDER BY start_time
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, raw)
		if err != nil {
			return nil, err
		}
		starts = append(starts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.DistinctDays(s.clock, starts), nil
}

func (s *Store) FetchLocations(ctx context.Context, doctorID string) ([]model.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, city, address FROM doctor_locations WHERE doctor_id = ? ORDER BY name
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.City, &l.Address); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddLocation registers a practice location for doctorID and returns its id.
func (s *Store) AddLocation(ctx context.Context, doctorID string, l model.Location) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doctor_locations (id, doctor_id, name, city, address) VALUES (?, ?, ?, ?, ?)
	`, l.ID, doctorID, l.Name, l.City, l.Address)
	return l.ID, err
}

func (s *Store) SetBooked(ctx context.Context, doctorID string, start time.Time, booked bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE doctor_slots SET is_booked = ? WHERE doctor_id = ? AND start_time = ?
	`, booked, doctorID, formatTime(start))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
