package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/outbox"
)

var ErrNotFound = errors.New("not found")

// SlotRepository is the Postgres slot store. Every insert writes an outbox event in
// the same transaction.
type SlotRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	clock  clock.Clock
	now    func() time.Time
}

func NewSlotRepository(pool *db.Pool, outboxRepo *outbox.Repository, c clock.Clock) *SlotRepository {
	return &SlotRepository{pool: pool, outbox: outboxRepo, clock: c, now: time.Now}
}

var _ manager.Store = (*SlotRepository)(nil)

func (r *SlotRepository) FetchSlotsForDate(ctx context.Context, doctorID, date string) ([]model.Slot, error) {
	from, to, err := r.clock.DayBounds(date)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, doctor_id, location_id::text, start_time, end_time, duration_minutes, is_booked
		FROM doctor_slots
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSlot)
}

func scanSlot(row pgx.CollectableRow) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.LocationID, &s.StartTime, &s.EndTime, &s.Duration, &s.IsBooked)
	return s, err
}

func (r *SlotRepository) DeleteSlots(ctx context.Context, doctorID, date string) error {
	from, to, err := r.clock.DayBounds(date)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		DELETE FROM doctor_slots
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3 AND is_booked = false
	`, doctorID, from, to)
	return err
}

func (r *SlotRepository) InsertSlots(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	eventType := outbox.EventScheduleSaved
	if manager.ChangeFromContext(ctx) == manager.ChangeCopy {
		eventType = outbox.EventScheduleCopied
	}
	evt, err := outbox.ScheduleEvent(eventType, slots[0].DoctorID, r.clock.FormatDate(slots[0].StartTime), slots, r.now())
	if err != nil {
		return err
	}

	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range slots {
			batch.Queue(`
				INSERT INTO doctor_slots (doctor_id, location_id, start_time, end_time, duration_minutes, is_booked)
				VALUES ($1, $2, $3, $4, $5, false)
			`, s.DoctorID, s.LocationID, s.StartTime, s.EndTime, s.Duration)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

func (r *SlotRepository) FetchOccupiedDates(ctx context.Context, doctorID, from, to string) ([]string, error) {
	start, _, err := r.clock.DayBounds(from)
	if err != nil {
		return nil, err
	}
	_, end, err := r.clock.DayBounds(to)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT start_time
		FROM doctor_slots
		WHERE doctor_id = $1 AND is_booked = true AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	starts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, err
	}
	return DistinctDays(r.clock, starts), nil
}

// DistinctDays maps ordered instants to their calendar dates in c's location,
// dropping repeats. Dates agree with c.DayBounds, time.Local included.
func DistinctDays(c clock.Clock, starts []time.Time) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range starts {
		day := c.FormatDate(t)
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	return out
}
