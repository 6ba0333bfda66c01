package manager

import (
	"context"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

// Store persists a doctor's slots. Dates are "YYYY-MM-DD" calendar days; the store
// resolves day boundaries in its own clock location.
type Store interface {
	// FetchSlotsForDate returns the day's slots ordered by start time.
	FetchSlotsForDate(ctx context.Context, doctorID, date string) ([]model.Slot, error)
	// DeleteSlots removes the day's slots that are not booked.
	DeleteSlots(ctx context.Context, doctorID, date string) error
	InsertSlots(ctx context.Context, slots []model.Slot) error
	// FetchOccupiedDates returns the days in [from, to] holding at least one booked slot.
	FetchOccupiedDates(ctx context.Context, doctorID, from, to string) ([]string, error)
	FetchLocations(ctx context.Context, doctorID string) ([]model.Location, error)
}

// Change describes why a store write happened. Stores that publish events read it
// from the context passed to InsertSlots.
type Change string

const (
	ChangeSave Change = "saved"
	ChangeCopy Change = "copied"
)

type changeKey struct{}

func WithChange(ctx context.Context, c Change) context.Context {
	return context.WithValue(ctx, changeKey{}, c)
}

func ChangeFromContext(ctx context.Context) Change {
	if c, ok := ctx.Value(changeKey{}).(Change); ok {
		return c
	}
	return ChangeSave
}
