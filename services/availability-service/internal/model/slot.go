package model

import "time"

// Slot is the persisted form of a doctor's bookable interval.
type Slot struct {
	ID         string
	DoctorID   string
	LocationID string
	StartTime  time.Time
	EndTime    time.Time
	Duration   int // minutes
	IsBooked   bool
}

// WorkingSlot is the editable, wall-clock form of a slot for the selected date.
// ID is either a persisted id or a local placeholder for unsaved slots.
type WorkingSlot struct {
	ID         string `json:"id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	LocationID string `json:"location_id"`
	Duration   int    `json:"duration"`
	IsBooked   bool   `json:"is_booked"`
	IsNew      bool   `json:"is_new"`
}

// MissingFields reports whether the slot cannot be saved as-is.
// Booked slots are complete by construction.
func (s WorkingSlot) MissingFields() bool {
	if s.IsBooked {
		return false
	}
	return s.StartTime == "" || s.EndTime == "" || s.LocationID == ""
}

type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city"`
	Address string `json:"address"`
}

// Editable working-slot fields.
const (
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"
	FieldLocationID = "location_id"
)

// PlaceholderPrefix marks ids that were generated locally and never persisted.
const PlaceholderPrefix = "new-"
