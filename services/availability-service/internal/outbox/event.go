package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

const (
	EventScheduleSaved  = "availability.schedule.saved.v1"
	EventScheduleCopied = "availability.schedule.copied.v1"

	AggregateSchedule = "doctor_schedule"
)

// Event is the envelope written to the outbox table. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type ScheduleSlot struct {
	LocationID string `json:"location_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Duration   int    `json:"duration"`
}

type SchedulePayload struct {
	DoctorID   string         `json:"doctor_id"`
	Date       string         `json:"date"`
	Slots      []ScheduleSlot `json:"slots"`
	OccurredAt string         `json:"occurred_at"`
}

// ScheduleEvent describes the unbooked slots written for one doctor and day.
func ScheduleEvent(eventType, doctorID, date string, slots []model.Slot, now time.Time) (Event, error) {
	payload := SchedulePayload{
		DoctorID:   doctorID,
		Date:       date,
		Slots:      make([]ScheduleSlot, 0, len(slots)),
		OccurredAt: now.UTC().Format(time.RFC3339),
	}
	for _, s := range slots {
		payload.Slots = append(payload.Slots, ScheduleSlot{
			LocationID: s.LocationID,
			StartTime:  s.StartTime.UTC().Format(time.RFC3339),
			EndTime:    s.EndTime.UTC().Format(time.RFC3339),
			Duration:   s.Duration,
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateSchedule,
		AggregateID:   doctorID + ":" + date,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
