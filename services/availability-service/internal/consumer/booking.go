package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicAppointmentBooked    = "booking.appointment.booked.v1"
	TopicAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// BookingMarker flips the booked flag on a persisted slot.
type BookingMarker interface {
	SetBooked(ctx context.Context, doctorID string, start time.Time, booked bool) error
}

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	StaffID       string `json:"staff_id"`
	StartTime     string `json:"start_time"`
}

var errMalformedEvent = errors.New("malformed appointment event")

// BookingHandler keeps slot booked flags in step with appointment events. A booked
// slot is immutable to the schedule editor until its appointment is cancelled.
func BookingHandler(marker BookingMarker, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var booked bool
		switch msg.Topic {
		case TopicAppointmentBooked:
			booked = true
		case TopicAppointmentCancelled:
			booked = false
		default:
			logger.Warn("ignoring unexpected topic", "topic", msg.Topic)
			return nil
		}

		var p appointmentPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return fmt.Errorf("%w: %w", errMalformedEvent, err)
		}
		doctorID := p.DoctorID
		if doctorID == "" {
			doctorID = p.StaffID
		}
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if doctorID == "" || err != nil {
			return fmt.Errorf("%w: appointment %s", errMalformedEvent, p.AppointmentID)
		}
		if err := marker.SetBooked(ctx, doctorID, start, booked); err != nil {
			return fmt.Errorf("set booked=%t for %s at %s: %w", booked, doctorID, start.Format(time.RFC3339), err)
		}
		logger.Info("slot booking updated", "doctor_id", doctorID, "start_time", p.StartTime, "booked", booked)
		return nil
	}
}
