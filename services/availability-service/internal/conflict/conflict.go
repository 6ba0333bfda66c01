// Package conflict reports ordering, overlap and break-length problems among the
// slots of a single day.
package conflict

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type Kind string

const (
	KindInvalidOrder      Kind = "invalid_order"
	KindOverlap           Kind = "overlap"
	KindInsufficientBreak Kind = "insufficient_break"
)

const DefaultMinBreak = 10 * time.Minute

// Warning is advisory. It never prevents a mutation, only a save.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// OtherID is the conflicting slot, empty for KindInvalidOrder.
	OtherID string `json:"other_id,omitempty"`
}

type Detector struct {
	MinBreak time.Duration
	Clock    clock.Clock
}

func New(minBreak time.Duration, c clock.Clock) Detector {
	return Detector{MinBreak: minBreak, Clock: c}
}

func (d Detector) minBreak() time.Duration {
	if d.MinBreak <= 0 {
		return DefaultMinBreak
	}
	return d.MinBreak
}

type span struct {
	id         string
	start, end time.Time
}

func (d Detector) span(s model.WorkingSlot, date string) (span, bool) {
	start, ok := d.Clock.ToInstant(s.StartTime, date)
	if !ok {
		return span{}, false
	}
	end, ok := d.Clock.ToInstant(s.EndTime, date)
	if !ok {
		return span{}, false
	}
	return span{id: s.ID, start: start, end: end}, true
}

// Detect returns the first problem found for slot, or nil. Checks run in order:
// ordering, overlap with any sibling, then a too-short gap after a preceding sibling.
func (d Detector) Detect(slot model.WorkingSlot, all []model.WorkingSlot, date string) *Warning {
	me, ok := d.span(slot, date)
	if !ok {
		return nil
	}
	if !clock.IsBefore(me.start, me.end) {
		return &Warning{Kind: KindInvalidOrder, Message: "End time must be after start time"}
	}

	others := make([]span, 0, len(all))
	for _, s := range all {
		if s.ID == slot.ID {
			continue
		}
		if o, ok := d.span(s, date); ok {
			others = append(others, o)
		}
	}

	for _, o := range others {
		if me.start.Before(o.end) && me.end.After(o.start) {
			return &Warning{
				Kind:    KindOverlap,
				OtherID: o.id,
				Message: fmt.Sprintf("Overlaps with slot %s - %s", d.Clock.FormatClock(o.start), d.Clock.FormatClock(o.end)),
			}
		}
	}

	for _, o := range others {
		if o.end.After(me.start) {
			continue
		}
		gap := me.start.Sub(o.end)
		if gap > 0 && gap < d.minBreak() {
			return &Warning{
				Kind:    KindInsufficientBreak,
				OtherID: o.id,
				Message: fmt.Sprintf("Only %d min break after slot ending at %s (minimum %d min)",
					int(gap/time.Minute), d.Clock.FormatClock(o.end), int(d.minBreak()/time.Minute)),
			}
		}
	}
	return nil
}

// DetectAll evaluates every slot against the rest of the day. Slots without a
// problem are absent from the result.
func (d Detector) DetectAll(all []model.WorkingSlot, date string) map[string]*Warning {
	out := make(map[string]*Warning)
	for _, s := range all {
		if w := d.Detect(s, all, date); w != nil {
			out[s.ID] = w
		}
	}
	return out
}

func HasConflicts(warnings map[string]*Warning) bool {
	for _, w := range warnings {
		if w != nil {
			return true
		}
	}
	return false
}
