// Package generator proposes new slots that continue a day's existing rhythm.
package generator

import (
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type Config struct {
	DefaultStart    string // "HH:MM"
	DefaultDuration int    // minutes
	Break           int    // minutes between consecutive slots
}

func DefaultConfig() Config {
	return Config{DefaultStart: "09:00", DefaultDuration: 30, Break: 10}
}

type Candidate struct {
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
	Duration int    `json:"duration"`
}

type Generator struct {
	cfg   Config
	clock clock.Clock
}

func New(cfg Config, c clock.Clock) Generator {
	def := DefaultConfig()
	if _, err := clock.ParseClock(cfg.DefaultStart); err != nil {
		cfg.DefaultStart = def.DefaultStart
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.Break < 0 {
		cfg.Break = def.Break
	}
	return Generator{cfg: cfg, clock: c}
}

func (g Generator) Config() Config { return g.cfg }

// Next proposes the slot following last. Without a usable predecessor it starts at
// the configured default; otherwise it starts one break after last ends and keeps
// last's duration. ok is false when the candidate would not end before the next
// midnight; clock values would wrap into the following day.
func (g Generator) Next(last *model.WorkingSlot, date string) (c Candidate, ok bool) {
	start, dur := g.seed(last, date)
	end := clock.AddMinutes(start, dur)
	c = Candidate{
		Start:    g.clock.FormatClock(start),
		End:      g.clock.FormatClock(end),
		Duration: dur,
	}
	return c, g.withinDay(end, date)
}

func (g Generator) withinDay(end time.Time, date string) bool {
	_, midnight, err := g.clock.DayBounds(date)
	if err != nil {
		return true
	}
	return end.Before(midnight)
}

func (g Generator) seed(last *model.WorkingSlot, date string) (time.Time, int) {
	if last != nil {
		if end, ok := g.clock.ToInstant(last.EndTime, date); ok {
			return clock.AddMinutes(end, g.cfg.Break), g.durationOf(*last, date)
		}
	}
	start, ok := g.clock.ToInstant(g.cfg.DefaultStart, date)
	if !ok {
		// Date itself is malformed; anchor on the configured time of an arbitrary day
		// so the candidate still carries sensible clock values.
		start, _ = g.clock.ToInstant(g.cfg.DefaultStart, "2000-01-01")
	}
	return start, g.cfg.DefaultDuration
}

func (g Generator) durationOf(s model.WorkingSlot, date string) int {
	if s.Duration > 0 {
		return s.Duration
	}
	start, okStart := g.clock.ToInstant(s.StartTime, date)
	end, okEnd := g.clock.ToInstant(s.EndTime, date)
	if okStart && okEnd {
		if d := clock.MinutesBetween(start, end); d > 0 {
			return d
		}
	}
	return g.cfg.DefaultDuration
}

// FillUntil generates consecutive slots after last until the next one would end
// after limit. The result is empty when limit is malformed or not even one slot fits.
// Generated slots inherit last's location.
func (g Generator) FillUntil(last *model.WorkingSlot, limit, date string) []model.WorkingSlot {
	end, ok := g.clock.ToInstant(limit, date)
	if !ok {
		return nil
	}
	locationID := ""
	if last != nil {
		locationID = last.LocationID
	}
	var out []model.WorkingSlot
	prev := last
	for {
		start, dur := g.seed(prev, date)
		slotEnd := clock.AddMinutes(start, dur)
		if slotEnd.After(end) {
			return out
		}
		s := NewSlot(Candidate{
			Start:    g.clock.FormatClock(start),
			End:      g.clock.FormatClock(slotEnd),
			Duration: dur,
		}, locationID)
		out = append(out, s)
		prev = &s
	}
}

// NewSlot turns a candidate into an unsaved working slot with a fresh placeholder id.
func NewSlot(c Candidate, locationID string) model.WorkingSlot {
	return model.WorkingSlot{
		ID:         PlaceholderID(),
		StartTime:  c.Start,
		EndTime:    c.End,
		LocationID: locationID,
		Duration:   c.Duration,
		IsNew:      true,
	}
}

func PlaceholderID() string {
	return model.PlaceholderPrefix + uuid.NewString()
}
