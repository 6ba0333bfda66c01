package manager

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/conflict"
)

var (
	ErrNoIdentity    = errors.New("no doctor identity")
	ErrNoDate        = errors.New("no date selected")
	ErrBusy          = errors.New("schedule is being loaded or saved")
	ErrSlotNotFound  = errors.New("slot not found")
	ErrSlotBooked    = errors.New("slot is booked")
	ErrUnknownField  = errors.New("unknown slot field")
	ErrNothingToCopy = errors.New("nothing to copy")
	ErrSameDate      = errors.New("target date is the selected date")
	ErrDayFull       = errors.New("next slot would run past midnight")
	// ErrPartialWrite means the day's open slots were deleted but the replacement
	// set was not inserted. The day is left with only its booked slots.
	ErrPartialWrite = errors.New("slots deleted but insert failed")
)

// BlockedError is returned when the working list cannot be persisted as-is.
// The store is not touched.
type BlockedError struct {
	Warnings map[string]*conflict.Warning
	Missing  []string // slot ids lacking a start, end or location
	Invalid  []string // slot ids whose times do not parse
}

func (e *BlockedError) Error() string {
	var parts []string
	if n := len(e.Warnings); n > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicting slot(s)", n))
	}
	if n := len(e.Missing); n > 0 {
		parts = append(parts, fmt.Sprintf("%d slot(s) with missing fields", n))
	}
	if n := len(e.Invalid); n > 0 {
		parts = append(parts, fmt.Sprintf("%d slot(s) with invalid times", n))
	}
	return "schedule blocked: " + strings.Join(parts, ", ")
}

func (e *BlockedError) empty() bool {
	return len(e.Warnings) == 0 && len(e.Missing) == 0 && len(e.Invalid) == 0
}

// CopyResult is the outcome for one target date.
type CopyResult struct {
	Date     string `json:"date"`
	Inserted int    `json:"inserted"`
	Err      error  `json:"-"`
}

type CopyReport struct {
	Results []CopyResult
}

func (r CopyReport) OK() bool {
	return len(r.Failed()) == 0 && len(r.Results) > 0
}

func (r CopyReport) Succeeded() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Date)
		}
	}
	return out
}

func (r CopyReport) Failed() []CopyResult {
	var out []CopyResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (r CopyReport) err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", res.Date, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *CopyReport) sort() {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Date < r.Results[j].Date })
}
