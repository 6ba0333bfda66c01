// Package clock converts between "HH:MM" wall-clock strings on a calendar date
// and absolute instants. All functions are pure given the Clock's location.
package clock

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Clock interprets calendar dates as local wall-clock days in Location.
// The zero value uses UTC and time.Now.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

func (c Clock) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().In(c.loc()).Truncate(time.Minute)
}

// ParseClock returns minutes since midnight for "HH:MM" (seconds are tolerated and dropped).
func ParseClock(hhmm string) (int, error) {
	s := strings.TrimSpace(hhmm)
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		t, err = time.Parse("15:04:05", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseDate returns midnight of date in the clock's location.
func (c Clock) ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), c.loc())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	return d, nil
}

// Combine is the strict form of ToInstant.
func (c Clock) Combine(hhmm, date string) (time.Time, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	mins, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, c.loc()), nil
}

// ToInstant combines a wall-clock time with a date. It never fails: malformed or
// empty input yields the current minute and ok=false. Callers must check ok before
// treating the result as a real slot boundary.
func (c Clock) ToInstant(hhmm, date string) (t time.Time, ok bool) {
	t, err := c.Combine(hhmm, date)
	if err != nil {
		return c.now(), false
	}
	return t, true
}

// FormatClock renders t as "HH:MM" in the clock's location.
func (c Clock) FormatClock(t time.Time) string {
	return t.In(c.loc()).Format(ClockLayout)
}

// FormatDate renders the calendar date of t in the clock's location.
func (c Clock) FormatDate(t time.Time) string {
	return t.In(c.loc()).Format(DateLayout)
}

// DayBounds returns [midnight, next midnight) for date.
func (c Clock) DayBounds(date string) (time.Time, time.Time, error) {
	start, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

func AddMinutes(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * time.Minute)
}

// FormatClock renders t as "HH:MM" in t's own location.
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

func IsBefore(a, b time.Time) bool { return a.Before(b) }

func IsEqual(a, b time.Time) bool { return a.Equal(b) }

// MinutesBetween returns b−a in whole minutes; negative when b precedes a.
func MinutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}
