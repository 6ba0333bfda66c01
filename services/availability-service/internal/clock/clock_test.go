package clock

import (
	"testing"
	"time"
)

func TestToInstant(t *testing.T) {
	c := Clock{}
	got, ok := c.ToInstant("09:30", "2026-03-02")
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestToInstantFallsBackToNow(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 7, 42, 0, time.UTC)
	c := Clock{Now: func() time.Time { return now }}

	for _, in := range []string{"", "9h", "25:00"} {
		got, ok := c.ToInstant(in, "2026-03-02")
		if ok {
			t.Fatalf("expected ok=false for %q", in)
		}
		if !got.Equal(now.Truncate(time.Minute)) {
			t.Fatalf("expected sentinel now for %q, got %s", in, got)
		}
	}
	if _, ok := c.ToInstant("09:00", "02/03/2026"); ok {
		t.Fatal("expected ok=false for malformed date")
	}
}

func TestRoundTripPreservesClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c := Clock{Location: berlin}
	for _, hhmm := range []string{"00:00", "09:05", "12:30", "23:59"} {
		inst, ok := c.ToInstant(hhmm, "2026-03-29")
		if !ok {
			t.Fatalf("ToInstant(%q) failed", hhmm)
		}
		// Stores return instants in UTC; the clock must map them back to the same wall time.
		if got := c.FormatClock(inst.UTC()); got != hhmm {
			t.Fatalf("round trip %q -> %q", hhmm, got)
		}
	}
}

func TestArithmetic(t *testing.T) {
	a := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := AddMinutes(a, 40)
	if FormatClock(b) != "09:40" {
		t.Fatalf("unexpected %s", FormatClock(b))
	}
	if !IsBefore(a, b) || IsBefore(b, a) || !IsEqual(a, AddMinutes(b, -40)) {
		t.Fatal("comparison mismatch")
	}
	if MinutesBetween(a, b) != 40 || MinutesBetween(b, a) != -40 {
		t.Fatal("MinutesBetween mismatch")
	}
	if m, err := ParseClock("17:45:00"); err != nil || m != 17*60+45 {
		t.Fatalf("ParseClock: %d %v", m, err)
	}
}

func TestDayBounds(t *testing.T) {
	start, end, err := Clock{}.DayBounds("2026-03-02")
	if err != nil {
		t.Fatalf("DayBounds: %v", err)
	}
	if end.Sub(start) != 24*time.Hour || start.Hour() != 0 {
		t.Fatalf("unexpected bounds %s %s", start, end)
	}
}
