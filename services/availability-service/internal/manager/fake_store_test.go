package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	slots     []model.Slot
	locations []model.Location
	nextID    int
	calls     []string

	failDelete map[string]error // by date
	failInsert map[string]error // by date
	failFetch  error

	// gate, when set, blocks FetchSlotsForDate until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locations:  []model.Location{{ID: "loc-1", Name: "Main clinic"}, {ID: "loc-2", Name: "Annex"}},
		failDelete: map[string]error{},
		failInsert: map[string]error{},
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeStore) seed(doctorID, date, start, end string, booked bool) model.Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := f.clock.Combine(start, date)
	e, _ := f.clock.Combine(end, date)
	f.nextID++
	slot := model.Slot{
		ID:         fmt.Sprintf("slot-%d", f.nextID),
		DoctorID:   doctorID,
		LocationID: "loc-1",
		StartTime:  s,
		EndTime:    e,
		Duration:   clock.MinutesBetween(s, e),
		IsBooked:   booked,
	}
	f.slots = append(f.slots, slot)
	return slot
}

func (f *fakeStore) FetchSlotsForDate(ctx context.Context, doctorID, date string) ([]model.Slot, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch:" + date)
	if f.failFetch != nil {
		return nil, f.failFetch
	}
	var out []model.Slot
	for _, s := range f.slots {
		if s.DoctorID == doctorID && f.clock.FormatDate(s.StartTime) == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) DeleteSlots(ctx context.Context, doctorID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete:" + date)
	if err := f.failDelete[date]; err != nil {
		return err
	}
	kept := f.slots[:0]
	for _, s := range f.slots {
		if s.DoctorID == doctorID && f.clock.FormatDate(s.StartTime) == date && !s.IsBooked {
			continue
		}
		kept = append(kept, s)
	}
	f.slots = kept
	return nil
}

func (f *fakeStore) InsertSlots(ctx context.Context, slots []model.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	date := ""
	if len(slots) > 0 {
		date = f.clock.FormatDate(slots[0].StartTime)
	}
	f.record("insert:" + date)
	if err := f.failInsert[date]; err != nil {
		return err
	}
	for _, s := range slots {
		f.nextID++
		s.ID = fmt.Sprintf("slot-%d", f.nextID)
		f.slots = append(f.slots, s)
	}
	return nil
}

func (f *fakeStore) FetchOccupiedDates(ctx context.Context, doctorID, from, to string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("occupied")
	seen := map[string]bool{}
	var out []string
	for _, s := range f.slots {
		d := f.clock.FormatDate(s.StartTime)
		if s.DoctorID != doctorID || !s.IsBooked || d < from || d > to || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) FetchLocations(ctx context.Context, doctorID string) ([]model.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("locations")
	return f.locations, nil
}

var errBoom = errors.New("boom")
