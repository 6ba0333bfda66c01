package manager

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

const (
	doctorID = "doc-1"
	day      = "2026-03-02"
)

var doctor = auth.Principal{UserID: doctorID, Role: auth.RoleDoctor}

func newManager(t *testing.T, store *fakeStore) *Manager {
	t.Helper()
	m := New(store, doctor, Options{})
	if err := m.SelectDate(context.Background(), day); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	return m
}

func bounds(slots []model.Slot, c clock.Clock) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, c.FormatClock(s.StartTime)+"-"+c.FormatClock(s.EndTime)+"@"+s.LocationID)
	}
	sort.Strings(out)
	return out
}

func TestManager_NoIdentityIsNoop(t *testing.T) {
	store := newFakeStore()
	m := New(store, auth.Principal{UserID: "p-1", Role: auth.RolePatient}, Options{})
	ctx := context.Background()

	if err := m.SelectDate(ctx, day); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	if s, err := m.AddSingleSlot(); err != nil || s.ID != "" {
		t.Fatalf("AddSingleSlot: %+v %v", s, err)
	}
	if got, err := m.GenerateMagicSlots("12:00"); err != nil || got != nil {
		t.Fatalf("GenerateMagicSlots: %+v %v", got, err)
	}
	if err := m.UpdateSlotField("x", model.FieldStartTime, "09:00"); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	if err := m.LoadOccupiedDates(ctx, day, day); err != nil {
		t.Fatalf("LoadOccupiedDates: %v", err)
	}
	if err := m.SaveChanges(ctx); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := m.CopyScheduleToDates(ctx, []string{"2026-03-03"}); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if len(m.Slots()) != 0 || m.HasConflicts() || m.HasMissingFields() {
		t.Fatal("expected empty state")
	}
	if len(store.calls) != 0 {
		t.Fatalf("expected no store calls, got %v", store.calls)
	}
}

func TestManager_SelectDateLoadsLocationsOnce(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "09:00", "09:30", false)
	store.seed("doc-2", day, "10:00", "10:30", false)
	m := newManager(t, store)

	if err := m.SelectDate(context.Background(), "2026-03-03"); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	if err := m.SelectDate(context.Background(), day); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	if n := store.callCount("locations"); n != 1 {
		t.Fatalf("expected 1 locations fetch, got %d", n)
	}
	slots := m.Slots()
	if len(slots) != 1 || slots[0].StartTime != "09:00" || slots[0].IsNew {
		t.Fatalf("unexpected slots %+v", slots)
	}
	if len(m.Locations()) != 2 || m.Status() != StatusIdle || m.Date() != day {
		t.Fatal("unexpected manager state")
	}
}

func TestManager_SelectDateRejectsMalformedDate(t *testing.T) {
	store := newFakeStore()
	m := New(store, doctor, Options{})
	if err := m.SelectDate(context.Background(), "03/02/2026"); err == nil {
		t.Fatal("expected error")
	}
	if len(store.calls) != 0 {
		t.Fatalf("expected no store calls, got %v", store.calls)
	}
}

func TestManager_AddSingleSlot(t *testing.T) {
	m := newManager(t, newFakeStore())

	first, err := m.AddSingleSlot()
	if err != nil {
		t.Fatalf("AddSingleSlot: %v", err)
	}
	if first.StartTime != "09:00" || first.EndTime != "09:30" || first.LocationID != "loc-1" || !first.IsNew {
		t.Fatalf("unexpected first slot %+v", first)
	}
	if err := m.UpdateSlotField(first.ID, model.FieldLocationID, "loc-2"); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	second, _ := m.AddSingleSlot()
	if second.StartTime != "09:40" || second.EndTime != "10:10" || second.LocationID != "loc-2" {
		t.Fatalf("unexpected second slot %+v", second)
	}
	if m.HasConflicts() {
		t.Fatalf("unexpected conflicts %+v", m.Warnings())
	}
}

func TestManager_GenerateMagicSlots(t *testing.T) {
	m := newManager(t, newFakeStore())
	if got, err := m.GenerateMagicSlots("12:00"); err != nil || got != nil {
		t.Fatalf("expected no-op on empty list, got %+v %v", got, err)
	}

	if _, err := m.AddSingleSlot(); err != nil {
		t.Fatalf("AddSingleSlot: %v", err)
	}
	added, err := m.GenerateMagicSlots("11:00")
	if err != nil {
		t.Fatalf("GenerateMagicSlots: %v", err)
	}
	// 09:40, 10:20 fit; 11:00-11:30 does not.
	if len(added) != 2 || added[1].StartTime != "10:20" || added[1].EndTime != "10:50" {
		t.Fatalf("unexpected generated slots %+v", added)
	}
	if len(m.Slots()) != 3 || m.HasMissingFields() {
		t.Fatalf("unexpected working list %+v", m.Slots())
	}
}

func TestManager_UpdateSlotFieldDurationClamp(t *testing.T) {
	m := newManager(t, newFakeStore())
	s, _ := m.AddSingleSlot()

	if err := m.UpdateSlotField(s.ID, model.FieldEndTime, "10:00"); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	if got := m.Slots()[0].Duration; got != 60 {
		t.Fatalf("expected duration 60, got %d", got)
	}
	if err := m.UpdateSlotField(s.ID, model.FieldEndTime, "08:30"); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	got := m.Slots()[0]
	if got.Duration != 60 || got.EndTime != "08:30" {
		t.Fatalf("expected duration kept at 60, got %+v", got)
	}
	if w := m.Warnings()[s.ID]; w == nil || w.Kind != conflict.KindInvalidOrder {
		t.Fatalf("expected invalid order warning, got %+v", w)
	}
	if err := m.UpdateSlotField(s.ID, "duration", "15"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if err := m.UpdateSlotField("missing", model.FieldEndTime, "10:00"); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}
}

func TestManager_BookedSlotsAreImmutable(t *testing.T) {
	store := newFakeStore()
	booked := store.seed(doctorID, day, "09:00", "09:30", true)
	m := newManager(t, store)

	if err := m.UpdateSlotField(booked.ID, model.FieldStartTime, "08:00"); !errors.Is(err, ErrSlotBooked) {
		t.Fatalf("expected ErrSlotBooked, got %v", err)
	}
	if err := m.RemoveSlot(booked.ID); !errors.Is(err, ErrSlotBooked) {
		t.Fatalf("expected ErrSlotBooked, got %v", err)
	}
	if err := m.ReplaceSlots(nil); err != nil {
		t.Fatalf("ReplaceSlots: %v", err)
	}
	if got := m.Slots(); len(got) != 1 || got[0].ID != booked.ID {
		t.Fatalf("expected booked slot to survive replace, got %+v", got)
	}
}

func TestManager_AddSingleSlotPastMidnight(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "23:20", "23:50", false)
	m := newManager(t, store)

	if s, err := m.AddSingleSlot(); !errors.Is(err, ErrDayFull) {
		t.Fatalf("expected ErrDayFull, got %+v %v", s, err)
	}
	if got := m.Slots(); len(got) != 1 {
		t.Fatalf("expected working list unchanged, got %+v", got)
	}
}

func TestManager_ReplaceSlotsRekeysDuplicateIDs(t *testing.T) {
	store := newFakeStore()
	booked := store.seed(doctorID, day, "08:00", "08:30", true)
	m := newManager(t, store)

	err := m.ReplaceSlots([]model.WorkingSlot{
		{ID: "x", StartTime: "09:00", EndTime: "10:00", LocationID: "loc-1", Duration: 60},
		{ID: "x", StartTime: "09:30", EndTime: "10:30", LocationID: "loc-1", Duration: 60},
		{ID: booked.ID, StartTime: "11:00", EndTime: "11:30", LocationID: "loc-1", Duration: 30},
	})
	if err != nil {
		t.Fatalf("ReplaceSlots: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range m.Slots() {
		if ids[s.ID] {
			t.Fatalf("duplicate id %s in %+v", s.ID, m.Slots())
		}
		ids[s.ID] = true
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 distinct slots, got %+v", m.Slots())
	}
	if !m.HasConflicts() {
		t.Fatal("expected overlapping slots sharing an id to conflict")
	}
	before := len(store.calls)
	var blocked *BlockedError
	if err := m.SaveChanges(context.Background()); !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if len(store.calls) != before {
		t.Fatalf("expected no store calls, got %v", store.calls[before:])
	}
}

func TestManager_SaveBlockedByConflicts(t *testing.T) {
	store := newFakeStore()
	m := newManager(t, store)
	a, _ := m.AddSingleSlot()
	b, _ := m.AddSingleSlot()
	if err := m.UpdateSlotField(b.ID, model.FieldStartTime, "09:15"); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	if !m.HasConflicts() {
		t.Fatal("expected conflicts")
	}
	before := len(store.calls)

	err := m.SaveChanges(context.Background())
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Warnings[a.ID] == nil && blocked.Warnings[b.ID] == nil {
		t.Fatalf("expected warnings in error, got %+v", blocked.Warnings)
	}
	if len(store.calls) != before {
		t.Fatalf("expected no store calls, got %v", store.calls[before:])
	}
}

func TestManager_SaveBlockedByMissingFields(t *testing.T) {
	store := newFakeStore()
	m := newManager(t, store)
	s, _ := m.AddSingleSlot()
	if err := m.UpdateSlotField(s.ID, model.FieldLocationID, ""); err != nil {
		t.Fatalf("UpdateSlotField: %v", err)
	}
	if !m.HasMissingFields() {
		t.Fatal("expected missing fields")
	}
	var blocked *BlockedError
	if err := m.SaveChanges(context.Background()); !errors.As(err, &blocked) || len(blocked.Missing) != 1 {
		t.Fatalf("expected missing-field block, got %v", err)
	}
	if store.callCount("delete") != 0 {
		t.Fatal("expected no delete")
	}
}

func TestManager_SaveChangesIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "08:00", "08:30", true)
	m := newManager(t, store)
	if _, err := m.AddSingleSlot(); err != nil {
		t.Fatalf("AddSingleSlot: %v", err)
	}
	if _, err := m.GenerateMagicSlots("10:30"); err != nil {
		t.Fatalf("GenerateMagicSlots: %v", err)
	}
	ctx := context.Background()

	if err := m.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}
	first, _ := store.FetchSlotsForDate(ctx, doctorID, day)
	if err := m.SaveChanges(ctx); err != nil {
		t.Fatalf("second SaveChanges: %v", err)
	}
	second, _ := store.FetchSlotsForDate(ctx, doctorID, day)

	// The booked 08:00 slot seeds the rhythm.
	want := []string{"08:00-08:30@loc-1", "08:40-09:10@loc-1", "09:20-09:50@loc-1", "10:00-10:30@loc-1"}
	got1, got2 := bounds(first, store.clock), bounds(second, store.clock)
	if len(got1) != len(want) || len(got2) != len(want) {
		t.Fatalf("unexpected persisted sets %v / %v", got1, got2)
	}
	for i := range want {
		if got1[i] != want[i] || got2[i] != want[i] {
			t.Fatalf("unexpected persisted sets %v / %v", got1, got2)
		}
	}
	for _, s := range m.Slots() {
		if s.IsNew {
			t.Fatalf("expected reloaded slots, got %+v", s)
		}
	}
}

func TestManager_SavePartialWriteResyncs(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "08:00", "08:30", true)
	store.seed(doctorID, day, "09:00", "09:30", false)
	m := newManager(t, store)
	if _, err := m.AddSingleSlot(); err != nil {
		t.Fatalf("AddSingleSlot: %v", err)
	}
	store.failInsert[day] = errBoom

	err := m.SaveChanges(context.Background())
	if !errors.Is(err, ErrPartialWrite) || !errors.Is(err, errBoom) {
		t.Fatalf("expected partial write wrapping store error, got %v", err)
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", m.Status())
	}
	got := m.Slots()
	if len(got) != 1 || !got[0].IsBooked {
		t.Fatalf("expected working list resynced to booked slot only, got %+v", got)
	}
}

func TestManager_SaveDeleteFailureKeepsDay(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "09:00", "09:30", false)
	m := newManager(t, store)
	if _, err := m.AddSingleSlot(); err != nil {
		t.Fatalf("AddSingleSlot: %v", err)
	}
	store.failDelete[day] = errBoom

	err := m.SaveChanges(context.Background())
	if !errors.Is(err, errBoom) || errors.Is(err, ErrPartialWrite) {
		t.Fatalf("expected plain delete failure, got %v", err)
	}
	if got := m.Slots(); len(got) != 1 {
		t.Fatalf("expected persisted slot only, got %+v", got)
	}
}

func TestManager_CopyNothingToCopy(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "09:00", "09:30", true)
	m := newManager(t, store)
	before := len(store.calls)

	if _, err := m.CopyScheduleToDates(context.Background(), nil); !errors.Is(err, ErrNothingToCopy) {
		t.Fatalf("expected ErrNothingToCopy for empty dates, got %v", err)
	}
	// Only a booked slot is loaded.
	if _, err := m.CopyScheduleToDates(context.Background(), []string{"2026-03-03"}); !errors.Is(err, ErrNothingToCopy) {
		t.Fatalf("expected ErrNothingToCopy for booked-only list, got %v", err)
	}
	if len(store.calls) != before {
		t.Fatalf("expected no store calls, got %v", store.calls[before:])
	}
}

func TestManager_CopyAggregatesEveryFailure(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "09:00", "09:30", false)
	store.seed(doctorID, day, "09:40", "10:10", false)
	store.seed(doctorID, day, "11:00", "11:30", true)
	m := newManager(t, store)

	store.failDelete["2026-03-04"] = errBoom
	store.failInsert["2026-03-05"] = errors.New("disk full")
	dates := []string{"2026-03-05", "2026-03-03", "2026-03-04", "2026-03-03", day}

	report, err := m.CopyScheduleToDates(context.Background(), dates)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errBoom) || !errors.Is(err, ErrPartialWrite) || !errors.Is(err, ErrSameDate) {
		t.Fatalf("expected every failure joined, got %v", err)
	}
	if len(report.Results) != 4 || report.OK() {
		t.Fatalf("unexpected report %+v", report)
	}
	if ok := report.Succeeded(); len(ok) != 1 || ok[0] != "2026-03-03" {
		t.Fatalf("unexpected successes %v", ok)
	}
	if len(report.Failed()) != 3 {
		t.Fatalf("expected 3 failures, got %+v", report.Failed())
	}

	copied, _ := store.FetchSlotsForDate(context.Background(), doctorID, "2026-03-03")
	if got := bounds(copied, store.clock); len(got) != 2 || got[0] != "09:00-09:30@loc-1" || got[1] != "09:40-10:10@loc-1" {
		t.Fatalf("unexpected copied slots %v", got)
	}
	for _, s := range copied {
		if s.IsBooked {
			t.Fatal("booked slot must not be copied")
		}
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", m.Status())
	}
}

func TestManager_CopyKeepsTargetBookedSlots(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, day, "09:00", "09:30", false)
	store.seed(doctorID, "2026-03-03", "14:00", "14:30", true)
	store.seed(doctorID, "2026-03-03", "15:00", "15:30", false)
	m := newManager(t, store)

	report, err := m.CopyScheduleToDates(context.Background(), []string{"2026-03-03"})
	if err != nil || !report.OK() || report.Results[0].Inserted != 1 {
		t.Fatalf("unexpected copy result %+v %v", report, err)
	}
	target, _ := store.FetchSlotsForDate(context.Background(), doctorID, "2026-03-03")
	got := bounds(target, store.clock)
	if len(got) != 2 || got[0] != "09:00-09:30@loc-1" || got[1] != "14:00-14:30@loc-1" {
		t.Fatalf("unexpected target day %v", got)
	}
}

func TestManager_OccupiedDates(t *testing.T) {
	store := newFakeStore()
	store.seed(doctorID, "2026-03-03", "09:00", "09:30", true)
	store.seed(doctorID, "2026-03-04", "09:00", "09:30", false)
	store.seed(doctorID, "2026-04-01", "09:00", "09:30", true)
	m := newManager(t, store)

	if err := m.LoadOccupiedDates(context.Background(), "2026-03-01", "2026-03-31"); err != nil {
		t.Fatalf("LoadOccupiedDates: %v", err)
	}
	got := m.OccupiedDates()
	if len(got) != 1 || got[0] != "2026-03-03" || !m.IsOccupied("2026-03-03") || m.IsOccupied("2026-03-04") {
		t.Fatalf("unexpected occupied dates %v", got)
	}
}

func TestManager_RoundTripKeepsClockValues(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c := clock.Clock{Location: berlin}
	store := newFakeStore()
	store.clock = c
	m := New(store, doctor, Options{Clock: c})
	ctx := context.Background()
	if err := m.SelectDate(ctx, day); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	s, _ := m.AddSingleSlot()
	_ = m.UpdateSlotField(s.ID, model.FieldStartTime, "17:05")
	_ = m.UpdateSlotField(s.ID, model.FieldEndTime, "17:50")
	if err := m.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}
	got := m.Slots()
	if len(got) != 1 || got[0].StartTime != "17:05" || got[0].EndTime != "17:50" || got[0].Duration != 45 {
		t.Fatalf("unexpected round trip %+v", got)
	}
}

func TestManager_BusyWhileLoading(t *testing.T) {
	store := newFakeStore()
	m := newManager(t, store)
	store.gate = make(chan struct{})
	store.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- m.SelectDate(context.Background(), "2026-03-03") }()
	<-store.entered

	if m.Status() != StatusLoading {
		t.Fatalf("expected loading, got %s", m.Status())
	}
	if err := m.SaveChanges(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := m.AddSingleSlot(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	if m.Status() != StatusIdle || m.Date() != "2026-03-03" {
		t.Fatalf("unexpected state %s %s", m.Status(), m.Date())
	}
}
