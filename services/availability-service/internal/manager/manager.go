// Package manager owns one doctor's working schedule for a selected day: it loads
// slots from a Store, applies local edits, tracks conflicts and writes the day back.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/libs/runtime"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/generator"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSaving
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSaving:
		return "saving"
	default:
		return "idle"
	}
}

type Options struct {
	Clock     clock.Clock
	MinBreak  time.Duration
	Generator generator.Config
	Logger    *slog.Logger
}

type Manager struct {
	store    Store
	doctorID string
	clock    clock.Clock
	detector conflict.Detector
	gen      generator.Generator
	logger   *slog.Logger

	mu              sync.Mutex
	status          Status
	date            string
	slots           []model.WorkingSlot
	warnings        map[string]*conflict.Warning
	locations       []model.Location
	locationsLoaded bool
	occupied        map[string]struct{}
}

// New binds a manager to the principal's own schedule. A principal that is not a
// doctor yields a manager whose operations are all no-ops.
func New(store Store, p auth.Principal, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = runtime.DiscardLogger()
	}
	genCfg := opts.Generator
	if genCfg == (generator.Config{}) {
		genCfg = generator.DefaultConfig()
	}
	return &Manager{
		store:    store,
		doctorID: p.DoctorID(),
		clock:    opts.Clock,
		detector: conflict.New(opts.MinBreak, opts.Clock),
		gen:      generator.New(genCfg, opts.Clock),
		logger:   logger.With("doctor_id", p.DoctorID()),
		warnings: map[string]*conflict.Warning{},
		occupied: map[string]struct{}{},
	}
}

func (m *Manager) hasIdentity() bool {
	return m.doctorID != "" && m.store != nil
}

func (m *Manager) DoctorID() string { return m.doctorID }

// SelectDate replaces the working list with the persisted slots of date. Locations
// are fetched on the first successful selection only.
func (m *Manager) SelectDate(ctx context.Context, date string) error {
	if !m.hasIdentity() {
		return nil
	}
	if _, err := m.clock.ParseDate(date); err != nil {
		return err
	}

	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.status = StatusLoading
	needLocations := !m.locationsLoaded
	m.mu.Unlock()

	slots, err := m.store.FetchSlotsForDate(ctx, m.doctorID, date)
	var locs []model.Location
	var locErr error
	if err == nil && needLocations {
		locs, locErr = m.store.FetchLocations(ctx, m.doctorID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusIdle
	if err != nil {
		m.logger.Error("load slots failed", "date", date, "err", err)
		return fmt.Errorf("fetch slots for %s: %w", date, err)
	}
	m.date = date
	m.setSlotsLocked(m.toWorking(slots))
	if needLocations {
		if locErr != nil {
			m.logger.Warn("load locations failed", "err", locErr)
			return fmt.Errorf("fetch locations: %w", locErr)
		}
		m.locations = locs
		m.locationsLoaded = true
	}
	return nil
}

// AddSingleSlot appends the slot that follows the last one in the list. It returns
// ErrDayFull when that slot would run past midnight.
func (m *Manager) AddSingleSlot() (model.WorkingSlot, error) {
	if !m.hasIdentity() {
		return model.WorkingSlot{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return model.WorkingSlot{}, err
	}

	var last *model.WorkingSlot
	locationID := m.defaultLocationLocked()
	if n := len(m.slots); n > 0 {
		s := m.slots[n-1]
		last = &s
		if s.LocationID != "" {
			locationID = s.LocationID
		}
	}
	c, ok := m.gen.Next(last, m.date)
	if !ok {
		return model.WorkingSlot{}, ErrDayFull
	}
	slot := generator.NewSlot(c, locationID)
	m.setSlotsLocked(append(m.slots, slot))
	return slot, nil
}

// GenerateMagicSlots extends the list from its last slot up to endTime. It does
// nothing when there is no slot to extrapolate from.
func (m *Manager) GenerateMagicSlots(endTime string) ([]model.WorkingSlot, error) {
	if !m.hasIdentity() {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return nil, err
	}
	if len(m.slots) == 0 {
		return nil, nil
	}
	last := m.slots[len(m.slots)-1]
	if last.LocationID == "" {
		last.LocationID = m.defaultLocationLocked()
	}
	added := m.gen.FillUntil(&last, endTime, m.date)
	if len(added) == 0 {
		return nil, nil
	}
	m.setSlotsLocked(append(m.slots, added...))
	return added, nil
}

// UpdateSlotField edits one field of an unbooked slot. Editing a bound updates the
// duration only when the new range is positive.
func (m *Manager) UpdateSlotField(id, field, value string) error {
	if !m.hasIdentity() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return err
	}
	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	if m.slots[i].IsBooked {
		return fmt.Errorf("%w: %s", ErrSlotBooked, id)
	}

	slots := append([]model.WorkingSlot(nil), m.slots...)
	s := &slots[i]
	switch field {
	case model.FieldStartTime:
		s.StartTime = value
	case model.FieldEndTime:
		s.EndTime = value
	case model.FieldLocationID:
		s.LocationID = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if field != model.FieldLocationID {
		start, okStart := m.clock.ToInstant(s.StartTime, m.date)
		end, okEnd := m.clock.ToInstant(s.EndTime, m.date)
		if okStart && okEnd {
			if d := clock.MinutesBetween(start, end); d > 0 {
				s.Duration = d
			}
		}
	}
	m.setSlotsLocked(slots)
	return nil
}

// RemoveSlot drops an unbooked slot from the working list. Nothing is persisted
// until SaveChanges.
func (m *Manager) RemoveSlot(id string) error {
	if !m.hasIdentity() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return err
	}
	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	if m.slots[i].IsBooked {
		return fmt.Errorf("%w: %s", ErrSlotBooked, id)
	}
	slots := make([]model.WorkingSlot, 0, len(m.slots)-1)
	slots = append(slots, m.slots[:i]...)
	slots = append(slots, m.slots[i+1:]...)
	m.setSlotsLocked(slots)
	return nil
}

// ReplaceSlots swaps the unbooked part of the working list for slots. Booked slots
// are kept as loaded and booked entries in slots are ignored. A slot with no id, or
// with an id already taken in the list, is given a fresh placeholder id.
func (m *Manager) ReplaceSlots(slots []model.WorkingSlot) error {
	if !m.hasIdentity() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return err
	}
	next := make([]model.WorkingSlot, 0, len(slots))
	seen := make(map[string]bool, len(slots))
	for _, s := range m.slots {
		if s.IsBooked {
			next = append(next, s)
			seen[s.ID] = true
		}
	}
	for _, s := range slots {
		if s.IsBooked {
			continue
		}
		if s.ID == "" || seen[s.ID] {
			s.ID = generator.PlaceholderID()
			s.IsNew = true
		}
		seen[s.ID] = true
		next = append(next, s)
	}
	m.setSlotsLocked(next)
	return nil
}

// SaveChanges writes the working list for the selected date: the day's unbooked
// slots are deleted, the working list's unbooked slots inserted and the day
// reloaded. Booked slots are never written. On a store failure the day is
// re-fetched so the working list matches what is persisted.
func (m *Manager) SaveChanges(ctx context.Context) error {
	if !m.hasIdentity() {
		return ErrNoIdentity
	}
	m.mu.Lock()
	if m.date == "" {
		m.mu.Unlock()
		return ErrNoDate
	}
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	date := m.date
	payload, blocked := m.persistableLocked(date)
	if !blocked.empty() {
		m.mu.Unlock()
		return blocked
	}
	m.status = StatusSaving
	m.mu.Unlock()

	writeErr := m.replaceDay(WithChange(ctx, ChangeSave), date, payload)
	if writeErr != nil {
		m.logger.Error("save failed, resynchronising", "date", date, "err", writeErr)
	}
	slots, fetchErr := m.store.FetchSlotsForDate(ctx, m.doctorID, date)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusIdle
	if fetchErr != nil {
		m.logger.Error("reload after save failed", "date", date, "err", fetchErr)
		return errors.Join(writeErr, fmt.Errorf("reload %s: %w", date, fetchErr))
	}
	if m.date == date {
		m.setSlotsLocked(m.toWorking(slots))
	}
	return writeErr
}

// CopyScheduleToDates replicates the unbooked working slots onto each target date,
// replacing that date's unbooked slots. Dates are written concurrently and every
// date's outcome is reported; the returned error joins all failures. Occupied dates
// are not refused here.
func (m *Manager) CopyScheduleToDates(ctx context.Context, dates []string) (CopyReport, error) {
	if !m.hasIdentity() {
		return CopyReport{}, ErrNoIdentity
	}
	m.mu.Lock()
	if len(dates) == 0 {
		m.mu.Unlock()
		return CopyReport{}, ErrNothingToCopy
	}
	if m.status != StatusIdle {
		m.mu.Unlock()
		return CopyReport{}, ErrBusy
	}
	source := make([]model.WorkingSlot, 0, len(m.slots))
	for _, s := range m.slots {
		if !s.IsBooked {
			source = append(source, s)
		}
	}
	if len(source) == 0 {
		m.mu.Unlock()
		return CopyReport{}, ErrNothingToCopy
	}
	if _, blocked := m.persistableLocked(m.date); !blocked.empty() {
		m.mu.Unlock()
		return CopyReport{}, blocked
	}
	current := m.date
	m.status = StatusSaving
	m.mu.Unlock()

	targets := uniqueDates(dates)
	report := CopyReport{Results: make([]CopyResult, len(targets))}
	ctx = WithChange(ctx, ChangeCopy)

	var g errgroup.Group
	for i, date := range targets {
		report.Results[i].Date = date
		g.Go(func() error {
			n, err := m.copyTo(ctx, source, current, date)
			report.Results[i].Inserted = n
			report.Results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	report.sort()

	m.mu.Lock()
	m.status = StatusIdle
	m.mu.Unlock()

	err := report.err()
	if err != nil {
		m.logger.Error("copy schedule failed", "date", current, "failed", len(report.Failed()), "err", err)
	}
	return report, err
}

func (m *Manager) copyTo(ctx context.Context, source []model.WorkingSlot, current, date string) (int, error) {
	if date == current {
		return 0, ErrSameDate
	}
	if _, err := m.clock.ParseDate(date); err != nil {
		return 0, err
	}
	payload := make([]model.Slot, 0, len(source))
	for _, s := range source {
		slot, err := m.toPersisted(s, date)
		if err != nil {
			return 0, err
		}
		payload = append(payload, slot)
	}
	if err := m.replaceDay(ctx, date, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (m *Manager) replaceDay(ctx context.Context, date string, payload []model.Slot) error {
	if err := m.store.DeleteSlots(ctx, m.doctorID, date); err != nil {
		return fmt.Errorf("delete slots for %s: %w", date, err)
	}
	if err := m.store.InsertSlots(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPartialWrite, date, err)
	}
	return nil
}

// LoadOccupiedDates refreshes the advisory set of dates in [from, to] that hold
// booked slots.
func (m *Manager) LoadOccupiedDates(ctx context.Context, from, to string) error {
	if !m.hasIdentity() {
		return nil
	}
	dates, err := m.store.FetchOccupiedDates(ctx, m.doctorID, from, to)
	if err != nil {
		return fmt.Errorf("fetch occupied dates: %w", err)
	}
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	m.mu.Lock()
	m.occupied = set
	m.mu.Unlock()
	return nil
}

func (m *Manager) OccupiedDates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.occupied))
	for d := range m.occupied {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) IsOccupied(date string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.occupied[date]
	return ok
}

func (m *Manager) Slots() []model.WorkingSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WorkingSlot(nil), m.slots...)
}

func (m *Manager) Warnings() map[string]*conflict.Warning {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*conflict.Warning, len(m.warnings))
	for id, w := range m.warnings {
		out[id] = w
	}
	return out
}

func (m *Manager) HasConflicts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return conflict.HasConflicts(m.warnings)
}

func (m *Manager) HasMissingFields() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.MissingFields() {
			return true
		}
	}
	return false
}

func (m *Manager) Locations() []model.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Location(nil), m.locations...)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Date() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.date
}

func (m *Manager) editableLocked() error {
	if m.status != StatusIdle {
		return ErrBusy
	}
	if m.date == "" {
		return ErrNoDate
	}
	return nil
}

func (m *Manager) indexLocked(id string) int {
	for i, s := range m.slots {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) defaultLocationLocked() string {
	if len(m.locations) > 0 {
		return m.locations[0].ID
	}
	return ""
}

func (m *Manager) setSlotsLocked(slots []model.WorkingSlot) {
	m.slots = slots
	m.warnings = m.detector.DetectAll(slots, m.date)
}

// persistableLocked converts the unbooked working slots for date and collects
// everything that prevents a write.
func (m *Manager) persistableLocked(date string) ([]model.Slot, *BlockedError) {
	blocked := &BlockedError{}
	if conflict.HasConflicts(m.warnings) {
		blocked.Warnings = make(map[string]*conflict.Warning, len(m.warnings))
		for id, w := range m.warnings {
			blocked.Warnings[id] = w
		}
	}
	payload := make([]model.Slot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.IsBooked {
			continue
		}
		if s.MissingFields() {
			blocked.Missing = append(blocked.Missing, s.ID)
			continue
		}
		slot, err := m.toPersisted(s, date)
		if err != nil {
			blocked.Invalid = append(blocked.Invalid, s.ID)
			continue
		}
		payload = append(payload, slot)
	}
	return payload, blocked
}

func (m *Manager) toPersisted(s model.WorkingSlot, date string) (model.Slot, error) {
	start, err := m.clock.Combine(s.StartTime, date)
	if err != nil {
		return model.Slot{}, err
	}
	end, err := m.clock.Combine(s.EndTime, date)
	if err != nil {
		return model.Slot{}, err
	}
	dur := s.Duration
	if d := clock.MinutesBetween(start, end); d > 0 {
		dur = d
	}
	return model.Slot{
		DoctorID:   m.doctorID,
		LocationID: s.LocationID,
		StartTime:  start,
		EndTime:    end,
		Duration:   dur,
	}, nil
}

func (m *Manager) toWorking(slots []model.Slot) []model.WorkingSlot {
	out := make([]model.WorkingSlot, 0, len(slots))
	for _, s := range slots {
		out = append(out, model.WorkingSlot{
			ID:         s.ID,
			StartTime:  m.clock.FormatClock(s.StartTime),
			EndTime:    m.clock.FormatClock(s.EndTime),
			LocationID: s.LocationID,
			Duration:   s.Duration,
			IsBooked:   s.IsBooked,
		})
	}
	return out
}

func uniqueDates(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
