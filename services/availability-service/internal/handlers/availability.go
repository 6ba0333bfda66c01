package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/libs/httpx"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type AvailabilityHandler struct {
	store  manager.Store
	opts   manager.Options
	logger *slog.Logger
}

func NewAvailabilityHandler(store manager.Store, opts manager.Options, logger *slog.Logger) *AvailabilityHandler {
	opts.Logger = logger
	return &AvailabilityHandler{store: store, opts: opts, logger: logger}
}

type scheduleResponse struct {
	DoctorID         string                       `json:"doctor_id"`
	Date             string                       `json:"date"`
	Slots            []model.WorkingSlot          `json:"slots"`
	Warnings         map[string]*conflict.Warning `json:"warnings"`
	HasConflicts     bool                         `json:"has_conflicts"`
	HasMissingFields bool                         `json:"has_missing_fields"`
	Locations        []model.Location             `json:"locations"`
}

type blockedResponse struct {
	Error    string                       `json:"error"`
	Warnings map[string]*conflict.Warning `json:"warnings,omitempty"`
	Missing  []string                     `json:"missing,omitempty"`
	Invalid  []string                     `json:"invalid,omitempty"`
}

type saveRequest struct {
	Slots []model.WorkingSlot `json:"slots"`
}

type generateRequest struct {
	EndTime string              `json:"end_time"`
	Slots   []model.WorkingSlot `json:"slots,omitempty"`
}

type generateResponse struct {
	Added []model.WorkingSlot `json:"added"`
	scheduleResponse
}

type copyRequest struct {
	Dates []string `json:"dates"`
}

type copyResult struct {
	Date     string `json:"date"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

type copyResponse struct {
	Results []copyResult `json:"results"`
}

type occupiedResponse struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Dates []string `json:"dates"`
}

func snapshot(m *manager.Manager) scheduleResponse {
	slots := m.Slots()
	if slots == nil {
		slots = []model.WorkingSlot{}
	}
	locs := m.Locations()
	if locs == nil {
		locs = []model.Location{}
	}
	return scheduleResponse{
		DoctorID:         m.DoctorID(),
		Date:             m.Date(),
		Slots:            slots,
		Warnings:         m.Warnings(),
		HasConflicts:     m.HasConflicts(),
		HasMissingFields: m.HasMissingFields(),
		Locations:        locs,
	}
}

// principal resolves whose schedule the request targets. Doctors act on their own
// schedule; admins name the doctor with ?doctor_id=.
func principal(r *http.Request) (auth.Principal, int, string) {
	p := auth.PrincipalFromContext(r.Context())
	if p.IsZero() {
		return auth.Principal{}, http.StatusUnauthorized, "unauthenticated"
	}
	switch p.Role {
	case auth.RoleDoctor:
		return p, 0, ""
	case auth.RoleAdmin:
		doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
		if doctorID == "" {
			return auth.Principal{}, http.StatusBadRequest, "doctor_id required"
		}
		return auth.Principal{UserID: doctorID, Role: auth.RoleDoctor}, 0, ""
	default:
		return auth.Principal{}, http.StatusForbidden, "doctor role required"
	}
}

// load builds a manager for the caller and selects ?date=. It writes the error
// response itself and reports false on failure.
func (h *AvailabilityHandler) load(w http.ResponseWriter, r *http.Request) (*manager.Manager, bool) {
	p, status, msg := principal(r)
	if status != 0 {
		httpx.WriteError(w, status, msg)
		return nil, false
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "date required")
		return nil, false
	}
	if _, err := h.opts.Clock.ParseDate(date); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid date")
		return nil, false
	}
	m := manager.New(h.store, p, h.opts)
	if err := m.SelectDate(r.Context(), date); err != nil {
		h.logger.Error("load schedule failed", "doctor_id", p.UserID, "date", date, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "failed to load schedule")
		return nil, false
	}
	return m, true
}

// Slots serves GET (read the day) and PUT (replace and save the day's open slots).
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m, ok := h.load(w, r)
		if !ok {
			return
		}
		httpx.WriteJSON(w, http.StatusOK, snapshot(m))
	case http.MethodPut:
		h.save(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AvailabilityHandler) save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := m.ReplaceSlots(req.Slots); err != nil {
		h.writeManagerError(w, err)
		return
	}
	if err := m.SaveChanges(r.Context()); err != nil {
		h.writeManagerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snapshot(m))
}

// Generate previews AddSingleSlot (no end_time) or GenerateMagicSlots without saving.
func (h *AvailabilityHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	if req.Slots != nil {
		if err := m.ReplaceSlots(req.Slots); err != nil {
			h.writeManagerError(w, err)
			return
		}
	}

	var added []model.WorkingSlot
	if strings.TrimSpace(req.EndTime) == "" {
		s, err := m.AddSingleSlot()
		if err != nil {
			h.writeManagerError(w, err)
			return
		}
		added = []model.WorkingSlot{s}
	} else {
		var err error
		if added, err = m.GenerateMagicSlots(req.EndTime); err != nil {
			h.writeManagerError(w, err)
			return
		}
	}
	if added == nil {
		added = []model.WorkingSlot{}
	}
	httpx.WriteJSON(w, http.StatusOK, generateResponse{Added: added, scheduleResponse: snapshot(m)})
}

// Copy replicates the persisted open slots of ?date= onto the requested dates.
func (h *AvailabilityHandler) Copy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req copyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	report, err := m.CopyScheduleToDates(r.Context(), req.Dates)
	if len(report.Results) == 0 && err != nil {
		h.writeManagerError(w, err)
		return
	}

	resp := copyResponse{Results: make([]copyResult, 0, len(report.Results))}
	for _, res := range report.Results {
		item := copyResult{Date: res.Date, Inserted: res.Inserted}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		if len(report.Succeeded()) == 0 {
			status = http.StatusBadGateway
		}
	}
	httpx.WriteJSON(w, status, resp)
}

// OccupiedDates lists days in [from, to] that hold booked slots.
func (h *AvailabilityHandler) OccupiedDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, status, msg := principal(r)
	if status != 0 {
		httpx.WriteError(w, status, msg)
		return
	}
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if _, err := h.opts.Clock.ParseDate(from); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if _, err := h.opts.Clock.ParseDate(to); err != nil || to < from {
		httpx.WriteError(w, http.StatusBadRequest, "invalid to")
		return
	}
	m := manager.New(h.store, p, h.opts)
	if err := m.LoadOccupiedDates(r.Context(), from, to); err != nil {
		h.logger.Error("load occupied dates failed", "doctor_id", p.UserID, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "failed to load occupied dates")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, occupiedResponse{From: from, To: to, Dates: m.OccupiedDates()})
}

func (h *AvailabilityHandler) writeManagerError(w http.ResponseWriter, err error) {
	var blocked *manager.BlockedError
	switch {
	case errors.As(err, &blocked):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, blockedResponse{
			Error:    blocked.Error(),
			Warnings: blocked.Warnings,
			Missing:  blocked.Missing,
			Invalid:  blocked.Invalid,
		})
	case errors.Is(err, manager.ErrSlotBooked), errors.Is(err, manager.ErrBusy):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, manager.ErrSlotNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrNothingToCopy), errors.Is(err, manager.ErrUnknownField),
		errors.Is(err, manager.ErrDayFull):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusGatewayTimeout, "store timeout")
	default:
		h.logger.Error("schedule write failed", "err", err)
		httpx.WriteError(w, http.StatusBadGateway, err.Error())
	}
}
