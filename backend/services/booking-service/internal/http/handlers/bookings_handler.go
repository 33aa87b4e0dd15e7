package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/service"
)

const defaultListLimit = 50

// BookingsHandler serves the booking lifecycle endpoints.
type BookingsHandler struct {
	allocator *service.ReservationAllocator
	machine   *service.SessionMachine
	telemetry *service.TelemetryTracker
	logger    *zap.Logger
}

// NewBookingsHandler builds handler set.
func NewBookingsHandler(allocator *service.ReservationAllocator, machine *service.SessionMachine, telemetry *service.TelemetryTracker, logger *zap.Logger) *BookingsHandler {
	return &BookingsHandler{
		allocator: allocator,
		machine:   machine,
		telemetry: telemetry,
		logger:    logger,
	}
}

type createBookingRequest struct {
	VehicleID                string     `json:"vehicle_id" validate:"required,max=64"`
	VehicleType              string     `json:"vehicle_type" validate:"omitempty,max=32"`
	SlotID                   string     `json:"slot_id" validate:"required,max=64"`
	SchedulingType           string     `json:"scheduling_type" validate:"required,oneof=scheduled qr_immediate"`
	ScheduledStartTime       *time.Time `json:"scheduled_start_time" validate:"required_if=SchedulingType scheduled"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes" validate:"gte=0,lte=1440"`
	EstimatedArrival         *time.Time `json:"estimated_arrival"`
	TargetSOC                int        `json:"target_soc" validate:"gte=0,lte=100"`
}

// Create handles POST /api/bookings.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	in := service.CreateBookingInput{
		VehicleID:         req.VehicleID,
		VehicleType:       req.VehicleType,
		SlotID:            req.SlotID,
		SchedulingType:    models.SchedulingType(req.SchedulingType),
		EstimatedDuration: time.Duration(req.EstimatedDurationMinutes) * time.Minute,
		EstimatedArrival:  req.EstimatedArrival,
		TargetSOC:         req.TargetSOC,
	}
	if req.ScheduledStartTime != nil {
		in.ScheduledStartTime = *req.ScheduledStartTime
	}

	booking, err := h.allocator.CreateBooking(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// List handles GET /api/bookings.
func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	bookings, err := h.machine.ListForUser(r.Context(), actor, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": bookings})
}

// Get handles GET /api/bookings/{id}.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	booking, err := h.machine.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// Cancel handles POST /api/bookings/{id}/cancel.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}
	booking, err := h.allocator.CancelBooking(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Confirm handles POST /api/bookings/{id}/confirm.
func (h *BookingsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	booking, err := h.machine.Confirm(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Start handles POST /api/bookings/{id}/start.
func (h *BookingsHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	booking, err := h.machine.Start(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Stop handles POST /api/bookings/{id}/stop. A repeated stop answers 200
// with the existing invoice and duplicate set.
func (h *BookingsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	res, err := h.machine.Stop(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil && !(errors.Is(err, service.ErrSettlementAlreadyIssued) && res != nil) {
		writeServiceError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.SettlementPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

type sampleRequest struct {
	Timestamp              *time.Time `json:"timestamp"`
	CurrentSOC             *float64   `json:"current_soc" validate:"required"`
	Voltage                *float64   `json:"voltage"`
	Current                *float64   `json:"current"`
	PowerKW                *float64   `json:"power_kw"`
	EnergyDeliveredKWh     *float64   `json:"energy_delivered_kwh"`
	TemperatureC           *float64   `json:"temperature_c"`
	EstimatedTimeRemaining *int       `json:"estimated_time_remaining_minutes" validate:"omitempty,gte=0"`
}

// RecordSample handles POST /api/bookings/{id}/samples.
func (h *BookingsHandler) RecordSample(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req sampleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	in := service.SampleInput{
		CurrentSOC:             *req.CurrentSOC,
		Voltage:                req.Voltage,
		Current:                req.Current,
		PowerKW:                req.PowerKW,
		EnergyDeliveredKWh:     req.EnergyDeliveredKWh,
		TemperatureC:           req.TemperatureC,
		EstimatedTimeRemaining: req.EstimatedTimeRemaining,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	sample, err := h.telemetry.RecordSample(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

// Progress handles GET /api/bookings/{id}/progress.
func (h *BookingsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	progress, err := h.telemetry.LatestProgress(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
