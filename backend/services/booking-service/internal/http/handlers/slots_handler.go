package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/service"
)

// SlotsHandler serves slot state and operator tooling.
type SlotsHandler struct {
	registry  *service.SlotRegistry
	allocator *service.ReservationAllocator
	logger    *zap.Logger
}

// NewSlotsHandler builds handler set.
func NewSlotsHandler(registry *service.SlotRegistry, allocator *service.ReservationAllocator, logger *zap.Logger) *SlotsHandler {
	return &SlotsHandler{registry: registry, allocator: allocator, logger: logger}
}

// Get handles GET /api/slots/{id}.
func (h *SlotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	slot, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetMaintenance handles PUT /api/slots/{id}/maintenance.
func (h *SlotsHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	var req maintenanceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	slot, err := h.registry.SetMaintenance(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// SweepNoShows handles POST /api/admin/no-show-sweep.
func (h *SlotsHandler) SweepNoShows(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	swept, err := h.allocator.SweepNoShows(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": swept})
}

func requirePrivileged(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := actorFrom(w, r)
	if !ok {
		return false
	}
	if !actor.Privileged() {
		err := fmt.Errorf("%w: operator role required", service.ErrForbidden)
		writeError(w, http.StatusForbidden, service.Code(err), err.Error())
		return false
	}
	return true
}
