package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/service"
)

// CredentialsHandler serves QR scans from chargers and the driver app.
type CredentialsHandler struct {
	gate   *service.CredentialGate
	logger *zap.Logger
}

// NewCredentialsHandler builds handler.
func NewCredentialsHandler(gate *service.CredentialGate, logger *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{gate: gate, logger: logger}
}

type scanRequest struct {
	QRData string `json:"qr_data" validate:"required,max=512"`
	SlotID string `json:"slot_id" validate:"required,max=64"`
}

// Scan handles POST /api/credentials/scan.
func (h *CredentialsHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	res, err := h.gate.ValidateAndConsume(r.Context(), actor, req.QRData, req.SlotID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
