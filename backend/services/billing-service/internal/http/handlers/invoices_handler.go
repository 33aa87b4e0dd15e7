package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/models"
	"evcharge/backend/services/billing-service/internal/service"
)

const userIDHeader = "X-User-ID"

// InvoicesHandler serves invoice submission and history.
type InvoicesHandler struct {
	svc    *service.InvoiceService
	logger *zap.Logger
}

// NewInvoicesHandler builds handler.
func NewInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) *InvoicesHandler {
	return &InvoicesHandler{svc: svc, logger: logger}
}

// submitInvoiceRequest is the invoice as issued by the booking service.
// Its payment fields describe the sender's view and are not stored.
type submitInvoiceRequest struct {
	InvoiceID         string    `json:"invoice_id" validate:"omitempty,max=64"`
	BookingID         string    `json:"booking_id" validate:"required,max=64"`
	UserID            string    `json:"user_id" validate:"required,max=64"`
	StationID         string    `json:"station_id" validate:"max=64"`
	TotalEnergyKWh    float64   `json:"total_energy_kwh" validate:"gte=0"`
	DurationMinutes   int       `json:"duration_minutes" validate:"gte=0"`
	UnitPrice         float64   `json:"unit_price" validate:"gte=0"`
	Subtotal          float64   `json:"subtotal" validate:"gte=0"`
	TaxRate           float64   `json:"tax_rate" validate:"gte=0,lte=1"`
	TaxAmount         float64   `json:"tax_amount" validate:"gte=0"`
	TotalAmount       float64   `json:"total_amount" validate:"gte=0"`
	Currency          string    `json:"currency" validate:"omitempty,len=3"`
	PaymentStatus     string    `json:"payment_status"`
	ExternalInvoiceID *string   `json:"external_invoice_id"`
	CreatedAt         time.Time `json:"created_at"`
}

func (req submitInvoiceRequest) invoice() models.Invoice {
	return models.Invoice{
		InvoiceID:       req.InvoiceID,
		BookingID:       req.BookingID,
		UserID:          req.UserID,
		StationID:       req.StationID,
		TotalEnergyKWh:  req.TotalEnergyKWh,
		DurationMinutes: req.DurationMinutes,
		UnitPrice:       req.UnitPrice,
		Subtotal:        req.Subtotal,
		TaxRate:         req.TaxRate,
		TaxAmount:       req.TaxAmount,
		TotalAmount:     req.TotalAmount,
		Currency:        req.Currency,
		CreatedAt:       req.CreatedAt,
	}
}

// Submit handles POST /internal/invoices. A repeated submission for the same
// booking answers 200 with the stored invoice.
func (h *InvoicesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitInvoiceRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv := req.invoice()

	stored, created, err := h.svc.Submit(r.Context(), inv)
	if errors.Is(err, service.ErrInvalidInvoice) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to store invoice", zap.String("booking_id", inv.BookingID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store invoice")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, stored)
}

// Mine handles GET /billing/me/invoices.
func (h *InvoicesHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id header")
		return
	}
	invoices, err := h.svc.InvoicesForUser(r.Context(), userID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load invoices")
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}
