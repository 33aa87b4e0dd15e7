package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/models"
)

// ErrInvalidInvoice is returned for inconsistent submissions.
var ErrInvalidInvoice = errors.New("invalid invoice")

// InvoiceStore persists invoices idempotently per booking.
type InvoiceStore interface {
	CreateIfAbsent(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Invoice, error)
}

// InvoiceService accepts invoices computed at settlement.
type InvoiceService struct {
	store  InvoiceStore
	now    func() time.Time
	logger *zap.Logger
}

// NewInvoiceService builds service.
func NewInvoiceService(store InvoiceStore, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Submit stores inv once per booking. created is false when the booking was
// already invoiced; the stored invoice is returned in that case.
func (s *InvoiceService) Submit(ctx context.Context, inv models.Invoice) (*models.Invoice, bool, error) {
	if err := validateInvoice(inv); err != nil {
		return nil, false, err
	}
	if inv.InvoiceID == "" {
		inv.InvoiceID = uuid.NewString()
	}
	inv.Status = models.InvoicePending
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}

	stored, created, err := s.store.CreateIfAbsent(ctx, &inv)
	if err != nil {
		return nil, false, fmt.Errorf("billing: store invoice: %w", err)
	}
	if created {
		s.logger.Info("invoice accepted",
			zap.String("invoice_id", stored.InvoiceID),
			zap.String("booking_id", stored.BookingID),
			zap.Float64("total", stored.TotalAmount),
		)
	} else {
		s.logger.Info("duplicate invoice submission", zap.String("booking_id", inv.BookingID))
	}
	return stored, created, nil
}

// InvoicesForUser returns history for given user.
func (s *InvoiceService) InvoicesForUser(ctx context.Context, userID string, limit int) ([]models.Invoice, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func validateInvoice(inv models.Invoice) error {
	if strings.TrimSpace(inv.BookingID) == "" || strings.TrimSpace(inv.UserID) == "" {
		return fmt.Errorf("%w: booking and user are required", ErrInvalidInvoice)
	}
	for name, v := range map[string]float64{
		"energy":     inv.TotalEnergyKWh,
		"unit price": inv.UnitPrice,
		"subtotal":   inv.Subtotal,
		"tax":        inv.TaxAmount,
		"total":      inv.TotalAmount,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative %s", ErrInvalidInvoice, name)
		}
	}
	if math.Abs(inv.Subtotal+inv.TaxAmount-inv.TotalAmount) > 0.011 {
		return fmt.Errorf("%w: total %.2f does not match subtotal %.2f plus tax %.2f",
			ErrInvalidInvoice, inv.TotalAmount, inv.Subtotal, inv.TaxAmount)
	}
	return nil
}
