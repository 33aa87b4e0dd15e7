package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/metrics"
	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

// SettlementConfig carries invoice defaults.
type SettlementConfig struct {
	TaxRate  float64
	Currency string
}

// SettlementTrigger turns a completed booking into exactly one invoice and
// hands it to the payment service.
type SettlementTrigger struct {
	store    repository.Store
	pricing  PriceLookup
	invoices InvoiceSubmitter
	cfg      SettlementConfig
	now      Clock
	logger   *zap.Logger
}

// NewSettlementTrigger builds trigger.
func NewSettlementTrigger(store repository.Store, pricing PriceLookup, invoices InvoiceSubmitter, cfg SettlementConfig, now Clock, logger *zap.Logger) *SettlementTrigger {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if now == nil {
		now = SystemClock
	}
	return &SettlementTrigger{
		store:    store,
		pricing:  pricing,
		invoices: invoices,
		cfg:      cfg,
		now:      now,
		logger:   logger,
	}
}

// Settle issues the invoice of a completed booking. When one already exists
// it is returned together with ErrSettlementAlreadyIssued and nothing is
// billed again.
func (s *SettlementTrigger) Settle(ctx context.Context, b *models.Booking) (*models.Invoice, error) {
	if b.Status != models.BookingCompleted || b.ActualStartTime == nil || b.ActualEndTime == nil {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.BookingID, b.Status)
	}

	existing, err := s.store.InvoiceByBooking(ctx, b.BookingID)
	if err == nil {
		return s.duplicate(ctx, existing)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	samples, err := s.store.Samples(ctx, b.BookingID)
	if err != nil {
		return nil, fmt.Errorf("settlement: load samples: %w", err)
	}
	energy := deliveredEnergy(samples)

	unitPrice, err := s.pricing.UnitPrice(ctx, PriceQuery{
		StationID:   b.StationID,
		VehicleType: b.VehicleType,
		At:          *b.ActualStartTime,
	})
	if err != nil {
		metrics.ObserveInvoice("pricing_failed", 0)
		return nil, fmt.Errorf("settlement: pricing lookup: %w", err)
	}

	subtotal := roundCents(energy * unitPrice)
	tax := roundCents(subtotal * s.cfg.TaxRate)
	inv := &models.Invoice{
		InvoiceID:       idGenerator(),
		BookingID:       b.BookingID,
		UserID:          b.UserID,
		StationID:       b.StationID,
		TotalEnergyKWh:  energy,
		DurationMinutes: durationMinutes(*b.ActualStartTime, *b.ActualEndTime),
		UnitPrice:       unitPrice,
		Subtotal:        subtotal,
		TaxRate:         s.cfg.TaxRate,
		TaxAmount:       tax,
		TotalAmount:     roundCents(subtotal + tax),
		Currency:        s.cfg.Currency,
		PaymentStatus:   models.PaymentUnsubmitted,
		CreatedAt:       s.now(),
	}

	var raced *models.Invoice
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		inserted, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if !inserted {
			raced, err = tx.InvoiceByBooking(ctx, b.BookingID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settlement: store invoice: %w", err)
	}
	if raced != nil {
		return s.duplicate(ctx, raced)
	}

	metrics.ObserveInvoice("issued", energy)
	s.logger.Info("invoice issued",
		zap.String("booking_id", b.BookingID),
		zap.String("invoice_id", inv.InvoiceID),
		zap.Float64("energy_kwh", energy),
		zap.Float64("total", inv.TotalAmount),
	)
	s.submit(ctx, inv)
	return inv, nil
}

func (s *SettlementTrigger) duplicate(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	metrics.ObserveInvoice("duplicate", inv.TotalEnergyKWh)
	if inv.PaymentStatus == models.PaymentUnsubmitted {
		s.submit(ctx, inv)
	}
	return inv, fmt.Errorf("%w: invoice %s", ErrSettlementAlreadyIssued, inv.InvoiceID)
}

// SettlePending retries settlement of completed bookings that stopped
// without an invoice or whose invoice was never submitted. It returns how
// many of them left the backlog.
func (s *SettlementTrigger) SettlePending(ctx context.Context) (int, error) {
	ids, err := s.store.UnsettledCompleted(ctx, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("settlement: list unsettled bookings: %w", err)
	}

	settled := 0
	for _, id := range ids {
		b, err := s.store.Booking(ctx, id)
		if err != nil {
			s.logger.Warn("settlement retry failed", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		inv, err := s.Settle(ctx, b)
		if err != nil && !errors.Is(err, ErrSettlementAlreadyIssued) {
			s.logger.Warn("settlement retry failed", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		if inv != nil && inv.PaymentStatus != models.PaymentUnsubmitted {
			settled++
		}
	}

	if len(ids) > 0 {
		s.logger.Info("settlement retry finished", zap.Int("settled", settled), zap.Int("candidates", len(ids)))
	}
	return settled, nil
}

// submit hands the invoice to the payment service. Failures leave it
// unsubmitted for SettlePending to pick up.
func (s *SettlementTrigger) submit(ctx context.Context, inv *models.Invoice) {
	if s.invoices == nil {
		return
	}
	externalID, err := s.invoices.SubmitInvoice(ctx, *inv)
	if err != nil {
		metrics.ObserveInvoice("submit_failed", inv.TotalEnergyKWh)
		s.logger.Warn("failed to submit invoice", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
		return
	}

	inv.PaymentStatus = models.PaymentPending
	inv.ExternalInvoiceID = &externalID
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		s.logger.Warn("failed to record invoice submission", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
	}
}
