package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

// ScanResult is the outcome of an accepted credential scan.
type ScanResult struct {
	Booking models.Booking `json:"booking"`
	Event   Event          `json:"event"`
}

// CredentialGate validates scanned QR tokens and advances the bound booking
// one step: scheduled -> confirmed, confirmed -> in_progress.
type CredentialGate struct {
	store   repository.Store
	machine *SessionMachine
	now     Clock
	logger  *zap.Logger
}

// NewCredentialGate builds gate.
func NewCredentialGate(store repository.Store, machine *SessionMachine, now Clock, logger *zap.Logger) *CredentialGate {
	if now == nil {
		now = SystemClock
	}
	return &CredentialGate{store: store, machine: machine, now: now, logger: logger}
}

// TokenDigest is the at-rest form of a QR payload.
func TokenDigest(qrData string) []byte {
	sum := sha3.Sum256([]byte(qrData))
	return sum[:]
}

// ValidateAndConsume checks the token presented at slotID and, on success,
// records the scan and advances the booking holding the slot. Only the
// booking owner or an operator may scan it forward.
func (g *CredentialGate) ValidateAndConsume(ctx context.Context, actor Actor, qrData, slotID string) (*ScanResult, error) {
	res, ch, err := g.consume(ctx, actor, strings.TrimSpace(qrData), strings.TrimSpace(slotID))
	if err != nil {
		g.logger.Info("credential rejected", zap.String("slot_id", slotID), zap.String("code", Code(err)))
		return nil, g.machine.reject("scan", err)
	}
	g.machine.after(ctx, ch)
	return res, nil
}

func (g *CredentialGate) consume(ctx context.Context, actor Actor, qrData, slotID string) (*ScanResult, *change, error) {
	if qrData == "" {
		return nil, nil, fmt.Errorf("%w: empty token", ErrNoMatchingBooking)
	}
	// The slot row tells us which booking to lock; it is re-checked under the
	// booking lock by the transition itself.
	slot, err := g.store.Slot(ctx, slotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: unknown slot %s", ErrSlotMismatch, slotID)
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		res *ScanResult
		ch  *change
	)
	err = g.store.InTx(ctx, func(tx repository.Tx) error {
		now := g.now()
		qr, err := tx.LockQRByDigest(ctx, TokenDigest(qrData))
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown token", ErrNoMatchingBooking)
		}
		if err != nil {
			return err
		}
		if !qr.IsActive {
			return fmt.Errorf("%w: token %s", ErrTokenInactive, qr.QRID)
		}
		if !now.Before(qr.ExpiresAt) {
			return fmt.Errorf("%w: token %s expired at %s", ErrTokenExpired, qr.QRID, qr.ExpiresAt)
		}
		if qr.SlotID != slotID {
			return fmt.Errorf("%w: token bound to slot %s, presented at %s", ErrSlotMismatch, qr.SlotID, slotID)
		}

		if slot.CurrentBookingID == nil {
			return fmt.Errorf("%w: slot %s holds no booking", ErrNoMatchingBooking, slotID)
		}
		b, err := lockBooking(ctx, tx, *slot.CurrentBookingID)
		if err != nil {
			return err
		}
		if b.SlotID != slotID {
			return fmt.Errorf("%w: booking %s is for slot %s", ErrNoMatchingBooking, b.BookingID, b.SlotID)
		}
		if actor.canAccess(b) != nil {
			return fmt.Errorf("%w: booking %s belongs to another user", ErrNoMatchingBooking, b.BookingID)
		}

		var event Event
		switch {
		case b.Status == models.BookingConfirmed:
			event = EventStart
		case b.Status == models.BookingScheduled && g.machine.checkInOpen(b) && !g.machine.checkInClosed(b):
			event = EventConfirm
		default:
			return fmt.Errorf("%w: booking %s is %s", ErrNoMatchingBooking, b.BookingID, b.Status)
		}

		qr.ScanCount++
		qr.LastScannedAt = &now
		if err := tx.UpdateQR(ctx, qr); err != nil {
			return err
		}
		b.QRCodeID = &qr.QRID

		ch, err = g.machine.apply(ctx, tx, b, event, "")
		if err != nil {
			return err
		}
		res = &ScanResult{Booking: ch.booking, Event: event}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, ch, nil
}
