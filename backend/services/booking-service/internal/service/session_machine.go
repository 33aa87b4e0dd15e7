package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/metrics"
	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

// SessionMachine applies the booking transition table. Each transition runs
// under the booking row lock together with its slot side effect; telemetry,
// notifications and settlement follow the commit.
type SessionMachine struct {
	store        repository.Store
	registry     *SlotRegistry
	telemetry    *TelemetryTracker
	settlement   *SettlementTrigger
	notifier     Notifier
	now          Clock
	earlyCheckIn time.Duration
	noShowGrace  time.Duration
	logger       *zap.Logger
}

// MachineConfig holds lifecycle timing.
type MachineConfig struct {
	// EarlyCheckIn is how long before the scheduled start a booking may be confirmed.
	EarlyCheckIn time.Duration
	// NoShowGrace closes check-in; past it the booking is left to the sweeper.
	NoShowGrace time.Duration
}

// NewSessionMachine builds machine.
func NewSessionMachine(
	store repository.Store,
	registry *SlotRegistry,
	telemetry *TelemetryTracker,
	settlement *SettlementTrigger,
	notifier Notifier,
	cfg MachineConfig,
	now Clock,
	logger *zap.Logger,
) *SessionMachine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if now == nil {
		now = SystemClock
	}
	return &SessionMachine{
		store:        store,
		registry:     registry,
		telemetry:    telemetry,
		settlement:   settlement,
		notifier:     notifier,
		now:          now,
		earlyCheckIn: cfg.EarlyCheckIn,
		noShowGrace:  cfg.NoShowGrace,
		logger:       logger,
	}
}

// StopResult is the outcome of a stop request.
type StopResult struct {
	Booking   models.Booking  `json:"booking"`
	Invoice   *models.Invoice `json:"invoice,omitempty"`
	Duplicate bool            `json:"duplicate"`
	// SettlementPending is set when the session stopped but no invoice could
	// be issued yet. The background settlement retry or a repeated stop
	// issues it later.
	SettlementPending bool `json:"settlement_pending"`
}

type change struct {
	booking models.Booking
	from    models.BookingStatus
	event   Event
	reason  string
}

// Get returns a booking visible to actor.
func (m *SessionMachine) Get(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	b, err := m.store.Booking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	if err != nil {
		return nil, err
	}
	if err := actor.canAccess(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListForUser returns the latest bookings of the actor.
func (m *SessionMachine) ListForUser(ctx context.Context, actor Actor, limit int) ([]models.Booking, error) {
	return m.store.BookingsByUser(ctx, actor.UserID, limit)
}

// Confirm is the operator equivalent of a first credential scan.
func (m *SessionMachine) Confirm(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	if !actor.Privileged() {
		return nil, m.reject("confirm", fmt.Errorf("%w: confirm requires operator role", ErrForbidden))
	}
	ch, err := m.transition(ctx, bookingID, func(tx repository.Tx, b *models.Booking) (*change, error) {
		if b.Status == models.BookingScheduled && !m.checkInOpen(b) {
			return nil, fmt.Errorf("%w: check-in opens at %s", ErrInvalidTransition,
				b.ScheduledStartTime.Add(-m.earlyCheckIn).Format(time.RFC3339))
		}
		if b.Status == models.BookingScheduled && m.checkInClosed(b) {
			return nil, fmt.Errorf("%w: check-in closed at %s", ErrInvalidTransition,
				b.ScheduledStartTime.Add(m.noShowGrace).Format(time.RFC3339))
		}
		return m.apply(ctx, tx, b, EventConfirm, "")
	})
	if err != nil {
		return nil, m.reject("confirm", err)
	}
	m.after(ctx, ch)
	return &ch.booking, nil
}

// Start begins charging a confirmed booking. Bookings made by QR scan start
// only through the credential gate.
func (m *SessionMachine) Start(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	ch, err := m.transition(ctx, bookingID, func(tx repository.Tx, b *models.Booking) (*change, error) {
		if err := actor.canAccess(b); err != nil {
			return nil, err
		}
		if b.SchedulingType == models.SchedulingQRImmediate {
			return nil, fmt.Errorf("%w: qr_immediate bookings start on credential scan", ErrInvalidTransition)
		}
		return m.apply(ctx, tx, b, EventStart, "")
	})
	if err != nil {
		return nil, m.reject("start", err)
	}
	m.after(ctx, ch)
	return &ch.booking, nil
}

// Stop ends an in-progress session, frees the slot and settles. Repeating
// the stop of a completed booking never bills twice.
func (m *SessionMachine) Stop(ctx context.Context, actor Actor, bookingID string) (*StopResult, error) {
	var (
		ch        *change
		completed *models.Booking
	)
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if err := actor.canAccess(b); err != nil {
			return err
		}
		if b.Status == models.BookingCompleted {
			completed = b
			return nil
		}
		ch, err = m.apply(ctx, tx, b, EventStop, "")
		return err
	})
	if err != nil {
		return nil, m.reject("stop", err)
	}

	var b models.Booking
	if ch != nil {
		m.after(ctx, ch)
		b = ch.booking
	} else {
		b = *completed
	}

	res := &StopResult{Booking: b}
	inv, err := m.settlement.Settle(ctx, &b)
	switch {
	case errors.Is(err, ErrSettlementAlreadyIssued):
		res.Invoice = inv
		res.Duplicate = true
		return res, m.reject("stop", err)
	case err != nil:
		m.logger.Error("settlement failed", zap.String("booking_id", bookingID), zap.Error(err))
		res.SettlementPending = true
		return res, nil
	}
	res.Invoice = inv
	return res, nil
}

// transition runs fn on the locked booking inside one transaction.
func (m *SessionMachine) transition(ctx context.Context, bookingID string, fn func(tx repository.Tx, b *models.Booking) (*change, error)) (*change, error) {
	var ch *change
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		ch, err = fn(tx, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// apply moves b along event, enforcing the guard of that row and updating
// the slot in the same transaction.
func (m *SessionMachine) apply(ctx context.Context, tx repository.Tx, b *models.Booking, event Event, reason string) (*change, error) {
	to, err := NextStatus(b.Status, event)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.BookingID, err)
	}
	now := m.now()

	switch event {
	case EventConfirm:
		if err := m.registry.EnsureReserved(ctx, tx, b.SlotID, b.BookingID); err != nil {
			return nil, err
		}
	case EventStart:
		if b.ActualStartTime != nil {
			return nil, fmt.Errorf("%w: booking %s already started", ErrInvalidTransition, b.BookingID)
		}
		if _, err := m.registry.MarkOccupied(ctx, tx, b.SlotID, b.BookingID); err != nil {
			return nil, err
		}
		b.ActualStartTime = &now
	case EventCancel, EventNoShow:
		if b.ActualStartTime != nil {
			return nil, fmt.Errorf("%w: booking %s already started", ErrInvalidTransition, b.BookingID)
		}
		if _, err := m.registry.Release(ctx, tx, b.SlotID, b.BookingID); err != nil {
			return nil, err
		}
		if reason != "" {
			b.CancellationReason = &reason
		}
	case EventStop:
		if b.ActualEndTime != nil {
			return nil, fmt.Errorf("%w: booking %s already stopped", ErrInvalidTransition, b.BookingID)
		}
		if _, err := m.registry.Release(ctx, tx, b.SlotID, b.BookingID); err != nil {
			return nil, err
		}
		b.ActualEndTime = &now
	}

	from := b.Status
	b.Status = to
	b.UpdatedAt = now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	return &change{booking: *b, from: from, event: event, reason: reason}, nil
}

// after runs the post-commit effects of committed changes.
func (m *SessionMachine) after(ctx context.Context, changes ...*change) {
	for _, ch := range changes {
		if ch == nil {
			continue
		}
		b := ch.booking
		metrics.ObserveTransition(string(ch.from), string(b.Status))
		m.logger.Info("booking transition",
			zap.String("booking_id", b.BookingID),
			zap.String("from", string(ch.from)),
			zap.String("to", string(b.Status)),
			zap.String("event", string(ch.event)),
		)

		switch ch.event {
		case EventStart:
			m.telemetry.open(ctx, &b)
		case EventStop:
			m.telemetry.close(ctx, &b)
		}

		m.notifier.Notify(ctx, models.BookingEvent{
			Type:      "booking." + string(b.Status),
			BookingID: b.BookingID,
			UserID:    b.UserID,
			SlotID:    b.SlotID,
			StationID: b.StationID,
			From:      ch.from,
			To:        b.Status,
			Reason:    ch.reason,
			At:        b.UpdatedAt,
		})
	}
}

func (m *SessionMachine) checkInOpen(b *models.Booking) bool {
	return !m.now().Before(b.ScheduledStartTime.Add(-m.earlyCheckIn))
}

// checkInClosed reports whether the no-show grace of b has elapsed. A zero
// grace leaves check-in open.
func (m *SessionMachine) checkInClosed(b *models.Booking) bool {
	return m.noShowGrace > 0 && !m.now().Before(b.ScheduledStartTime.Add(m.noShowGrace))
}

func (m *SessionMachine) reject(operation string, err error) error {
	metrics.ObserveRejection(operation, Code(err))
	return err
}

func lockBooking(ctx context.Context, tx repository.Tx, bookingID string) (*models.Booking, error) {
	b, err := tx.LockBooking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return b, err
}
