package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/metrics"
	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

const (
	defaultSessionDuration = time.Hour
	defaultTargetSOC       = 80
	sweepBatchSize         = 100
	noShowReason           = "no-show: grace period elapsed"
)

// AllocatorConfig holds booking policy.
type AllocatorConfig struct {
	NoShowGrace     time.Duration
	DefaultDuration time.Duration
}

// CreateBookingInput is a booking request.
type CreateBookingInput struct {
	VehicleID          string
	VehicleType        string
	SlotID             string
	SchedulingType     models.SchedulingType
	ScheduledStartTime time.Time
	EstimatedDuration  time.Duration
	EstimatedArrival   *time.Time
	TargetSOC          int
}

// ReservationAllocator turns booking requests into exclusive slot claims and
// expires the ones nobody showed up for.
type ReservationAllocator struct {
	store    repository.Store
	registry *SlotRegistry
	machine  *SessionMachine
	cfg      AllocatorConfig
	now      Clock
	logger   *zap.Logger
}

// NewReservationAllocator builds allocator.
func NewReservationAllocator(store repository.Store, registry *SlotRegistry, machine *SessionMachine, cfg AllocatorConfig, now Clock, logger *zap.Logger) *ReservationAllocator {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaultSessionDuration
	}
	if now == nil {
		now = SystemClock
	}
	return &ReservationAllocator{
		store:    store,
		registry: registry,
		machine:  machine,
		cfg:      cfg,
		now:      now,
		logger:   logger,
	}
}

// CreateBooking reserves the slot and inserts the booking atomically.
func (a *ReservationAllocator) CreateBooking(ctx context.Context, actor Actor, in CreateBookingInput) (*models.Booking, error) {
	booking, err := a.createBooking(ctx, actor, in)
	if err != nil {
		return nil, a.machine.reject("create_booking", err)
	}

	metrics.ObserveTransition("", string(booking.Status))
	a.logger.Info("booking created",
		zap.String("booking_id", booking.BookingID),
		zap.String("slot_id", booking.SlotID),
		zap.String("scheduling_type", string(booking.SchedulingType)),
	)
	a.machine.notifier.Notify(ctx, models.BookingEvent{
		Type:      "booking.created",
		BookingID: booking.BookingID,
		UserID:    booking.UserID,
		SlotID:    booking.SlotID,
		StationID: booking.StationID,
		To:        booking.Status,
		At:        booking.CreatedAt,
	})
	return booking, nil
}

func (a *ReservationAllocator) createBooking(ctx context.Context, actor Actor, in CreateBookingInput) (*models.Booking, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, fmt.Errorf("%w: missing user", ErrForbidden)
	}
	now := a.now()
	booking, err := a.draft(actor, in, now)
	if err != nil {
		return nil, err
	}

	err = a.store.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.OpenBookingForVehicle(ctx, booking.VehicleID)
		if err == nil {
			return fmt.Errorf("%w: vehicle %s", ErrVehicleAlreadyBooked, booking.VehicleID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		slot, err := a.registry.TryReserve(ctx, tx, booking.SlotID, booking.BookingID)
		if err != nil {
			return err
		}
		booking.StationID = slot.StationID
		// An available slot holds no open booking, so the reservation above
		// already rules out overlapping windows on it.
		return tx.InsertBooking(ctx, booking)
	})
	switch {
	case errors.Is(err, repository.ErrSlotTaken):
		return nil, fmt.Errorf("%w: slot %s", ErrSlotUnavailable, booking.SlotID)
	case errors.Is(err, repository.ErrVehicleTaken):
		return nil, fmt.Errorf("%w: vehicle %s", ErrVehicleAlreadyBooked, booking.VehicleID)
	case err != nil:
		return nil, err
	}
	return booking, nil
}

// draft validates the request and builds the booking row.
func (a *ReservationAllocator) draft(actor Actor, in CreateBookingInput, now time.Time) (*models.Booking, error) {
	if !in.SchedulingType.Valid() {
		return nil, fmt.Errorf("%w: unknown scheduling type %q", ErrInvalidSchedule, in.SchedulingType)
	}
	if strings.TrimSpace(in.VehicleID) == "" || strings.TrimSpace(in.SlotID) == "" {
		return nil, fmt.Errorf("%w: vehicle and slot are required", ErrInvalidSchedule)
	}
	if in.TargetSOC == 0 {
		in.TargetSOC = defaultTargetSOC
	}
	if in.TargetSOC < 1 || in.TargetSOC > 100 {
		return nil, fmt.Errorf("%w: target soc %d outside 1..100", ErrInvalidSchedule, in.TargetSOC)
	}
	if in.EstimatedDuration < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidSchedule)
	}
	if in.EstimatedDuration == 0 {
		in.EstimatedDuration = a.cfg.DefaultDuration
	}

	b := &models.Booking{
		BookingID:         idGenerator(),
		UserID:            actor.UserID,
		VehicleID:         in.VehicleID,
		VehicleType:       in.VehicleType,
		SlotID:            in.SlotID,
		SchedulingType:    in.SchedulingType,
		EstimatedArrival:  in.EstimatedArrival,
		TargetSOC:         in.TargetSOC,
		EstimatedDuration: int(in.EstimatedDuration.Round(time.Minute) / time.Minute),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if b.EstimatedDuration < 1 {
		b.EstimatedDuration = 1
	}

	switch in.SchedulingType {
	case models.SchedulingScheduled:
		if in.ScheduledStartTime.IsZero() {
			return nil, fmt.Errorf("%w: scheduled start time required", ErrInvalidSchedule)
		}
		b.ScheduledStartTime = in.ScheduledStartTime.UTC()
		if _, end := b.Window(); !end.After(now) {
			return nil, fmt.Errorf("%w: window ends in the past", ErrInvalidSchedule)
		}
		b.Status = models.BookingScheduled
	case models.SchedulingQRImmediate:
		b.ScheduledStartTime = now
		b.Status = models.BookingConfirmed
	}
	return b, nil
}

// CancelBooking cancels a booking that has not started and frees its slot.
func (a *ReservationAllocator) CancelBooking(ctx context.Context, actor Actor, bookingID, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by user"
	}
	ch, err := a.machine.transition(ctx, bookingID, func(tx repository.Tx, b *models.Booking) (*change, error) {
		if err := actor.canAccess(b); err != nil {
			return nil, err
		}
		return a.machine.apply(ctx, tx, b, EventCancel, reason)
	})
	if err != nil {
		return nil, a.machine.reject("cancel", err)
	}
	a.machine.after(ctx, ch)
	return &ch.booking, nil
}

// SweepNoShows expires unstarted bookings whose grace period has elapsed.
// Bookings that started concurrently lose nothing: their transition fails
// under the row lock and they are skipped.
func (a *ReservationAllocator) SweepNoShows(ctx context.Context) (int, error) {
	now := a.now()
	ids, err := a.store.DueNoShows(ctx, now.Add(-a.cfg.NoShowGrace), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("sweep: list due bookings: %w", err)
	}

	swept := 0
	for _, id := range ids {
		ch, err := a.machine.transition(ctx, id, func(tx repository.Tx, b *models.Booking) (*change, error) {
			if a.now().Before(b.ScheduledStartTime.Add(a.cfg.NoShowGrace)) {
				return nil, nil
			}
			return a.machine.apply(ctx, tx, b, EventNoShow, noShowReason)
		})
		if errors.Is(err, ErrInvalidTransition) {
			a.logger.Debug("no-show sweep skipped booking", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		if err != nil {
			a.logger.Warn("no-show sweep failed", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		if ch == nil {
			continue
		}
		a.machine.after(ctx, ch)
		swept++
	}

	if swept > 0 {
		metrics.ObserveNoShows(swept)
		a.logger.Info("no-show sweep finished", zap.Int("expired", swept), zap.Int("candidates", len(ids)))
	}
	return swept, nil
}
