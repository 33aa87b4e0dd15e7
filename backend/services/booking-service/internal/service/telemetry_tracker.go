package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/metrics"
	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

// maxClockSkew bounds how far charger timestamps may lead the server clock.
const maxClockSkew = 2 * time.Minute

// SampleInput is one reading reported for an active session.
type SampleInput struct {
	Timestamp              time.Time
	CurrentSOC             float64
	Voltage                *float64
	Current                *float64
	PowerKW                *float64
	EnergyDeliveredKWh     *float64
	TemperatureC           *float64
	EstimatedTimeRemaining *int
}

// TelemetryTracker accepts SOC samples for in-progress bookings and serves
// the latest progress.
type TelemetryTracker struct {
	store     repository.Store
	cache     ProgressCache
	publisher ProgressPublisher
	now       Clock
	logger    *zap.Logger
}

// NewTelemetryTracker builds tracker. cache and publisher may be nil.
func NewTelemetryTracker(store repository.Store, cache ProgressCache, publisher ProgressPublisher, now Clock, logger *zap.Logger) *TelemetryTracker {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if now == nil {
		now = SystemClock
	}
	return &TelemetryTracker{
		store:     store,
		cache:     cache,
		publisher: publisher,
		now:       now,
		logger:    logger,
	}
}

// RecordSample validates and appends a sample.
func (t *TelemetryTracker) RecordSample(ctx context.Context, actor Actor, bookingID string, in SampleInput) (*models.SocSample, error) {
	sample, err := t.recordSample(ctx, actor, bookingID, in)
	if err != nil {
		metrics.ObserveRejection("record_sample", Code(err))
		return nil, err
	}
	metrics.ObserveSample()

	if t.cache != nil {
		if err := t.cache.Save(ctx, *sample); err != nil {
			t.logger.Warn("failed to cache progress", zap.String("booking_id", bookingID), zap.Error(err))
		}
	}
	t.publisher.Publish(bookingID, *sample)
	return sample, nil
}

func (t *TelemetryTracker) recordSample(ctx context.Context, actor Actor, bookingID string, in SampleInput) (*models.SocSample, error) {
	now := t.now()
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}
	if err := validateSample(in, now); err != nil {
		return nil, err
	}

	var sample models.SocSample
	err := t.store.InTx(ctx, func(tx repository.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if err := actor.canAccess(b); err != nil {
			return err
		}
		if b.Status != models.BookingInProgress {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidTelemetry, bookingID, b.Status)
		}
		if b.ActualStartTime != nil && in.Timestamp.Before(b.ActualStartTime.Add(-maxClockSkew)) {
			return fmt.Errorf("%w: sample precedes session start", ErrInvalidTelemetry)
		}

		prev, err := tx.LatestSample(ctx, bookingID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if prev != nil && in.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("%w: sample at %s is older than %s", ErrInvalidTelemetry,
				in.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339))
		}
		if in.EnergyDeliveredKWh != nil {
			last, err := tx.LatestEnergy(ctx, bookingID)
			if err != nil {
				return err
			}
			if last != nil && *in.EnergyDeliveredKWh < *last {
				return fmt.Errorf("%w: energy decreased from %.3f to %.3f kWh", ErrInvalidTelemetry, *last, *in.EnergyDeliveredKWh)
			}
		}

		sample = models.SocSample{
			ID:                     idGenerator(),
			BookingID:              bookingID,
			Timestamp:              in.Timestamp.UTC(),
			CurrentSOC:             in.CurrentSOC,
			Voltage:                in.Voltage,
			Current:                in.Current,
			PowerKW:                in.PowerKW,
			EnergyDeliveredKWh:     in.EnergyDeliveredKWh,
			TemperatureC:           in.TemperatureC,
			EstimatedTimeRemaining: in.EstimatedTimeRemaining,
		}
		if sample.EstimatedTimeRemaining == nil {
			sample.EstimatedTimeRemaining = estimateRemaining(prev, sample, b.TargetSOC)
		}
		return tx.InsertSample(ctx, &sample)
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func validateSample(in SampleInput, now time.Time) error {
	if math.IsNaN(in.CurrentSOC) || in.CurrentSOC < 0 || in.CurrentSOC > 100 {
		return fmt.Errorf("%w: soc %v outside 0..100", ErrInvalidTelemetry, in.CurrentSOC)
	}
	if in.EnergyDeliveredKWh != nil && (*in.EnergyDeliveredKWh < 0 || math.IsNaN(*in.EnergyDeliveredKWh)) {
		return fmt.Errorf("%w: negative energy", ErrInvalidTelemetry)
	}
	if in.PowerKW != nil && (*in.PowerKW < 0 || math.IsNaN(*in.PowerKW)) {
		return fmt.Errorf("%w: negative power", ErrInvalidTelemetry)
	}
	if in.Timestamp.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("%w: sample timestamp in the future", ErrInvalidTelemetry)
	}
	return nil
}

// LatestProgress returns the newest sample and elapsed charging time.
func (t *TelemetryTracker) LatestProgress(ctx context.Context, actor Actor, bookingID string) (*models.Progress, error) {
	b, err := t.store.Booking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	if err != nil {
		return nil, err
	}
	if err := actor.canAccess(b); err != nil {
		return nil, err
	}

	progress := &models.Progress{
		BookingID: b.BookingID,
		Status:    b.Status,
		TargetSOC: b.TargetSOC,
	}
	if b.ActualStartTime != nil {
		end := t.now()
		if b.ActualEndTime != nil {
			end = *b.ActualEndTime
		}
		progress.ElapsedSeconds = int64(end.Sub(*b.ActualStartTime) / time.Second)
	}

	if t.cache != nil && b.Status == models.BookingInProgress {
		sample, err := t.cache.Latest(ctx, bookingID)
		if err != nil {
			t.logger.Debug("progress cache miss", zap.String("booking_id", bookingID), zap.Error(err))
		}
		if sample != nil {
			progress.Latest = sample
			return progress, nil
		}
	}

	sample, err := t.store.LatestSample(ctx, bookingID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	progress.Latest = sample
	return progress, nil
}

// open is called once a session has started.
func (t *TelemetryTracker) open(ctx context.Context, b *models.Booking) {
	if t.cache != nil {
		if err := t.cache.Delete(ctx, b.BookingID); err != nil {
			t.logger.Warn("failed to reset progress cache", zap.String("booking_id", b.BookingID), zap.Error(err))
		}
	}
	t.logger.Info("telemetry opened", zap.String("booking_id", b.BookingID), zap.String("slot_id", b.SlotID))
}

// close is called once a session has stopped. Later samples are rejected by
// the status check.
func (t *TelemetryTracker) close(ctx context.Context, b *models.Booking) {
	if t.cache != nil {
		if err := t.cache.Delete(ctx, b.BookingID); err != nil {
			t.logger.Warn("failed to drop progress cache", zap.String("booking_id", b.BookingID), zap.Error(err))
		}
	}
	t.publisher.CloseStream(b.BookingID)
	t.logger.Info("telemetry closed", zap.String("booking_id", b.BookingID))
}
