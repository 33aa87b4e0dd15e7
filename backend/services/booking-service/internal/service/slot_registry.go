package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

// SlotRegistry owns slot status. Every change is a compare-and-swap on the
// locked slot row: available -> reserved -> occupied -> available, or
// reserved -> available on release.
type SlotRegistry struct {
	store  repository.Store
	now    Clock
	logger *zap.Logger
}

// NewSlotRegistry builds registry.
func NewSlotRegistry(store repository.Store, now Clock, logger *zap.Logger) *SlotRegistry {
	if now == nil {
		now = SystemClock
	}
	return &SlotRegistry{store: store, now: now, logger: logger}
}

// Get returns the current slot state.
func (r *SlotRegistry) Get(ctx context.Context, slotID string) (*models.Slot, error) {
	slot, err := r.store.Slot(ctx, slotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, slotID)
	}
	return slot, err
}

// TryReserve claims an available slot for bookingID inside tx.
func (r *SlotRegistry) TryReserve(ctx context.Context, tx repository.Tx, slotID, bookingID string) (*models.Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: slot %s does not exist", ErrSlotUnavailable, slotID)
	}
	if err != nil {
		return nil, err
	}
	if slot.Status != models.SlotAvailable {
		return nil, fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slotID, slot.Status)
	}
	return r.swap(ctx, tx, slot, models.SlotReserved, &bookingID)
}

// EnsureReserved checks that the slot is still reserved to bookingID.
func (r *SlotRegistry) EnsureReserved(ctx context.Context, tx repository.Tx, slotID, bookingID string) error {
	slot, err := r.lock(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if slot.Status != models.SlotReserved || !slot.HeldBy(bookingID) {
		return fmt.Errorf("%w: slot %s is not reserved to booking %s", ErrInvalidTransition, slotID, bookingID)
	}
	return nil
}

// MarkOccupied moves a slot reserved to bookingID to occupied.
func (r *SlotRegistry) MarkOccupied(ctx context.Context, tx repository.Tx, slotID, bookingID string) (*models.Slot, error) {
	slot, err := r.lock(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != models.SlotReserved || !slot.HeldBy(bookingID) {
		return nil, fmt.Errorf("%w: slot %s is %s, not reserved to booking %s", ErrInvalidTransition, slotID, slot.Status, bookingID)
	}
	return r.swap(ctx, tx, slot, models.SlotOccupied, &bookingID)
}

// Release frees a slot held by bookingID.
func (r *SlotRegistry) Release(ctx context.Context, tx repository.Tx, slotID, bookingID string) (*models.Slot, error) {
	slot, err := r.lock(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	held := slot.Status == models.SlotReserved || slot.Status == models.SlotOccupied
	if !held || !slot.HeldBy(bookingID) {
		return nil, fmt.Errorf("%w: slot %s is not held by booking %s", ErrInvalidTransition, slotID, bookingID)
	}
	return r.swap(ctx, tx, slot, models.SlotAvailable, nil)
}

// SetMaintenance toggles available <-> maintenance. Held slots are refused.
func (r *SlotRegistry) SetMaintenance(ctx context.Context, slotID string, enabled bool) (*models.Slot, error) {
	var updated *models.Slot
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := r.lock(ctx, tx, slotID)
		if err != nil {
			return err
		}
		from, to := models.SlotAvailable, models.SlotMaintenance
		if !enabled {
			from, to = models.SlotMaintenance, models.SlotAvailable
		}
		if slot.Status == to {
			updated = slot
			return nil
		}
		if slot.Status != from {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slotID, slot.Status)
		}
		updated, err = r.swap(ctx, tx, slot, to, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("slot maintenance updated", zap.String("slot_id", slotID), zap.String("status", string(updated.Status)))
	return updated, nil
}

func (r *SlotRegistry) lock(ctx context.Context, tx repository.Tx, slotID string) (*models.Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, slotID)
	}
	return slot, err
}

func (r *SlotRegistry) swap(ctx context.Context, tx repository.Tx, slot *models.Slot, to models.SlotStatus, bookingID *string) (*models.Slot, error) {
	slot.Status = to
	slot.CurrentBookingID = bookingID
	slot.UpdatedAt = r.now()
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}
