package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

func TestSlotRegistryCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := f.registry.TryReserve(ctx, tx, "S101", "b-1"); err != nil {
			return err
		}
		if _, err := f.registry.TryReserve(ctx, tx, "S101", "b-2"); !errors.Is(err, ErrSlotUnavailable) {
			t.Errorf("second reserve: expected slot unavailable, got %v", err)
		}
		if _, err := f.registry.MarkOccupied(ctx, tx, "S101", "b-2"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("occupy by non-holder: expected invalid transition, got %v", err)
		}
		if _, err := f.registry.Release(ctx, tx, "S101", "b-2"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("release by non-holder: expected invalid transition, got %v", err)
		}
		if _, err := f.registry.MarkOccupied(ctx, tx, "S101", "b-1"); err != nil {
			return err
		}
		slot, err := f.registry.Release(ctx, tx, "S101", "b-1")
		if err != nil {
			return err
		}
		if slot.Status != models.SlotAvailable || slot.CurrentBookingID != nil {
			t.Errorf("expected free slot, got %+v", slot)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestSetMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot, err := f.registry.SetMaintenance(ctx, "S102", true)
	if err != nil || slot.Status != models.SlotMaintenance {
		t.Fatalf("enable maintenance: %+v, %v", slot, err)
	}
	slot, err = f.registry.SetMaintenance(ctx, "S102", false)
	if err != nil || slot.Status != models.SlotAvailable {
		t.Fatalf("disable maintenance: %+v, %v", slot, err)
	}

	f.book(t, driver, "vehicle-1", "S101", models.SchedulingScheduled, t0.Add(time.Hour))
	if _, err := f.registry.SetMaintenance(ctx, "S101", true); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("reserved slot must not enter maintenance, got %v", err)
	}
	if _, err := f.registry.SetMaintenance(ctx, "S404", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
