package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

func TestScanAdvancesScheduledBookingOneStepAtATime(t *testing.T) {
	f := newFixture(t)
	start := t0.Add(30 * time.Minute)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingScheduled, start)

	// Too early: check-in opens 15 minutes before the window.
	if _, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101"); !errors.Is(err, ErrNoMatchingBooking) {
		t.Fatalf("expected no matching booking before check-in, got %v", err)
	}

	f.clock.Set(start.Add(-10 * time.Minute))
	res, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if res.Event != EventConfirm || res.Booking.Status != models.BookingConfirmed {
		t.Fatalf("expected confirm, got %s/%s", res.Event, res.Booking.Status)
	}
	if res.Booking.QRCodeID == nil || *res.Booking.QRCodeID != "qr-101" {
		t.Fatalf("expected qr code bound to booking")
	}
	if got := f.slotStatus(t, "S101"); got != models.SlotReserved {
		t.Fatalf("confirm must keep slot reserved, got %s", got)
	}

	res, err = f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Event != EventStart || res.Booking.Status != models.BookingInProgress {
		t.Fatalf("expected start, got %s/%s", res.Event, res.Booking.Status)
	}
	if res.Booking.ActualStartTime == nil || !res.Booking.ActualStartTime.Equal(start.Add(-10*time.Minute)) {
		t.Fatalf("unexpected actual start %v", res.Booking.ActualStartTime)
	}
	if got := f.slotStatus(t, "S101"); got != models.SlotOccupied {
		t.Fatalf("expected slot occupied, got %s", got)
	}

	if _, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101"); !errors.Is(err, ErrNoMatchingBooking) {
		t.Fatalf("expected third scan rejected, got %v", err)
	}
	if got := f.bookingStatus(t, b.BookingID); got != models.BookingInProgress {
		t.Fatalf("expected in_progress, got %s", got)
	}
}

func TestScanQRImmediateStartsSession(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingQRImmediate, time.Time{})

	res, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Booking.BookingID != b.BookingID || res.Booking.Status != models.BookingInProgress {
		t.Fatalf("unexpected scan result %+v", res.Booking)
	}

	var scans int
	_ = f.store.InTx(context.Background(), func(tx repository.Tx) error {
		qr, err := tx.LockQRByDigest(context.Background(), TokenDigest("token-101"))
		if err != nil {
			return err
		}
		scans = qr.ScanCount
		if qr.LastScannedAt == nil || !qr.LastScannedAt.Equal(t0) {
			t.Errorf("last scanned at not recorded: %v", qr.LastScannedAt)
		}
		return nil
	})
	if scans != 1 {
		t.Fatalf("expected scan count 1, got %d", scans)
	}
}

func TestScanRejections(t *testing.T) {
	f := newFixture(t)
	f.book(t, driver, "vehicle-1", "S101", models.SchedulingQRImmediate, time.Time{})
	f.store.SeedQRCode(models.QRCode{
		QRID: "qr-off", SlotID: "S101", Digest: TokenDigest("token-off"),
		IsActive: false, ExpiresAt: t0.Add(time.Hour),
	})
	f.store.SeedQRCode(models.QRCode{
		QRID: "qr-old", SlotID: "S101", Digest: TokenDigest("token-old"),
		IsActive: true, ExpiresAt: t0.Add(-time.Minute),
	})

	tests := []struct {
		name   string
		token  string
		slotID string
		want   error
	}{
		{"unknown token", "token-nope", "S101", ErrNoMatchingBooking},
		{"inactive token", "token-off", "S101", ErrTokenInactive},
		{"expired token", "token-old", "S101", ErrTokenExpired},
		{"token for another slot", "token-101", "S102", ErrSlotMismatch},
		{"slot without booking", "token-102", "S102", ErrNoMatchingBooking},
		{"empty token", "", "S101", ErrNoMatchingBooking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gate.ValidateAndConsume(context.Background(), driver, tt.token, tt.slotID)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := f.slotStatus(t, "S101"); got != models.SlotReserved {
		t.Fatalf("rejected scans must not touch the slot, got %s", got)
	}
}

func TestScanOfAnotherUsersBookingIsRejected(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingQRImmediate, time.Time{})

	if _, err := f.gate.ValidateAndConsume(context.Background(), driver2, "token-101", "S101"); !errors.Is(err, ErrNoMatchingBooking) {
		t.Fatalf("expected no matching booking for foreign scan, got %v", err)
	}
	if _, err := f.gate.ValidateAndConsume(context.Background(), Actor{}, "token-101", "S101"); !errors.Is(err, ErrNoMatchingBooking) {
		t.Fatalf("expected no matching booking for anonymous scan, got %v", err)
	}
	if got := f.bookingStatus(t, b.BookingID); got != models.BookingConfirmed {
		t.Fatalf("foreign scans must not advance the booking, got %s", got)
	}
	if got := f.slotStatus(t, "S101"); got != models.SlotReserved {
		t.Fatalf("foreign scans must not touch the slot, got %s", got)
	}

	res, err := f.gate.ValidateAndConsume(context.Background(), operator, "token-101", "S101")
	if err != nil {
		t.Fatalf("operator scan: %v", err)
	}
	if res.Booking.Status != models.BookingInProgress || res.Booking.UserID != driver.UserID {
		t.Fatalf("unexpected operator scan result %+v", res.Booking)
	}
}

func TestScanAfterGraceLeavesBookingToSweeper(t *testing.T) {
	f := newFixture(t)
	start := t0.Add(30 * time.Minute)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingScheduled, start)

	f.clock.Set(start.Add(20 * time.Minute))
	if _, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101"); !errors.Is(err, ErrNoMatchingBooking) {
		t.Fatalf("expected late scan rejected, got %v", err)
	}
	if _, err := f.machine.Confirm(context.Background(), operator, b.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected late confirm rejected, got %v", err)
	}

	swept, err := f.allocator.SweepNoShows(context.Background())
	if err != nil || swept != 1 {
		t.Fatalf("expected one no-show, got %d, %v", swept, err)
	}
	if got := f.bookingStatus(t, b.BookingID); got != models.BookingNoShow {
		t.Fatalf("expected no_show, got %s", got)
	}
	for _, typ := range f.notifier.types() {
		if typ == "booking.confirmed" {
			t.Fatalf("late booking must not be reported confirmed: %v", f.notifier.types())
		}
	}

	var scans int
	_ = f.store.InTx(context.Background(), func(tx repository.Tx) error {
		qr, err := tx.LockQRByDigest(context.Background(), TokenDigest("token-101"))
		if err != nil {
			return err
		}
		scans = qr.ScanCount
		return nil
	})
	if scans != 0 {
		t.Fatalf("rejected scans must not be counted, got %d", scans)
	}
}
