package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
)

func TestNextStatusTable(t *testing.T) {
	allowed := map[models.BookingStatus]map[Event]models.BookingStatus{
		models.BookingScheduled:  {EventConfirm: models.BookingConfirmed, EventCancel: models.BookingCancelled, EventNoShow: models.BookingNoShow},
		models.BookingConfirmed:  {EventStart: models.BookingInProgress, EventCancel: models.BookingCancelled, EventNoShow: models.BookingNoShow},
		models.BookingInProgress: {EventStop: models.BookingCompleted},
	}
	statuses := []models.BookingStatus{
		models.BookingScheduled, models.BookingConfirmed, models.BookingInProgress,
		models.BookingCompleted, models.BookingCancelled, models.BookingNoShow,
	}
	events := []Event{EventConfirm, EventStart, EventCancel, EventNoShow, EventStop}

	for _, from := range statuses {
		for _, ev := range events {
			got, err := NextStatus(from, ev)
			want, ok := allowed[from][ev]
			if ok {
				if err != nil || got != want {
					t.Fatalf("%s --%s--> expected %s, got %s (%v)", from, ev, want, got, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s --%s--> expected invalid transition, got %s", from, ev, got)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, tr := range Transitions {
		if tr.From.Terminal() {
			t.Fatalf("terminal status %s has outgoing transition %s", tr.From, tr.Event)
		}
	}
}

func TestStartRules(t *testing.T) {
	f := newFixture(t)
	start := t0.Add(10 * time.Minute)
	scheduled := f.book(t, driver, "vehicle-1", "S101", models.SchedulingScheduled, start)
	immediate := f.book(t, driver2, "vehicle-2", "S102", models.SchedulingQRImmediate, time.Time{})

	if _, err := f.machine.Start(context.Background(), driver, scheduled.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unconfirmed booking must not start, got %v", err)
	}
	if _, err := f.machine.Start(context.Background(), driver2, immediate.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("qr_immediate booking must start through the gate, got %v", err)
	}
	if _, err := f.machine.Confirm(context.Background(), driver, scheduled.BookingID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("driver must not confirm, got %v", err)
	}
	if _, err := f.machine.Confirm(context.Background(), operator, scheduled.BookingID); err != nil {
		t.Fatalf("operator confirm: %v", err)
	}
	if _, err := f.machine.Start(context.Background(), driver2, scheduled.BookingID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other user must not start, got %v", err)
	}

	started, err := f.machine.Start(context.Background(), driver, scheduled.BookingID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.BookingInProgress || started.ActualStartTime == nil {
		t.Fatalf("unexpected started booking %+v", started)
	}
	if _, err := f.machine.Start(context.Background(), driver, scheduled.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second start must fail, got %v", err)
	}
}

func TestConfirmOutsideCheckInWindow(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingScheduled, t0.Add(2*time.Hour))
	if _, err := f.machine.Confirm(context.Background(), operator, b.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := f.bookingStatus(t, b.BookingID); got != models.BookingScheduled {
		t.Fatalf("expected scheduled, got %s", got)
	}
}

func TestStopRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingQRImmediate, time.Time{})
	if _, err := f.machine.Stop(context.Background(), driver, b.BookingID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := f.machine.Stop(context.Background(), driver, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionsAreNotified(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, driver, "vehicle-1", "S101", models.SchedulingQRImmediate, time.Time{})
	if _, err := f.gate.ValidateAndConsume(context.Background(), driver, "token-101", "S101"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	f.clock.Set(t0.Add(30 * time.Minute))
	if _, err := f.machine.Stop(context.Background(), driver, b.BookingID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"booking.created", "booking.in_progress", "booking.completed"}
	got := f.notifier.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}
