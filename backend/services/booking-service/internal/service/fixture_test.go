package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakePricing struct {
	price float64
	err   error
	calls int
}

func (f *fakePricing) UnitPrice(_ context.Context, _ PriceQuery) (float64, error) {
	f.calls++
	return f.price, f.err
}

type fakeInvoices struct {
	mu        sync.Mutex
	failures  int
	submitted []models.Invoice
}

func (f *fakeInvoices) SubmitInvoice(_ context.Context, inv models.Invoice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", errors.New("payment service unavailable")
	}
	f.submitted = append(f.submitted, inv)
	return "ext-" + inv.BookingID, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.BookingEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev models.BookingEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	clock      *fakeClock
	store      *repository.MemoryStore
	registry   *SlotRegistry
	tracker    *TelemetryTracker
	settlement *SettlementTrigger
	machine    *SessionMachine
	allocator  *ReservationAllocator
	gate       *CredentialGate
	pricing    *fakePricing
	invoices   *fakeInvoices
	notifier   *recordingNotifier
}

var (
	driver   = Actor{UserID: "user-1", Role: RoleDriver}
	driver2  = Actor{UserID: "user-2", Role: RoleDriver}
	operator = Actor{UserID: "op-1", Role: RoleOperator}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	store := repository.NewMemoryStore()
	for _, id := range []string{"S101", "S102"} {
		store.SeedSlot(models.Slot{
			SlotID:        id,
			StationID:     "station-1",
			PostID:        "post-1",
			ConnectorType: "CCS2",
			MaxPowerKW:    150,
			Status:        models.SlotAvailable,
		})
	}
	store.SeedQRCode(models.QRCode{
		QRID:      "qr-101",
		StationID: "station-1",
		SlotID:    "S101",
		Digest:    TokenDigest("token-101"),
		IsActive:  true,
		ExpiresAt: t0.Add(24 * time.Hour),
	})
	store.SeedQRCode(models.QRCode{
		QRID:      "qr-102",
		StationID: "station-1",
		SlotID:    "S102",
		Digest:    TokenDigest("token-102"),
		IsActive:  true,
		ExpiresAt: t0.Add(24 * time.Hour),
	})

	logger := zap.NewNop()
	pricing := &fakePricing{price: 0.30}
	invoices := &fakeInvoices{}
	notifier := &recordingNotifier{}

	registry := NewSlotRegistry(store, clock.Now, logger)
	tracker := NewTelemetryTracker(store, nil, nil, clock.Now, logger)
	settlement := NewSettlementTrigger(store, pricing, invoices, SettlementConfig{TaxRate: 0.20, Currency: "EUR"}, clock.Now, logger)
	machine := NewSessionMachine(store, registry, tracker, settlement, notifier, MachineConfig{EarlyCheckIn: 15 * time.Minute, NoShowGrace: 15 * time.Minute}, clock.Now, logger)
	allocator := NewReservationAllocator(store, registry, machine, AllocatorConfig{NoShowGrace: 15 * time.Minute}, clock.Now, logger)
	gate := NewCredentialGate(store, machine, clock.Now, logger)

	return &fixture{
		clock:      clock,
		store:      store,
		registry:   registry,
		tracker:    tracker,
		settlement: settlement,
		machine:    machine,
		allocator:  allocator,
		gate:       gate,
		pricing:    pricing,
		invoices:   invoices,
		notifier:   notifier,
	}
}

func (f *fixture) book(t *testing.T, actor Actor, vehicleID, slotID string, kind models.SchedulingType, start time.Time) *models.Booking {
	t.Helper()
	b, err := f.allocator.CreateBooking(context.Background(), actor, CreateBookingInput{
		VehicleID:          vehicleID,
		VehicleType:        "sedan",
		SlotID:             slotID,
		SchedulingType:     kind,
		ScheduledStartTime: start,
		EstimatedDuration:  time.Hour,
		TargetSOC:          80,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (f *fixture) slotStatus(t *testing.T, slotID string) models.SlotStatus {
	t.Helper()
	slot, err := f.registry.Get(context.Background(), slotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return slot.Status
}

func (f *fixture) bookingStatus(t *testing.T, bookingID string) models.BookingStatus {
	t.Helper()
	b, err := f.machine.Get(context.Background(), operator, bookingID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	return b.Status
}

func ptr[T any](v T) *T {
	return &v
}
