package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/http/handlers"
	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/repository"
	"evcharge/backend/services/booking-service/internal/service"
	"evcharge/backend/services/booking-service/internal/ws"
)

const testSecret = "router-secret"

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type flatPricing struct{}

func (flatPricing) UnitPrice(context.Context, service.PriceQuery) (float64, error) { return 0.30, nil }

type okInvoices struct{}

func (okInvoices) SubmitInvoice(_ context.Context, inv models.Invoice) (string, error) {
	return "ext-" + inv.BookingID, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	clock := func() time.Time { return now }
	logger := zap.NewNop()

	store := repository.NewMemoryStore()
	store.SeedSlot(models.Slot{SlotID: "S101", StationID: "station-1", Status: models.SlotAvailable})
	store.SeedQRCode(models.QRCode{
		QRID:      "qr-101",
		StationID: "station-1",
		SlotID:    "S101",
		Digest:    service.TokenDigest("token-101"),
		IsActive:  true,
		ExpiresAt: now.Add(time.Hour),
	})

	hub := ws.NewHub(logger)
	registry := service.NewSlotRegistry(store, clock, logger)
	tracker := service.NewTelemetryTracker(store, nil, hub, clock, logger)
	settlement := service.NewSettlementTrigger(store, flatPricing{}, okInvoices{}, service.SettlementConfig{TaxRate: 0.20}, clock, logger)
	machine := service.NewSessionMachine(store, registry, tracker, settlement, nil, service.MachineConfig{EarlyCheckIn: 15 * time.Minute, NoShowGrace: 15 * time.Minute}, clock, logger)
	allocator := service.NewReservationAllocator(store, registry, machine, service.AllocatorConfig{NoShowGrace: 15 * time.Minute}, clock, logger)
	gate := service.NewCredentialGate(store, machine, clock, logger)

	return NewRouter(Routes{
		Bookings:    handlers.NewBookingsHandler(allocator, machine, tracker, logger),
		Credentials: handlers.NewCredentialsHandler(gate, logger),
		Slots:       handlers.NewSlotsHandler(registry, allocator, logger),
		Stream:      handlers.NewStreamHandler(context.Background(), tracker, hub, logger),
		Health:      handlers.NewHealthHandler(map[string]handlers.Pinger{"store": stubPinger{}}),
	}, testSecret, logger)
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID, "role": role}).
		SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func call(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestQRImmediateLifecycleOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	driver := token(t, "user-1", "driver")
	other := token(t, "user-2", "driver")

	rec := call(t, h, http.MethodPost, "/api/bookings", driver, map[string]any{
		"vehicle_id": "EV-1", "slot_id": "S101", "scheduling_type": "qr_immediate",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	booking := decode[models.Booking](t, rec)
	if booking.Status != models.BookingConfirmed {
		t.Fatalf("expected confirmed, got %s", booking.Status)
	}

	rec = call(t, h, http.MethodPost, "/api/bookings", other, map[string]any{
		"vehicle_id": "EV-2", "slot_id": "S101", "scheduling_type": "qr_immediate",
	})
	if rec.Code != http.StatusConflict || decode[map[string]string](t, rec)["code"] != "SLOT_UNAVAILABLE" {
		t.Fatalf("expected SLOT_UNAVAILABLE conflict, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodGet, "/api/bookings/"+booking.BookingID, other, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected foreign read forbidden, got %d", rec.Code)
	}

	rec = call(t, h, http.MethodPost, "/api/credentials/scan", other, map[string]any{"qr_data": "token-101", "slot_id": "S101"})
	if rec.Code != http.StatusNotFound || decode[map[string]string](t, rec)["code"] != "NO_MATCHING_BOOKING" {
		t.Fatalf("expected foreign scan rejected, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodPost, "/api/credentials/scan", driver, map[string]any{"qr_data": "token-101", "slot_id": "S101"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if scan := decode[service.ScanResult](t, rec); scan.Booking.Status != models.BookingInProgress {
		t.Fatalf("expected in_progress after scan, got %s", scan.Booking.Status)
	}

	path := "/api/bookings/" + booking.BookingID
	rec = call(t, h, http.MethodPost, path+"/samples", driver, map[string]any{"current_soc": 150})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected invalid telemetry, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = call(t, h, http.MethodPost, path+"/samples", driver, map[string]any{"current_soc": 55, "energy_delivered_kwh": 10})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sample: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodGet, path+"/progress", driver, nil)
	progress := decode[models.Progress](t, rec)
	if rec.Code != http.StatusOK || progress.Latest == nil || progress.Latest.CurrentSOC != 55 {
		t.Fatalf("unexpected progress %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodPost, path+"/stop", driver, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stop := decode[service.StopResult](t, rec)
	if stop.Invoice == nil || stop.Invoice.TotalEnergyKWh != 10 || stop.Invoice.TotalAmount != 3.6 || stop.Duplicate {
		t.Fatalf("unexpected stop result %s", rec.Body.String())
	}

	rec = call(t, h, http.MethodPost, path+"/stop", driver, nil)
	again := decode[service.StopResult](t, rec)
	if rec.Code != http.StatusOK || !again.Duplicate || again.Invoice.InvoiceID != stop.Invoice.InvoiceID {
		t.Fatalf("expected duplicate stop with same invoice, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodGet, "/api/slots/S101", driver, nil)
	if slot := decode[models.Slot](t, rec); slot.Status != models.SlotAvailable {
		t.Fatalf("expected slot released, got %s", slot.Status)
	}
}

func TestRouterRejections(t *testing.T) {
	h := newTestRouter(t)
	driver := token(t, "user-1", "driver")
	operator := token(t, "op-1", "operator")

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		body   any
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/bookings", want: http.StatusUnauthorized},
		{name: "unknown booking", method: http.MethodGet, path: "/api/bookings/nope", bearer: driver, want: http.StatusNotFound},
		{name: "missing slot", method: http.MethodPost, path: "/api/bookings", bearer: driver,
			body: map[string]any{"vehicle_id": "EV-1", "scheduling_type": "qr_immediate"}, want: http.StatusBadRequest},
		{name: "scheduled without start", method: http.MethodPost, path: "/api/bookings", bearer: driver,
			body: map[string]any{"vehicle_id": "EV-1", "slot_id": "S101", "scheduling_type": "scheduled"}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/bookings", bearer: driver,
			body: map[string]any{"vehicle_id": "EV-1", "slot_id": "S101", "scheduling_type": "qr_immediate", "x": 1}, want: http.StatusBadRequest},
		{name: "unknown token", method: http.MethodPost, path: "/api/credentials/scan", bearer: driver,
			body: map[string]any{"qr_data": "bogus", "slot_id": "S101"}, want: http.StatusNotFound},
		{name: "driver maintenance", method: http.MethodPut, path: "/api/slots/S101/maintenance", bearer: driver,
			body: map[string]any{"enabled": true}, want: http.StatusForbidden},
		{name: "operator maintenance", method: http.MethodPut, path: "/api/slots/S101/maintenance", bearer: operator,
			body: map[string]any{"enabled": true}, want: http.StatusOK},
		{name: "driver sweep", method: http.MethodPost, path: "/api/admin/no-show-sweep", bearer: driver, want: http.StatusForbidden},
		{name: "operator sweep", method: http.MethodPost, path: "/api/admin/no-show-sweep", bearer: operator, want: http.StatusOK},
		{name: "health", method: http.MethodGet, path: "/health", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h, tt.method, tt.path, tt.bearer, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
