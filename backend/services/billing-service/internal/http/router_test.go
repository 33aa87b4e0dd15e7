package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/http/handlers"
	"evcharge/backend/services/billing-service/internal/models"
	"evcharge/backend/services/billing-service/internal/service"
)

type staticRules []models.PricingRule

func (s staticRules) ActiveRules(context.Context, string) ([]models.PricingRule, error) { return s, nil }

type mapInvoices map[string]models.Invoice

func (m mapInvoices) CreateIfAbsent(_ context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	if stored, ok := m[inv.BookingID]; ok {
		return &stored, false, nil
	}
	m[inv.BookingID] = *inv
	return inv, true, nil
}

func (m mapInvoices) ListByUser(context.Context, string, int) ([]models.Invoice, error) {
	return nil, nil
}

func newRouter() http.Handler {
	logger := zap.NewNop()
	pricing := service.NewPricingService(staticRules{{RuleID: "r1", StationID: "station-1", PricePerKWh: 0.3, IsActive: true}}, 0.4, "EUR", nil, logger)
	invoices := handlers.NewInvoicesHandler(service.NewInvoiceService(mapInvoices{}, logger), logger)
	return NewRouter(Routes{
		Pricing:       handlers.NewPricingHandler(pricing, logger),
		SubmitInvoice: invoices.Submit,
		InvoicesMe:    invoices.Mine,
		Health:        handlers.NewHealthHandler(),
	}, "secret")
}

func TestPricingEndpoint(t *testing.T) {
	h := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/internal/pricing?station_id=station-1&at=2025-03-14T09:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req.Header.Set(internalTokenHeader, "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var quote service.Quote
	if err := json.Unmarshal(rec.Body.Bytes(), &quote); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if quote.UnitPrice != 0.3 || quote.RuleID != "r1" {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestInvoiceEndpointIdempotent(t *testing.T) {
	h := newRouter()
	body, _ := json.Marshal(map[string]any{
		"invoice_id": "inv-1", "booking_id": "b-1", "user_id": "user-1", "currency": "EUR",
		"total_energy_kwh": 16.5, "unit_price": 0.3, "subtotal": 4.95, "tax_rate": 0.2, "tax_amount": 0.99, "total_amount": 5.94,
		"payment_status": "unsubmitted",
	})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/invoices", bytes.NewReader(body))
		req.Header.Set(internalTokenHeader, "secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := post()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on resubmission, got %d", rec.Code)
	}
	var stored models.Invoice
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.InvoiceID != "inv-1" {
		t.Fatalf("expected stored invoice id, got %q", stored.InvoiceID)
	}
}

func TestInvoiceEndpointRejectsMalformedBodies(t *testing.T) {
	h := newRouter()
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing booking", map[string]any{"user_id": "user-1", "total_amount": 1}, http.StatusBadRequest},
		{"unknown field", map[string]any{"booking_id": "b-1", "user_id": "user-1", "discount": 5}, http.StatusBadRequest},
		{"negative energy", map[string]any{"booking_id": "b-1", "user_id": "user-1", "total_energy_kwh": -1}, http.StatusBadRequest},
		{"bad currency", map[string]any{"booking_id": "b-1", "user_id": "user-1", "currency": "EURO"}, http.StatusBadRequest},
		{"total mismatch", map[string]any{"booking_id": "b-1", "user_id": "user-1", "subtotal": 4, "tax_amount": 1, "total_amount": 9}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/internal/invoices", bytes.NewReader(body))
			req.Header.Set(internalTokenHeader, "secret")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
