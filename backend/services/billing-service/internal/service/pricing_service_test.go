package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/models"
)

type fakeRules struct {
	rules []models.PricingRule
	err   error
}

func (f fakeRules) ActiveRules(context.Context, string) ([]models.PricingRule, error) {
	return f.rules, f.err
}

func TestPricingServiceQuote(t *testing.T) {
	rules := fakeRules{rules: []models.PricingRule{
		{RuleID: "global", PricePerKWh: 0.40, IsActive: true},
		{RuleID: "station", StationID: "station-1", PricePerKWh: 0.30, IsActive: true},
		{RuleID: "station-truck", StationID: "station-1", VehicleType: "truck", PricePerKWh: 0.50, IsActive: true},
		{RuleID: "night", StationID: "station-1", StartMinute: 22 * 60, EndMinute: 6 * 60, PricePerKWh: 0.20, Priority: 10, IsActive: true},
		{RuleID: "other-station", StationID: "station-2", PricePerKWh: 0.10, IsActive: true},
		{RuleID: "disabled", StationID: "station-1", VehicleType: "sedan", PricePerKWh: 0.01, IsActive: false},
	}}
	svc := NewPricingService(rules, 0.35, "EUR", time.UTC, zap.NewNop())

	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	night := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)
	early := time.Date(2025, 3, 15, 5, 59, 0, 0, time.UTC)

	tests := []struct {
		name        string
		station     string
		vehicleType string
		at          time.Time
		wantRule    string
		wantPrice   float64
	}{
		{name: "station beats global", station: "station-1", vehicleType: "sedan", at: day, wantRule: "station", wantPrice: 0.30},
		{name: "vehicle type is more specific", station: "station-1", vehicleType: "TRUCK", at: day, wantRule: "station-truck", wantPrice: 0.50},
		{name: "night window by priority", station: "station-1", vehicleType: "sedan", at: night, wantRule: "night", wantPrice: 0.20},
		{name: "window wraps midnight", station: "station-1", at: early, wantRule: "night", wantPrice: 0.20},
		{name: "global fallback", station: "station-9", at: day, wantRule: "global", wantPrice: 0.40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := svc.Quote(context.Background(), tt.station, tt.vehicleType, tt.at)
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if q.RuleID != tt.wantRule || q.UnitPrice != tt.wantPrice {
				t.Fatalf("expected %s at %v, got %+v", tt.wantRule, tt.wantPrice, q)
			}
			if q.Currency != "EUR" {
				t.Fatalf("expected default currency, got %q", q.Currency)
			}
		})
	}
}

func TestPricingServiceDefault(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	svc := NewPricingService(fakeRules{err: errors.New("db down")}, 0.35, "EUR", nil, zap.NewNop())
	q, err := svc.Quote(context.Background(), "station-1", "", at)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.UnitPrice != 0.35 || q.RuleID != "" {
		t.Fatalf("expected default price, got %+v", q)
	}

	svc = NewPricingService(fakeRules{}, 0, "EUR", nil, zap.NewNop())
	if _, err := svc.Quote(context.Background(), "station-1", "", at); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	if _, err := svc.Quote(context.Background(), " ", "", at); err == nil {
		t.Fatalf("expected station validation error")
	}
}
