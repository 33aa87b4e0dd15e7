package models

import "time"

// PricingRule sets the price per kWh for sessions matching its scope.
// Empty StationID or VehicleType match any value. The time-of-day window is
// [StartMinute, EndMinute) in minutes after local midnight and may wrap past
// midnight; equal bounds cover the whole day.
type PricingRule struct {
	RuleID      string    `db:"rule_id" json:"rule_id"`
	StationID   string    `db:"station_id" json:"station_id,omitempty"`
	VehicleType string    `db:"vehicle_type" json:"vehicle_type,omitempty"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	PricePerKWh float64   `db:"price_per_kwh" json:"price_per_kwh"`
	Currency    string    `db:"currency" json:"currency"`
	Priority    int       `db:"priority" json:"priority"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Covers reports whether minute of day m falls in the rule window.
func (r PricingRule) Covers(m int) bool {
	switch {
	case r.StartMinute == r.EndMinute:
		return true
	case r.StartMinute < r.EndMinute:
		return m >= r.StartMinute && m < r.EndMinute
	default:
		return m >= r.StartMinute || m < r.EndMinute
	}
}
