package models

import "time"

// SocSample is one telemetry reading for an active session. Samples are
// append-only.
type SocSample struct {
	ID                     string    `db:"id" json:"id"`
	BookingID              string    `db:"booking_id" json:"booking_id"`
	Timestamp              time.Time `db:"ts" json:"timestamp"`
	CurrentSOC             float64   `db:"current_soc" json:"current_soc"`
	Voltage                *float64  `db:"voltage" json:"voltage,omitempty"`
	Current                *float64  `db:"current" json:"current,omitempty"`
	PowerKW                *float64  `db:"power_kw" json:"power_kw,omitempty"`
	EnergyDeliveredKWh     *float64  `db:"energy_delivered_kwh" json:"energy_delivered_kwh,omitempty"`
	TemperatureC           *float64  `db:"temperature_c" json:"temperature_c,omitempty"`
	EstimatedTimeRemaining *int      `db:"estimated_time_remaining_minutes" json:"estimated_time_remaining_minutes,omitempty"`
}

// Progress is the latest view of a charging session.
type Progress struct {
	BookingID      string        `json:"booking_id"`
	Status         BookingStatus `json:"status"`
	TargetSOC      int           `json:"target_soc"`
	Latest         *SocSample    `json:"latest,omitempty"`
	ElapsedSeconds int64         `json:"elapsed_seconds"`
}
