package models

import "time"

// Invoice is the billable record of one completed booking. BookingID is
// unique: resubmitting the same booking returns the stored invoice.
type Invoice struct {
	InvoiceID       string    `db:"invoice_id" json:"invoice_id"`
	BookingID       string    `db:"booking_id" json:"booking_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	StationID       string    `db:"station_id" json:"station_id"`
	TotalEnergyKWh  float64   `db:"total_energy_kwh" json:"total_energy_kwh"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	UnitPrice       float64   `db:"unit_price" json:"unit_price"`
	Subtotal        float64   `db:"subtotal" json:"subtotal"`
	TaxRate         float64   `db:"tax_rate" json:"tax_rate"`
	TaxAmount       float64   `db:"tax_amount" json:"tax_amount"`
	TotalAmount     float64   `db:"total_amount" json:"total_amount"`
	Currency        string    `db:"currency" json:"currency"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Invoice statuses.
const (
	InvoicePending = "pending"
	InvoicePaid    = "paid"
	InvoiceFailed  = "failed"
)
