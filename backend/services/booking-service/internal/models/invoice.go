package models

import "time"

// PaymentStatus tracks the hand-off of an invoice to the payment service.
type PaymentStatus string

const (
	PaymentUnsubmitted PaymentStatus = "unsubmitted"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "failed"
)

// Invoice is the single billable record of a completed booking.
type Invoice struct {
	InvoiceID         string        `db:"invoice_id" json:"invoice_id"`
	BookingID         string        `db:"booking_id" json:"booking_id"`
	UserID            string        `db:"user_id" json:"user_id"`
	StationID         string        `db:"station_id" json:"station_id"`
	TotalEnergyKWh    float64       `db:"total_energy_kwh" json:"total_energy_kwh"`
	DurationMinutes   int           `db:"duration_minutes" json:"duration_minutes"`
	UnitPrice         float64       `db:"unit_price" json:"unit_price"`
	Subtotal          float64       `db:"subtotal" json:"subtotal"`
	TaxRate           float64       `db:"tax_rate" json:"tax_rate"`
	TaxAmount         float64       `db:"tax_amount" json:"tax_amount"`
	TotalAmount       float64       `db:"total_amount" json:"total_amount"`
	Currency          string        `db:"currency" json:"currency"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"payment_status"`
	ExternalInvoiceID *string       `db:"external_invoice_id" json:"external_invoice_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}
