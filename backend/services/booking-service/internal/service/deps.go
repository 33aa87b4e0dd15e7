package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"evcharge/backend/services/booking-service/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

var idGenerator = func() string {
	return uuid.NewString()
}

// Notifier receives booking events after commit. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event models.BookingEvent)
}

// ProgressCache keeps the latest sample of active sessions.
type ProgressCache interface {
	Save(ctx context.Context, sample models.SocSample) error
	Latest(ctx context.Context, bookingID string) (*models.SocSample, error)
	Delete(ctx context.Context, bookingID string) error
}

// ProgressPublisher fans accepted samples out to live subscribers.
type ProgressPublisher interface {
	Publish(bookingID string, sample models.SocSample)
	CloseStream(bookingID string)
}

// PriceQuery selects the effective unit price of a session.
type PriceQuery struct {
	StationID   string
	VehicleType string
	At          time.Time
}

// PriceLookup resolves the effective price per kWh.
type PriceLookup interface {
	UnitPrice(ctx context.Context, q PriceQuery) (float64, error)
}

// InvoiceSubmitter hands invoices to the payment service and returns its id.
type InvoiceSubmitter interface {
	SubmitInvoice(ctx context.Context, inv models.Invoice) (string, error)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.BookingEvent) {}

type noopPublisher struct{}

func (noopPublisher) Publish(string, models.SocSample) {}
func (noopPublisher) CloseStream(string)               {}
