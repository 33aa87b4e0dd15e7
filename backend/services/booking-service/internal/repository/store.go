package repository

import (
	"context"
	"errors"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("repository: not found")
	// ErrSlotTaken is raised when a second open booking targets the same slot.
	ErrSlotTaken = errors.New("repository: slot already has an open booking")
	// ErrVehicleTaken is raised when a vehicle already has an open booking.
	ErrVehicleTaken = errors.New("repository: vehicle already has an open booking")
)

// Reader holds lock-free lookups.
type Reader interface {
	Booking(ctx context.Context, bookingID string) (*models.Booking, error)
	BookingsByUser(ctx context.Context, userID string, limit int) ([]models.Booking, error)
	Slot(ctx context.Context, slotID string) (*models.Slot, error)
	LatestSample(ctx context.Context, bookingID string) (*models.SocSample, error)
	Samples(ctx context.Context, bookingID string) ([]models.SocSample, error)
	InvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error)
	// DueNoShows returns open, unstarted bookings scheduled at or before cutoff.
	DueNoShows(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// UnsettledCompleted returns completed bookings that have no invoice or
	// whose invoice never reached the payment service, oldest first.
	UnsettledCompleted(ctx context.Context, limit int) ([]string, error)
}

// Tx is a unit of work. Lock* calls hold the row until the transaction ends.
// Callers lock the booking row before the slot row.
type Tx interface {
	Reader

	LockBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	LockSlot(ctx context.Context, slotID string) (*models.Slot, error)
	LockQRByDigest(ctx context.Context, digest []byte) (*models.QRCode, error)

	OpenBookingForVehicle(ctx context.Context, vehicleID string) (*models.Booking, error)
	// LatestEnergy returns the newest cumulative energy reading, nil when none.
	LatestEnergy(ctx context.Context, bookingID string) (*float64, error)

	InsertBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	UpdateSlot(ctx context.Context, s *models.Slot) error
	UpdateQR(ctx context.Context, q *models.QRCode) error
	InsertSample(ctx context.Context, s *models.SocSample) error
	// InsertInvoice reports false when an invoice for the booking already exists.
	InsertInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	UpdateInvoice(ctx context.Context, inv *models.Invoice) error
}

// Store is the booking persistence boundary.
type Store interface {
	Reader
	// InTx runs fn in one transaction; any error rolls every write back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
