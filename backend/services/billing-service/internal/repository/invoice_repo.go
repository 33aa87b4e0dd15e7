package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/backend/services/billing-service/internal/models"
)

const invoiceColumns = `invoice_id, booking_id, user_id, station_id, total_energy_kwh, duration_minutes,
	unit_price, subtotal, tax_rate, tax_amount, total_amount, currency, status, created_at`

// InvoiceRepository persists invoices.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns repository.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// CreateIfAbsent inserts inv unless its booking already has an invoice, in
// which case the stored one is returned with created=false.
func (r *InvoiceRepository) CreateIfAbsent(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	const insert = `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (booking_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, insert,
		inv.InvoiceID,
		inv.BookingID,
		inv.UserID,
		inv.StationID,
		inv.TotalEnergyKWh,
		inv.DurationMinutes,
		inv.UnitPrice,
		inv.Subtotal,
		inv.TaxRate,
		inv.TaxAmount,
		inv.TotalAmount,
		inv.Currency,
		inv.Status,
		inv.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return inv, true, nil
	}

	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE booking_id = $1`
	stored, err := scanInvoice(r.pool.QueryRow(ctx, query, inv.BookingID))
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// ListByUser returns latest invoices for user.
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.InvoiceID,
		&inv.BookingID,
		&inv.UserID,
		&inv.StationID,
		&inv.TotalEnergyKWh,
		&inv.DurationMinutes,
		&inv.UnitPrice,
		&inv.Subtotal,
		&inv.TaxRate,
		&inv.TaxAmount,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.Status,
		&inv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
