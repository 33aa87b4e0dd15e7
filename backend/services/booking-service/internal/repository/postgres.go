package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/backend/services/booking-service/internal/models"
)

const (
	uniqueViolation = "23505"

	openSlotIndex    = "bookings_open_slot_uniq"
	openVehicleIndex = "bookings_open_vehicle_uniq"
)

const bookingColumns = `booking_id, user_id, vehicle_id, vehicle_type, slot_id, station_id, scheduling_type, status,
	estimated_arrival, scheduled_start_time, actual_start_time, actual_end_time, target_soc,
	estimated_duration_minutes, qr_code_id, cancellation_reason, created_at, updated_at`

const slotColumns = `slot_id, station_id, post_id, connector_type, max_power_kw, status, current_booking_id, updated_at`

const sampleColumns = `id, booking_id, ts, current_soc, voltage, current, power_kw, energy_delivered_kwh,
	temperature_c, estimated_time_remaining_minutes`

const invoiceColumns = `invoice_id, booking_id, user_id, station_id, total_energy_kwh, duration_minutes, unit_price,
	subtotal, tax_rate, tax_amount, total_amount, currency, payment_status, external_invoice_id, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore persists bookings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgReader
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgReader: pgReader{q: pool}}
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapWriteErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type pgReader struct {
	q querier
}

func (r pgReader) Booking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return r.oneBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, bookingID)
}

func (r pgReader) BookingsByUser(ctx context.Context, userID string, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.manyBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
}

func (r pgReader) Slot(ctx context.Context, slotID string) (*models.Slot, error) {
	return r.oneSlot(ctx, `SELECT `+slotColumns+` FROM slots WHERE slot_id = $1`, slotID)
}

func (r pgReader) LatestSample(ctx context.Context, bookingID string) (*models.SocSample, error) {
	s, err := scanSample(r.q.QueryRow(ctx, `
		SELECT `+sampleColumns+`
		FROM soc_samples
		WHERE booking_id = $1
		ORDER BY ts DESC, seq DESC
		LIMIT 1`, bookingID))
	if err != nil {
		return nil, notFound(err, "latest sample")
	}
	return s, nil
}

func (r pgReader) Samples(ctx context.Context, bookingID string) ([]models.SocSample, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM soc_samples
		WHERE booking_id = $1
		ORDER BY ts ASC, seq ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var samples []models.SocSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

func (r pgReader) InvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = $1`, bookingID).Scan(
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
		&inv.PaymentStatus,
		&inv.ExternalInvoiceID,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "get invoice")
	}
	return &inv, nil
}

func (r pgReader) DueNoShows(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT booking_id
		FROM bookings
		WHERE status IN ('scheduled', 'confirmed')
		  AND actual_start_time IS NULL
		  AND scheduled_start_time <= $1
		ORDER BY scheduled_start_time
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list due no-shows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r pgReader) UnsettledCompleted(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT b.booking_id
		FROM bookings b
		LEFT JOIN invoices i ON i.booking_id = b.booking_id
		WHERE b.status = 'completed'
		  AND (i.booking_id IS NULL OR i.payment_status = 'unsubmitted')
		ORDER BY b.actual_end_time
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled bookings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r pgReader) oneBooking(ctx context.Context, query string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "get booking")
	}
	return b, nil
}

func (r pgReader) manyBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r pgReader) oneSlot(ctx context.Context, query string, args ...any) (*models.Slot, error) {
	var s models.Slot
	err := r.q.QueryRow(ctx, query, args...).Scan(
		&s.SlotID,
		&s.StationID,
		&s.PostID,
		&s.ConnectorType,
		&s.MaxPowerKW,
		&s.Status,
		&s.CurrentBookingID,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "get slot")
	}
	return &s, nil
}

type pgTx struct {
	pgReader
}

func (t *pgTx) LockBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return t.oneBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

func (t *pgTx) LockSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	return t.oneSlot(ctx, `SELECT `+slotColumns+` FROM slots WHERE slot_id = $1 FOR UPDATE`, slotID)
}

func (t *pgTx) LockQRByDigest(ctx context.Context, digest []byte) (*models.QRCode, error) {
	var q models.QRCode
	err := t.q.QueryRow(ctx, `
		SELECT qr_id, station_id, slot_id, qr_digest, is_active, expires_at, scan_count, last_scanned_at
		FROM qr_codes
		WHERE qr_digest = $1
		FOR UPDATE`, digest).Scan(
		&q.QRID,
		&q.StationID,
		&q.SlotID,
		&q.Digest,
		&q.IsActive,
		&q.ExpiresAt,
		&q.ScanCount,
		&q.LastScannedAt,
	)
	if err != nil {
		return nil, notFound(err, "lock qr code")
	}
	return &q, nil
}

func (t *pgTx) OpenBookingForVehicle(ctx context.Context, vehicleID string) (*models.Booking, error) {
	return t.oneBooking(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE vehicle_id = $1 AND status IN ('scheduled', 'confirmed', 'in_progress')
		LIMIT 1`, vehicleID)
}

func (t *pgTx) LatestEnergy(ctx context.Context, bookingID string) (*float64, error) {
	var energy float64
	err := t.q.QueryRow(ctx, `
		SELECT energy_delivered_kwh
		FROM soc_samples
		WHERE booking_id = $1 AND energy_delivered_kwh IS NOT NULL
		ORDER BY ts DESC, seq DESC
		LIMIT 1`, bookingID).Scan(&energy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest energy: %w", err)
	}
	return &energy, nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		b.BookingID,
		b.UserID,
		b.VehicleID,
		b.VehicleType,
		b.SlotID,
		b.StationID,
		b.SchedulingType,
		b.Status,
		b.EstimatedArrival,
		b.ScheduledStartTime,
		b.ActualStartTime,
		b.ActualEndTime,
		b.TargetSOC,
		b.EstimatedDuration,
		b.QRCodeID,
		b.CancellationReason,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(fmt.Errorf("insert booking: %w", err))
	}
	return nil
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
		    actual_start_time = $3,
		    actual_end_time = $4,
		    qr_code_id = $5,
		    cancellation_reason = $6,
		    updated_at = $7
		WHERE booking_id = $1`,
		b.BookingID,
		b.Status,
		b.ActualStartTime,
		b.ActualEndTime,
		b.QRCodeID,
		b.CancellationReason,
		b.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(fmt.Errorf("update booking: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdateSlot(ctx context.Context, s *models.Slot) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE slots
		SET status = $2, current_booking_id = $3, updated_at = $4
		WHERE slot_id = $1`,
		s.SlotID, s.Status, s.CurrentBookingID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdateQR(ctx context.Context, q *models.QRCode) error {
	_, err := t.q.Exec(ctx, `
		UPDATE qr_codes
		SET scan_count = $2, last_scanned_at = $3, is_active = $4
		WHERE qr_id = $1`,
		q.QRID, q.ScanCount, q.LastScannedAt, q.IsActive)
	if err != nil {
		return fmt.Errorf("update qr code: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSample(ctx context.Context, s *models.SocSample) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO soc_samples (`+sampleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID,
		s.BookingID,
		s.Timestamp,
		s.CurrentSOC,
		s.Voltage,
		s.Current,
		s.PowerKW,
		s.EnergyDeliveredKWh,
		s.TemperatureC,
		s.EstimatedTimeRemaining,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (booking_id) DO NOTHING`,
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
		inv.PaymentStatus,
		inv.ExternalInvoiceID,
		inv.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	_, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET payment_status = $2, external_invoice_id = $3
		WHERE booking_id = $1`,
		inv.BookingID, inv.PaymentStatus, inv.ExternalInvoiceID)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

func scanBooking(row scanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.BookingID,
		&b.UserID,
		&b.VehicleID,
		&b.VehicleType,
		&b.SlotID,
		&b.StationID,
		&b.SchedulingType,
		&b.Status,
		&b.EstimatedArrival,
		&b.ScheduledStartTime,
		&b.ActualStartTime,
		&b.ActualEndTime,
		&b.TargetSOC,
		&b.EstimatedDuration,
		&b.QRCodeID,
		&b.CancellationReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanSample(row scanner) (*models.SocSample, error) {
	var s models.SocSample
	err := row.Scan(
		&s.ID,
		&s.BookingID,
		&s.Timestamp,
		&s.CurrentSOC,
		&s.Voltage,
		&s.Current,
		&s.PowerKW,
		&s.EnergyDeliveredKWh,
		&s.TemperatureC,
		&s.EstimatedTimeRemaining,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case openSlotIndex:
		return ErrSlotTaken
	case openVehicleIndex:
		return ErrVehicleTaken
	}
	return err
}
