package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
)

// MemoryStore keeps everything in process memory. Transactions are
// serialized on a single mutex and their writes are staged until commit,
// so a failed unit of work leaves no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	slots    map[string]models.Slot
	bookings map[string]models.Booking
	qrs      map[string]models.QRCode
	samples  map[string][]models.SocSample
	invoices map[string]models.Invoice
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:    make(map[string]models.Slot),
		bookings: make(map[string]models.Booking),
		qrs:      make(map[string]models.QRCode),
		samples:  make(map[string][]models.SocSample),
		invoices: make(map[string]models.Invoice),
	}
}

// SeedSlot adds or replaces a catalog slot.
func (s *MemoryStore) SeedSlot(slot models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.Status == "" {
		slot.Status = models.SlotAvailable
	}
	s.slots[slot.SlotID] = slot
}

// SeedQRCode adds or replaces a credential.
func (s *MemoryStore) SeedQRCode(qr models.QRCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrs[qr.QRID] = qr
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) begin() *memTx {
	return &memTx{
		s:        s,
		slots:    make(map[string]models.Slot),
		bookings: make(map[string]models.Booking),
		qrs:      make(map[string]models.QRCode),
		samples:  make(map[string][]models.SocSample),
		invoices: make(map[string]models.Invoice),
	}
}

func (s *MemoryStore) Booking(ctx context.Context, bookingID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().Booking(ctx, bookingID)
}

func (s *MemoryStore) BookingsByUser(ctx context.Context, userID string, limit int) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().BookingsByUser(ctx, userID, limit)
}

func (s *MemoryStore) Slot(ctx context.Context, slotID string) (*models.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().Slot(ctx, slotID)
}

func (s *MemoryStore) LatestSample(ctx context.Context, bookingID string) (*models.SocSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().LatestSample(ctx, bookingID)
}

func (s *MemoryStore) Samples(ctx context.Context, bookingID string) ([]models.SocSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().Samples(ctx, bookingID)
}

func (s *MemoryStore) InvoiceByBooking(ctx context.Context, bookingID string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().InvoiceByBooking(ctx, bookingID)
}

func (s *MemoryStore) DueNoShows(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().DueNoShows(ctx, cutoff, limit)
}

func (s *MemoryStore) UnsettledCompleted(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.begin().UnsettledCompleted(ctx, limit)
}

// memTx overlays staged writes on top of the committed maps.
type memTx struct {
	s        *MemoryStore
	slots    map[string]models.Slot
	bookings map[string]models.Booking
	qrs      map[string]models.QRCode
	samples  map[string][]models.SocSample
	invoices map[string]models.Invoice
}

func (t *memTx) commit() {
	for id, v := range t.slots {
		t.s.slots[id] = v
	}
	for id, v := range t.bookings {
		t.s.bookings[id] = v
	}
	for id, v := range t.qrs {
		t.s.qrs[id] = v
	}
	for id, v := range t.samples {
		t.s.samples[id] = append(t.s.samples[id], v...)
	}
	for id, v := range t.invoices {
		t.s.invoices[id] = v
	}
}

func (t *memTx) booking(id string) (models.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	b, ok := t.s.bookings[id]
	return b, ok
}

func (t *memTx) allBookings() []models.Booking {
	out := make([]models.Booking, 0, len(t.s.bookings)+len(t.bookings))
	for id, b := range t.s.bookings {
		if staged, ok := t.bookings[id]; ok {
			b = staged
		}
		out = append(out, b)
	}
	for id, b := range t.bookings {
		if _, ok := t.s.bookings[id]; !ok {
			out = append(out, b)
		}
	}
	return out
}

func (t *memTx) allSamples(bookingID string) []models.SocSample {
	committed := t.s.samples[bookingID]
	staged := t.samples[bookingID]
	out := make([]models.SocSample, 0, len(committed)+len(staged))
	out = append(out, committed...)
	out = append(out, staged...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (t *memTx) Booking(_ context.Context, bookingID string) (*models.Booking, error) {
	b, ok := t.booking(bookingID)
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memTx) BookingsByUser(_ context.Context, userID string, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Booking
	for _, b := range t.allBookings() {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) Slot(_ context.Context, slotID string) (*models.Slot, error) {
	if s, ok := t.slots[slotID]; ok {
		return &s, nil
	}
	s, ok := t.s.slots[slotID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (t *memTx) LatestSample(_ context.Context, bookingID string) (*models.SocSample, error) {
	samples := t.allSamples(bookingID)
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	latest := samples[len(samples)-1]
	return &latest, nil
}

func (t *memTx) Samples(_ context.Context, bookingID string) ([]models.SocSample, error) {
	return t.allSamples(bookingID), nil
}

func (t *memTx) InvoiceByBooking(_ context.Context, bookingID string) (*models.Invoice, error) {
	if inv, ok := t.invoices[bookingID]; ok {
		return &inv, nil
	}
	inv, ok := t.s.invoices[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (t *memTx) DueNoShows(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	var due []models.Booking
	for _, b := range t.allBookings() {
		if b.Status != models.BookingScheduled && b.Status != models.BookingConfirmed {
			continue
		}
		if b.ActualStartTime != nil || b.ScheduledStartTime.After(cutoff) {
			continue
		}
		due = append(due, b)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledStartTime.Before(due[j].ScheduledStartTime) })
	ids := make([]string, 0, len(due))
	for _, b := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.BookingID)
	}
	return ids, nil
}

func (t *memTx) UnsettledCompleted(ctx context.Context, limit int) ([]string, error) {
	var due []models.Booking
	for _, b := range t.allBookings() {
		if b.Status != models.BookingCompleted {
			continue
		}
		inv, err := t.InvoiceByBooking(ctx, b.BookingID)
		if err == nil && inv.PaymentStatus != models.PaymentUnsubmitted {
			continue
		}
		due = append(due, b)
	}
	sort.Slice(due, func(i, j int) bool { return endedAt(due[i]).Before(endedAt(due[j])) })
	ids := make([]string, 0, len(due))
	for _, b := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.BookingID)
	}
	return ids, nil
}

func endedAt(b models.Booking) time.Time {
	if b.ActualEndTime != nil {
		return *b.ActualEndTime
	}
	return b.UpdatedAt
}

func (t *memTx) LockBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return t.Booking(ctx, bookingID)
}

func (t *memTx) LockSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	return t.Slot(ctx, slotID)
}

func (t *memTx) LockQRByDigest(_ context.Context, digest []byte) (*models.QRCode, error) {
	for id, qr := range t.s.qrs {
		if staged, ok := t.qrs[id]; ok {
			qr = staged
		}
		if bytes.Equal(qr.Digest, digest) {
			return &qr, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) OpenBookingForVehicle(_ context.Context, vehicleID string) (*models.Booking, error) {
	for _, b := range t.allBookings() {
		if b.VehicleID == vehicleID && !b.Status.Terminal() {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) LatestEnergy(_ context.Context, bookingID string) (*float64, error) {
	samples := t.allSamples(bookingID)
	for i := len(samples) - 1; i >= 0; i-- {
		if e := samples[i].EnergyDeliveredKWh; e != nil {
			v := *e
			return &v, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *models.Booking) error {
	if _, exists := t.booking(b.BookingID); exists {
		return fmt.Errorf("repository: booking %s already exists", b.BookingID)
	}
	if err := t.checkOpenUnique(b); err != nil {
		return err
	}
	t.bookings[b.BookingID] = *b
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *models.Booking) error {
	if _, ok := t.booking(b.BookingID); !ok {
		return ErrNotFound
	}
	if err := t.checkOpenUnique(b); err != nil {
		return err
	}
	t.bookings[b.BookingID] = *b
	return nil
}

// checkOpenUnique mirrors the partial unique indexes on open bookings.
func (t *memTx) checkOpenUnique(b *models.Booking) error {
	if b.Status.Terminal() {
		return nil
	}
	for _, other := range t.allBookings() {
		if other.BookingID == b.BookingID || other.Status.Terminal() {
			continue
		}
		if other.SlotID == b.SlotID {
			return ErrSlotTaken
		}
		if other.VehicleID == b.VehicleID {
			return ErrVehicleTaken
		}
	}
	return nil
}

func (t *memTx) UpdateSlot(ctx context.Context, s *models.Slot) error {
	if _, err := t.Slot(ctx, s.SlotID); err != nil {
		return err
	}
	t.slots[s.SlotID] = *s
	return nil
}

func (t *memTx) UpdateQR(_ context.Context, q *models.QRCode) error {
	if _, ok := t.s.qrs[q.QRID]; !ok {
		return ErrNotFound
	}
	t.qrs[q.QRID] = *q
	return nil
}

func (t *memTx) InsertSample(_ context.Context, s *models.SocSample) error {
	t.samples[s.BookingID] = append(t.samples[s.BookingID], *s)
	return nil
}

func (t *memTx) InsertInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	if _, err := t.InvoiceByBooking(ctx, inv.BookingID); err == nil {
		return false, nil
	}
	t.invoices[inv.BookingID] = *inv
	return true, nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	if _, err := t.InvoiceByBooking(ctx, inv.BookingID); err != nil {
		return err
	}
	t.invoices[inv.BookingID] = *inv
	return nil
}
