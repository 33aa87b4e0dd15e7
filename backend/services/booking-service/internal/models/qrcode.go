package models

import "time"

// QRCode is a scannable credential bound to one slot. Only the SHA3-256
// digest of the printed token is stored.
type QRCode struct {
	QRID          string     `db:"qr_id" json:"qr_id"`
	StationID     string     `db:"station_id" json:"station_id"`
	SlotID        string     `db:"slot_id" json:"slot_id"`
	Digest        []byte     `db:"qr_digest" json:"-"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	ScanCount     int        `db:"scan_count" json:"scan_count"`
	LastScannedAt *time.Time `db:"last_scanned_at" json:"last_scanned_at,omitempty"`
}
