package models

import "time"

// SlotStatus is the occupancy state of a physical charging slot.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotReserved    SlotStatus = "reserved"
	SlotOccupied    SlotStatus = "occupied"
	SlotMaintenance SlotStatus = "maintenance"
)

// Valid reports whether s is one of the known slot states.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotReserved, SlotOccupied, SlotMaintenance:
		return true
	}
	return false
}

// Slot is a connector on a charging post. The catalog fields are seeded
// externally; only Status and CurrentBookingID change here.
type Slot struct {
	SlotID           string     `db:"slot_id" json:"slot_id"`
	StationID        string     `db:"station_id" json:"station_id"`
	PostID           string     `db:"post_id" json:"post_id"`
	ConnectorType    string     `db:"connector_type" json:"connector_type"`
	MaxPowerKW       float64    `db:"max_power_kw" json:"max_power_kw"`
	Status           SlotStatus `db:"status" json:"status"`
	CurrentBookingID *string    `db:"current_booking_id" json:"current_booking_id,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// HeldBy reports whether the slot is currently claimed by bookingID.
func (s *Slot) HeldBy(bookingID string) bool {
	return s.CurrentBookingID != nil && *s.CurrentBookingID == bookingID
}
