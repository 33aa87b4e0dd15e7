package models

import "time"

// SchedulingType tells how a booking was made.
type SchedulingType string

const (
	SchedulingScheduled   SchedulingType = "scheduled"
	SchedulingQRImmediate SchedulingType = "qr_immediate"
)

// Valid reports whether t is a known scheduling type.
func (t SchedulingType) Valid() bool {
	return t == SchedulingScheduled || t == SchedulingQRImmediate
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingScheduled  BookingStatus = "scheduled"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
	BookingNoShow     BookingStatus = "no_show"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingScheduled, BookingConfirmed, BookingInProgress, BookingCompleted, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

// Terminal statuses are final.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled || s == BookingNoShow
}

// OpenStatuses lists the non-terminal statuses.
var OpenStatuses = []BookingStatus{BookingScheduled, BookingConfirmed, BookingInProgress}

// Booking is a user's claim on a slot for a charging window.
type Booking struct {
	BookingID          string         `db:"booking_id" json:"booking_id"`
	UserID             string         `db:"user_id" json:"user_id"`
	VehicleID          string         `db:"vehicle_id" json:"vehicle_id"`
	VehicleType        string         `db:"vehicle_type" json:"vehicle_type,omitempty"`
	SlotID             string         `db:"slot_id" json:"slot_id"`
	StationID          string         `db:"station_id" json:"station_id"`
	SchedulingType     SchedulingType `db:"scheduling_type" json:"scheduling_type"`
	Status             BookingStatus  `db:"status" json:"status"`
	EstimatedArrival   *time.Time     `db:"estimated_arrival" json:"estimated_arrival,omitempty"`
	ScheduledStartTime time.Time      `db:"scheduled_start_time" json:"scheduled_start_time"`
	ActualStartTime    *time.Time     `db:"actual_start_time" json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time     `db:"actual_end_time" json:"actual_end_time,omitempty"`
	TargetSOC          int            `db:"target_soc" json:"target_soc"`
	EstimatedDuration  int            `db:"estimated_duration_minutes" json:"estimated_duration_minutes"`
	QRCodeID           *string        `db:"qr_code_id" json:"qr_code_id,omitempty"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Window returns the reserved interval [start, start+estimated duration).
func (b *Booking) Window() (time.Time, time.Time) {
	start := b.ScheduledStartTime
	return start, start.Add(time.Duration(b.EstimatedDuration) * time.Minute)
}

// BookingEvent is emitted after every committed status change.
type BookingEvent struct {
	Type      string        `json:"type"`
	BookingID string        `json:"booking_id"`
	UserID    string        `json:"user_id"`
	SlotID    string        `json:"slot_id"`
	StationID string        `json:"station_id"`
	From      BookingStatus `json:"from,omitempty"`
	To        BookingStatus `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}
