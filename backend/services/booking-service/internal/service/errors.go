package service

import "errors"

// Rejections returned by the booking core. Handlers map them with errors.Is.
var (
	ErrSlotUnavailable         = errors.New("slot unavailable")
	ErrVehicleAlreadyBooked    = errors.New("vehicle already booked")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrTokenExpired            = errors.New("token expired")
	ErrTokenInactive           = errors.New("token inactive")
	ErrSlotMismatch            = errors.New("slot mismatch")
	ErrNoMatchingBooking       = errors.New("no matching booking")
	ErrInvalidTelemetry        = errors.New("invalid telemetry")
	ErrSettlementAlreadyIssued = errors.New("settlement already issued")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSlotUnavailable, "SLOT_UNAVAILABLE"},
	{ErrVehicleAlreadyBooked, "VEHICLE_ALREADY_BOOKED"},
	{ErrInvalidSchedule, "INVALID_SCHEDULE"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrTokenExpired, "TOKEN_EXPIRED"},
	{ErrTokenInactive, "TOKEN_INACTIVE"},
	{ErrSlotMismatch, "SLOT_MISMATCH"},
	{ErrNoMatchingBooking, "NO_MATCHING_BOOKING"},
	{ErrInvalidTelemetry, "INVALID_TELEMETRY"},
	{ErrSettlementAlreadyIssued, "SETTLEMENT_ALREADY_ISSUED"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrForbidden, "FORBIDDEN"},
}

// Code returns the stable rejection code of err, or INTERNAL.
func Code(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
