package service

import "evcharge/backend/services/booking-service/internal/models"

// Roles carried in the access token.
const (
	RoleDriver   = "driver"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

// Privileged reports whether the actor may act on any booking.
func (a Actor) Privileged() bool {
	return a.Role == RoleOperator || a.Role == RoleAdmin
}

func (a Actor) canAccess(b *models.Booking) error {
	if a.Privileged() || (a.UserID != "" && a.UserID == b.UserID) {
		return nil
	}
	return ErrForbidden
}
