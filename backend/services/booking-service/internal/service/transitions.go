package service

import (
	"fmt"

	"evcharge/backend/services/booking-service/internal/models"
)

// Event drives a booking status change.
type Event string

const (
	EventConfirm Event = "confirm"
	EventStart   Event = "start"
	EventCancel  Event = "cancel"
	EventNoShow  Event = "no_show"
	EventStop    Event = "stop"
)

// Transition is one row of the booking lifecycle table.
type Transition struct {
	From  models.BookingStatus
	Event Event
	To    models.BookingStatus
}

// Transitions is the closed set of allowed status changes.
var Transitions = []Transition{
	{From: models.BookingScheduled, Event: EventConfirm, To: models.BookingConfirmed},
	{From: models.BookingConfirmed, Event: EventStart, To: models.BookingInProgress},
	{From: models.BookingScheduled, Event: EventCancel, To: models.BookingCancelled},
	{From: models.BookingConfirmed, Event: EventCancel, To: models.BookingCancelled},
	{From: models.BookingScheduled, Event: EventNoShow, To: models.BookingNoShow},
	{From: models.BookingConfirmed, Event: EventNoShow, To: models.BookingNoShow},
	{From: models.BookingInProgress, Event: EventStop, To: models.BookingCompleted},
}

// NextStatus looks up the target of event from status.
func NextStatus(from models.BookingStatus, event Event) (models.BookingStatus, error) {
	for _, t := range Transitions {
		if t.From == from && t.Event == event {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}
