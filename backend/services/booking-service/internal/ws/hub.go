package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/metrics"
	"evcharge/backend/services/booking-service/internal/models"
)

// Frame is what subscribers receive.
type Frame struct {
	Type   string            `json:"type"`
	Sample *models.SocSample `json:"sample,omitempty"`
}

// EncodeFrame renders frame as sent on the wire.
func EncodeFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}

// Subscriber receives encoded frames.
type Subscriber interface {
	BookingID() string
	Send(msg []byte)
	Close()
}

// Hub tracks progress subscribers per booking.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[Subscriber]struct{}
	logger *zap.Logger
}

// NewHub builds hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers sub for its booking.
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.BookingID()]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[sub.BookingID()] = set
	}
	if _, dup := set[sub]; !dup {
		set[sub] = struct{}{}
		metrics.StreamOpened()
	}
}

// Unsubscribe removes sub.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.BookingID()]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	metrics.StreamsClosed(1)
	if len(set) == 0 {
		delete(h.subs, sub.BookingID())
	}
}

// Subscribers returns the number of listeners of bookingID.
func (h *Hub) Subscribers(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[bookingID])
}

// Publish sends sample to every subscriber of bookingID.
func (h *Hub) Publish(bookingID string, sample models.SocSample) {
	h.broadcast(bookingID, Frame{Type: "sample", Sample: &sample}, false)
}

// CloseStream sends a final frame and disconnects all subscribers of bookingID.
func (h *Hub) CloseStream(bookingID string) {
	h.broadcast(bookingID, Frame{Type: "closed"}, true)
}

func (h *Hub) broadcast(bookingID string, frame Frame, closing bool) {
	msg, err := EncodeFrame(frame)
	if err != nil {
		h.logger.Warn("failed to encode progress frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	set := h.subs[bookingID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	if closing {
		delete(h.subs, bookingID)
		metrics.StreamsClosed(len(targets))
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.Send(msg)
		if closing {
			sub.Close()
		}
	}
}
