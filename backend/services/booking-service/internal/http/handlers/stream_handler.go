package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/models"
	"evcharge/backend/services/booking-service/internal/service"
	"evcharge/backend/services/booking-service/internal/ws"
)

const streamWriteTimeout = 10 * time.Second

// StreamHandler upgrades progress subscribers to websockets.
type StreamHandler struct {
	telemetry *service.TelemetryTracker
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	ctx       context.Context
	logger    *zap.Logger
}

// NewStreamHandler builds handler. Streams end when ctx is cancelled.
func NewStreamHandler(ctx context.Context, telemetry *service.TelemetryTracker, hub *ws.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		telemetry: telemetry,
		hub:       hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		logger: logger,
	}
}

// Stream handles GET /api/bookings/{id}/progress/stream. The first frame is
// the current progress; later frames carry each accepted sample.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	bookingID := chi.URLParam(r, "id")
	progress, err := h.telemetry.LatestProgress(r.Context(), actor, bookingID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if progress.Status != models.BookingInProgress {
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", "booking is not charging")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("booking_id", bookingID), zap.Error(err))
		return
	}

	c := ws.NewConnection(bookingID, conn, streamWriteTimeout, h.logger)
	h.attach(r.Context(), actor, c)
	defer h.hub.Unsubscribe(c)
	c.Serve(h.ctx)
}

// attach subscribes sub and sends the current progress. The status is read
// again after subscribing: a stop that ran in between already closed the
// stream without sub, so sub is closed here instead.
func (h *StreamHandler) attach(ctx context.Context, actor service.Actor, sub ws.Subscriber) {
	h.hub.Subscribe(sub)
	progress, err := h.telemetry.LatestProgress(ctx, actor, sub.BookingID())
	if err != nil {
		h.logger.Warn("progress stream status check failed", zap.String("booking_id", sub.BookingID()), zap.Error(err))
		sub.Close()
		return
	}
	h.send(sub, ws.Frame{Type: "progress", Sample: progress.Latest})
	if progress.Status != models.BookingInProgress {
		h.send(sub, ws.Frame{Type: "closed"})
		sub.Close()
	}
}

func (h *StreamHandler) send(sub ws.Subscriber, frame ws.Frame) {
	msg, err := ws.EncodeFrame(frame)
	if err != nil {
		h.logger.Warn("failed to encode progress frame", zap.Error(err))
		return
	}
	sub.Send(msg)
}
