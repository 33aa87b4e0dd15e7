package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/models"
)

const (
	headerEventType = "event-type"
	headerSource    = "source"
	sourceName      = "booking-service"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("events: publisher closed")

// MessageWriter is the kafka.Writer subset used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the notification topic.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaNotifier publishes booking events keyed by booking id so that every
// booking's events stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafkaNotifier creates an async writer for cfg.
func NewKafkaNotifier(cfg KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: topic cannot be empty")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver booking events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return NewKafkaNotifierWithWriter(writer, logger), nil
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(writer MessageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, logger: logger}
}

// Notify implements service.Notifier. Failures are logged, never returned.
func (n *KafkaNotifier) Notify(ctx context.Context, event models.BookingEvent) {
	if err := n.Publish(ctx, event); err != nil {
		n.logger.Warn("failed to publish booking event",
			zap.String("booking_id", event.BookingID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// Publish writes one event.
func (n *KafkaNotifier) Publish(ctx context.Context, event models.BookingEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrPublisherClosed
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BookingID),
		Value: value,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
			{Key: headerSource, Value: []byte(sourceName)},
		},
	})
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.writer.Close()
}

// LogNotifier writes events to the log when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements service.Notifier.
func (n *LogNotifier) Notify(_ context.Context, event models.BookingEvent) {
	n.logger.Info("booking event",
		zap.String("type", event.Type),
		zap.String("booking_id", event.BookingID),
		zap.String("user_id", event.UserID),
		zap.String("to", string(event.To)),
	)
}
