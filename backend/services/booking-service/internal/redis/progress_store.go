package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"evcharge/backend/services/booking-service/internal/models"
)

// ProgressStore caches the latest SOC sample of each active session.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressStore returns redis-backed cache.
func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) key(bookingID string) string {
	return fmt.Sprintf("bookings:progress:%s", bookingID)
}

const saveRetries = 5

// Save stores sample unless a newer one is already cached. The read and the
// write run under WATCH, so a concurrent save of a newer sample wins.
func (s *ProgressStore) Save(ctx context.Context, sample models.SocSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	key := s.key(sample.BookingID)

	save := func(tx *redis.Tx) error {
		current, err := decodeSample(tx.Get(ctx, key).Result())
		if err != nil {
			return err
		}
		if current != nil && current.Timestamp.After(sample.Timestamp) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < saveRetries; i++ {
		err = s.client.Watch(ctx, save, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("save progress %s: %w", sample.BookingID, err)
}

// Latest returns the cached sample, nil when absent.
func (s *ProgressStore) Latest(ctx context.Context, bookingID string) (*models.SocSample, error) {
	return decodeSample(s.client.Get(ctx, s.key(bookingID)).Result())
}

func decodeSample(result string, err error) (*models.SocSample, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sample models.SocSample
	if err := json.Unmarshal([]byte(result), &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// Delete drops the cached sample.
func (s *ProgressStore) Delete(ctx context.Context, bookingID string) error {
	return s.client.Del(ctx, s.key(bookingID)).Err()
}
