package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter keys shared by all worker processes.
const (
	JobsCacheHitsKey   = "JOBS_CACHE_HITS"
	JobsCacheMissesKey = "JOBS_CACHE_MISSES"
)

// dailyTotalTTL outlives the day the counter belongs to.
const dailyTotalTTL = 24 * time.Hour

// VerifyCodeKey is where the login flow stages the recipient of a
// verification code SMS.
func VerifyCodeKey(notificationID string) string {
	return strings.ReplaceAll("2facode-"+notificationID, " ", "")
}

// EmailAddressKey is where the API stages an email notification's recipient.
func EmailAddressKey(notificationID string) string {
	return "email-address-" + notificationID
}

// EmailPersonalisationKey is where the API stages an email notification's
// personalisation as a JSON object.
func EmailPersonalisationKey(notificationID string) string {
	return "email-personalisation-" + notificationID
}

// DailyTotalKey counts messages sent by a service on the UTC day of t.
func DailyTotalKey(serviceID string, t time.Time) string {
	return fmt.Sprintf("%s-%s-total-count", serviceID, t.UTC().Format("2006-01-02"))
}

// Store exposes get/set/incr over the shared Redis instance.
type Store struct {
	client *Client
	logger *zap.Logger
}

// NewStore creates a Store.
func NewStore(client *Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Get returns the value at key. Missing keys return ("", false, nil).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

// Set stores value at key. A zero ttl keeps the key until deleted.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Incr atomically increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	return n, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// GetJSON decodes the JSON document at key into v.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		s.logger.Warn("discarding undecodable cached value",
			zap.String("key", key),
			zap.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// SetJSON stores v encoded as JSON.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

// IncrDailyTotal bumps the service's send counter for the day of now.
func (s *Store) IncrDailyTotal(ctx context.Context, serviceID string, now time.Time) (int64, error) {
	key := DailyTotalKey(serviceID, now)

	var incr *redis.IntCmd
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, dailyTotalTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis daily total failed: %w", err)
	}
	return incr.Val(), nil
}

// Counter reads an integer counter, treating a missing key as zero.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counter failed: %w", err)
	}
	return n, nil
}
