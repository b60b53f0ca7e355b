package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed worker can hold a notification.
const DefaultLockTTL = 2 * time.Minute

const lockMarker = "sending"

// DeliveryLock stops two workers from dispatching the same notification at
// the same time when the queue redelivers a task that is still running.
type DeliveryLock struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeliveryLock creates a lock service. A zero ttl uses DefaultLockTTL.
func NewDeliveryLock(client *Client, logger *zap.Logger, ttl time.Duration) *DeliveryLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &DeliveryLock{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func (l *DeliveryLock) buildKey(notificationID string) string {
	return fmt.Sprintf("delivery-lock:%s", notificationID)
}

// Acquire takes the lock with SET NX. Returns false if another worker holds it.
func (l *DeliveryLock) Acquire(ctx context.Context, notificationID string) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.buildKey(notificationID), lockMarker, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("delivery lock held by another worker",
			zap.String("notification_id", notificationID),
		)
	}
	return ok, nil
}

// Release drops the lock.
func (l *DeliveryLock) Release(ctx context.Context, notificationID string) error {
	if err := l.client.rdb.Del(ctx, l.buildKey(notificationID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
