// Package worker consumes delivery and receipt tasks from the queue and runs
// the periodic job cache maintenance.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/delivery"
	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/sqs"
)

type Queue interface {
	Receive(ctx context.Context) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

type Deliverer interface {
	Deliver(ctx context.Context, id uuid.UUID) error
}

type StatusStore interface {
	UpdateStatusUnlessCompleted(ctx context.Context, id uuid.UUID, status string) (bool, error)
	UpdateStatusByReference(ctx context.Context, reference, status string) (bool, error)
}

// Locker keeps a notification from being dispatched by two workers at once.
type Locker interface {
	Acquire(ctx context.Context, notificationID string) (bool, error)
	Release(ctx context.Context, notificationID string) error
}

type Worker struct {
	queue     Queue
	deliverer Deliverer
	statuses  StatusStore
	locker    Locker
	config    Config
	logger    *zap.Logger
}

type Config struct {
	// MaxRetries is the receive count after which a failing delivery is
	// marked technical-failure.
	MaxRetries   int
	Concurrency  int
	PollInterval time.Duration
	// LockedDelay hides a task whose notification another worker holds.
	LockedDelay time.Duration
}

func New(queue Queue, deliverer Deliverer, statuses StatusStore, locker Locker, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LockedDelay == 0 {
		cfg.LockedDelay = 30 * time.Second
	}

	return &Worker{
		queue:     queue,
		deliverer: deliverer,
		statuses:  statuses,
		locker:    locker,
		config:    cfg,
		logger:    logger,
	}
}

// Start polls until ctx is cancelled. Receive errors back off for one poll
// interval.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Int("concurrency", w.config.Concurrency),
		zap.Int("max_retries", w.config.MaxRetries),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}

		messages, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to receive tasks", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		w.processBatch(ctx, messages)
	}
}

func (w *Worker) processBatch(ctx context.Context, messages []sqs.Received) {
	var eg errgroup.Group
	eg.SetLimit(w.config.Concurrency)
	for _, msg := range messages {
		eg.Go(func() error {
			result := w.process(ctx, msg)
			metrics.RecordTask(msg.Task, result)
			return nil
		})
	}
	_ = eg.Wait()
}

func (w *Worker) process(ctx context.Context, msg sqs.Received) string {
	switch msg.Task {
	case sqs.TaskDeliverSMS, sqs.TaskDeliverEmail:
		return w.processDelivery(ctx, msg)
	case sqs.TaskProcessReceipt:
		return w.processReceipt(ctx, msg)
	default:
		w.logger.Error("unknown task, dropping", zap.String("task", msg.Task))
		w.ack(ctx, msg)
		return "unknown"
	}
}

func (w *Worker) processDelivery(ctx context.Context, msg sqs.Received) string {
	id, err := uuid.Parse(msg.NotificationID)
	if err != nil {
		w.logger.Error("invalid notification id, dropping",
			zap.String("notification_id", msg.NotificationID),
			zap.Error(err),
		)
		w.ack(ctx, msg)
		return "invalid"
	}

	locked, err := w.locker.Acquire(ctx, msg.NotificationID)
	if err != nil {
		w.logger.Error("failed to acquire delivery lock",
			zap.String("notification_id", msg.NotificationID),
			zap.Error(err),
		)
		return "lock_error"
	}
	if !locked {
		w.delay(ctx, msg, w.config.LockedDelay)
		return "locked"
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), msg.NotificationID); err != nil {
			w.logger.Warn("failed to release delivery lock",
				zap.String("notification_id", msg.NotificationID),
				zap.Error(err),
			)
		}
	}()

	err = w.deliverer.Deliver(ctx, id)
	switch {
	case err == nil:
		w.ack(ctx, msg)
		return "ok"
	case errors.Is(err, delivery.ErrTechnicalFailure):
		w.ack(ctx, msg)
		return "technical_failure"
	case errors.Is(err, db.ErrNotFound):
		w.logger.Warn("notification not found, dropping",
			zap.String("notification_id", msg.NotificationID),
		)
		w.ack(ctx, msg)
		return "not_found"
	}

	if msg.ReceiveCount >= w.config.MaxRetries {
		w.logger.Error("delivery retries exhausted",
			zap.String("notification_id", msg.NotificationID),
			zap.Int("attempts", msg.ReceiveCount),
			zap.Error(err),
		)
		if _, err := w.statuses.UpdateStatusUnlessCompleted(ctx, id, db.StatusTechnicalFailure); err != nil {
			w.logger.Error("failed to mark notification technical-failure",
				zap.String("notification_id", msg.NotificationID),
				zap.Error(err),
			)
			return "error"
		}
		w.ack(ctx, msg)
		return "exhausted"
	}

	w.logger.Warn("delivery failed, will retry",
		zap.String("notification_id", msg.NotificationID),
		zap.Int("attempt", msg.ReceiveCount),
		zap.Error(err),
	)
	w.delay(ctx, msg, retryDelay(msg.ReceiveCount))
	return "retry"
}

var receiptStatuses = map[string]bool{
	db.StatusDelivered:        true,
	db.StatusPermanentFailure: true,
	db.StatusTemporaryFailure: true,
}

func (w *Worker) processReceipt(ctx context.Context, msg sqs.Received) string {
	if !receiptStatuses[msg.Status] || msg.Reference == "" {
		w.logger.Error("invalid receipt, dropping",
			zap.String("reference", msg.Reference),
			zap.String("status", msg.Status),
		)
		w.ack(ctx, msg)
		return "invalid"
	}

	changed, err := w.statuses.UpdateStatusByReference(ctx, msg.Reference, msg.Status)
	if err != nil {
		w.logger.Error("failed to apply receipt",
			zap.String("reference", msg.Reference),
			zap.Error(err),
		)
		return "error"
	}
	if !changed {
		w.logger.Debug("receipt ignored, notification missing or completed",
			zap.String("reference", msg.Reference),
			zap.String("provider", msg.Provider),
		)
	}

	w.ack(ctx, msg)
	return "ok"
}

func (w *Worker) ack(ctx context.Context, msg sqs.Received) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete task", zap.String("task", msg.Task), zap.Error(err))
	}
}

func (w *Worker) delay(ctx context.Context, msg sqs.Received, d time.Duration) {
	if err := w.queue.ChangeVisibility(ctx, msg.ReceiptHandle, int32(d.Seconds())); err != nil {
		w.logger.Error("failed to delay task", zap.String("task", msg.Task), zap.Error(err))
	}
}

// retryDelay grows with each failed attempt.
func retryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
