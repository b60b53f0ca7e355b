package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the delivery worker
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, service_id, template_id, template_version, job_id, job_row_number,
	to_address, notification_type, key_type, status, billable_units,
	sent_at, sent_by, reference, reply_to_text, personalisation,
	international, created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.ServiceID,
		&n.TemplateID,
		&n.TemplateVersion,
		&n.JobID,
		&n.JobRowNumber,
		&n.To,
		&n.NotificationType,
		&n.KeyType,
		&n.Status,
		&n.BillableUnits,
		&n.SentAt,
		&n.SentBy,
		&n.Reference,
		&n.ReplyToText,
		&n.Personalisation,
		&n.International,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification inserts a new notification
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, service_id, template_id, template_version, job_id, job_row_number,
			to_address, notification_type, key_type, status, reply_to_text,
			personalisation, international
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.ServiceID,
		n.TemplateID,
		n.TemplateVersion,
		n.JobID,
		n.JobRowNumber,
		n.To,
		n.NotificationType,
		n.KeyType,
		n.Status,
		n.ReplyToText,
		n.Personalisation,
		n.International,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return n, nil
}

// UpdateNotification persists the fields dispatch changes.
func (r *Repository) UpdateNotification(ctx context.Context, n *Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, billable_units = $2, sent_at = $3, sent_by = $4,
			reference = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		n.Status,
		n.BillableUnits,
		n.SentAt,
		n.SentBy,
		n.Reference,
		n.ID,
	).Scan(&n.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to update notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("update notification: %w", err)
	}

	return nil
}

// UpdateStatusUnlessCompleted moves a notification to status unless it has
// already reached a completed status. It reports whether the row changed.
func (r *Repository) UpdateStatusUnlessCompleted(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND NOT (status = ANY($3))
	`

	result, err := r.db.Pool().Exec(ctx, query, status, id, CompletedStatuses)
	if err != nil {
		r.logger.Error("failed to update notification status",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return false, fmt.Errorf("update notification status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// UpdateStatusByReference applies a provider receipt to the notification the
// provider knows by reference. Completed notifications are left as they are.
func (r *Repository) UpdateStatusByReference(ctx context.Context, reference, status string) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE reference = $2 AND NOT (status = ANY($3))
	`

	result, err := r.db.Pool().Exec(ctx, query, status, reference, CompletedStatuses)
	if err != nil {
		r.logger.Error("failed to apply receipt",
			zap.Error(err),
			zap.String("reference", reference),
		)
		return false, fmt.Errorf("update notification by reference: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
