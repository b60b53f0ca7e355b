package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, service_id, template_id, original_file_name,
			notification_count, archived, created_at
		FROM jobs
		WHERE id = $1
	`

	var j Job
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&j.ID,
		&j.ServiceID,
		&j.TemplateID,
		&j.OriginalFileName,
		&j.NotificationCount,
		&j.Archived,
		&j.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	return &j, nil
}

// JobsOlderThan lists unarchived jobs created before cutoff, oldest first.
func (r *Repository) JobsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	query := `
		SELECT id, service_id, template_id, original_file_name,
			notification_count, archived, created_at
		FROM jobs
		WHERE NOT archived AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query old jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		err := rows.Scan(
			&j.ID,
			&j.ServiceID,
			&j.TemplateID,
			&j.OriginalFileName,
			&j.NotificationCount,
			&j.Archived,
			&j.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return jobs, nil
}

// MarkJobArchived flags a job whose CSV has been removed from storage.
func (r *Repository) MarkJobArchived(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `UPDATE jobs SET archived = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}
