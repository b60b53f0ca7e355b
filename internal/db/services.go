package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// GetService retrieves a service by ID
func (r *Repository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	query := `
		SELECT id, name, active, prefix_sms, email_from, created_at
		FROM services
		WHERE id = $1
	`

	var s Service
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.Active,
		&s.PrefixSMS,
		&s.EmailFrom,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get service",
			zap.Error(err),
			zap.String("service_id", id.String()),
		)
		return nil, fmt.Errorf("query service: %w", err)
	}

	return &s, nil
}

// ServiceSMSSenders lists the unarchived SMS senders of a service.
func (r *Repository) ServiceSMSSenders(ctx context.Context, serviceID uuid.UUID) ([]ServiceSMSSender, error) {
	query := `
		SELECT id, service_id, sms_sender, is_default, archived
		FROM service_sms_senders
		WHERE service_id = $1 AND NOT archived
		ORDER BY is_default DESC, sms_sender
	`

	rows, err := r.db.Pool().Query(ctx, query, serviceID)
	if err != nil {
		return nil, fmt.Errorf("query sms senders: %w", err)
	}
	defer rows.Close()

	var senders []ServiceSMSSender
	for rows.Next() {
		var s ServiceSMSSender
		if err := rows.Scan(&s.ID, &s.ServiceID, &s.SMSSender, &s.IsDefault, &s.Archived); err != nil {
			return nil, fmt.Errorf("scan sms sender: %w", err)
		}
		senders = append(senders, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return senders, nil
}

// GetTemplateVersion retrieves one version of a service's template.
func (r *Repository) GetTemplateVersion(ctx context.Context, serviceID, templateID uuid.UUID, version int) (*Template, error) {
	query := `
		SELECT id, service_id, version, name, template_type, COALESCE(subject, ''), content
		FROM template_versions
		WHERE service_id = $1 AND id = $2 AND version = $3
	`

	var t Template
	err := r.db.Pool().QueryRow(ctx, query, serviceID, templateID, version).Scan(
		&t.ID,
		&t.ServiceID,
		&t.Version,
		&t.Name,
		&t.TemplateType,
		&t.Subject,
		&t.Content,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s version %d: %w", templateID, version, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get template",
			zap.Error(err),
			zap.String("template_id", templateID.String()),
			zap.Int("version", version),
		)
		return nil, fmt.Errorf("query template: %w", err)
	}

	return &t, nil
}
