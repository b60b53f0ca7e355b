package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// priorityStep is how far a failing provider moves down the order.
	priorityStep = 10
	maxPriority  = 100
)

// ProvidersByType lists every provider for a notification type that can
// serve the international flag, lowest priority number first.
func (r *Repository) ProvidersByType(ctx context.Context, notificationType string, international bool) ([]ProviderDetails, error) {
	query := `
		SELECT id, identifier, display_name, notification_type, active,
			priority, supports_international, updated_at
		FROM provider_details
		WHERE notification_type = $1 AND ($2 = false OR supports_international)
		ORDER BY priority ASC, identifier ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, notificationType, international)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var providers []ProviderDetails
	for rows.Next() {
		var p ProviderDetails
		err := rows.Scan(
			&p.ID,
			&p.Identifier,
			&p.DisplayName,
			&p.NotificationType,
			&p.Active,
			&p.Priority,
			&p.SupportsInternational,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return providers, nil
}

// ReducePriority pushes a provider down the order unless it was already
// changed within threshold. It reports whether the row changed.
func (r *Repository) ReducePriority(ctx context.Context, identifier string, threshold time.Duration) (bool, error) {
	query := `
		UPDATE provider_details
		SET priority = LEAST(priority + $1, $2), updated_at = NOW()
		WHERE identifier = $3 AND updated_at < NOW() - make_interval(secs => $4)
	`

	result, err := r.db.Pool().Exec(ctx, query, priorityStep, maxPriority, identifier, threshold.Seconds())
	if err != nil {
		r.logger.Error("failed to reduce provider priority",
			zap.Error(err),
			zap.String("provider", identifier),
		)
		return false, fmt.Errorf("reduce provider priority: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
