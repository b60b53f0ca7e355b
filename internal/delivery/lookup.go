package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
)

const (
	serviceCacheTTL  = 10 * time.Second
	templateCacheTTL = 7 * 24 * time.Hour
)

func ServiceCacheKey(serviceID uuid.UUID) string {
	return "service-" + serviceID.String()
}

func TemplateCacheKey(serviceID, templateID uuid.UUID, version int) string {
	return fmt.Sprintf("service-%s-template-%s-version-%d", serviceID, templateID, version)
}

// service reads through the shared store so a burst of sends for one service
// costs one query.
func (d *Dispatcher) service(ctx context.Context, id uuid.UUID) (*db.Service, error) {
	key := ServiceCacheKey(id)

	var cached db.Service
	ok, err := d.deps.KV.GetJSON(ctx, key, &cached)
	if err != nil {
		d.logger.Warn("service cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		return &cached, nil
	}

	svc, err := d.deps.Services.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.deps.KV.SetJSON(ctx, key, svc, serviceCacheTTL); err != nil {
		d.logger.Warn("service cache write failed", zap.String("key", key), zap.Error(err))
	}
	return svc, nil
}

// templateVersion reads through the shared store. Versions never change once written.
func (d *Dispatcher) templateVersion(ctx context.Context, n *db.Notification) (*db.Template, error) {
	key := TemplateCacheKey(n.ServiceID, n.TemplateID, n.TemplateVersion)

	var cached db.Template
	ok, err := d.deps.KV.GetJSON(ctx, key, &cached)
	if err != nil {
		d.logger.Warn("template cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		return &cached, nil
	}

	tmpl, err := d.deps.Templates.GetTemplateVersion(ctx, n.ServiceID, n.TemplateID, n.TemplateVersion)
	if err != nil {
		return nil, err
	}
	if err := d.deps.KV.SetJSON(ctx, key, tmpl, templateCacheTTL); err != nil {
		d.logger.Warn("template cache write failed", zap.String("key", key), zap.Error(err))
	}
	return tmpl, nil
}

// jobPersonalisation fills n.Personalisation from its job row when the
// notification came from a CSV upload and carries none of its own.
func (d *Dispatcher) jobPersonalisation(ctx context.Context, n *db.Notification) {
	if len(n.Personalisation) > 0 || n.JobID == nil || n.JobRowNumber == nil {
		return
	}

	values, ok := d.deps.Jobs.Personalisation(ctx, n.ServiceID.String(), n.JobID.String(), *n.JobRowNumber)
	if !ok {
		d.logger.Warn("no personalisation found for job row",
			zap.String("notification_id", n.ID.String()),
			zap.String("job_id", n.JobID.String()),
			zap.Int("row", *n.JobRowNumber),
		)
		return
	}
	n.Personalisation = values
}
