// Package delivery sends a notification to its provider and moves it
// through created, sending and the failure statuses.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/provider"
	"github.com/lalithlochan/notify/internal/template"
)

// DefaultPriorityThreshold is how recently a provider may have been demoted
// before another failure demotes it again.
const DefaultPriorityThreshold = time.Minute

type NotificationStore interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	UpdateNotification(ctx context.Context, n *db.Notification) error
}

type ServiceStore interface {
	GetService(ctx context.Context, id uuid.UUID) (*db.Service, error)
	ServiceSMSSenders(ctx context.Context, serviceID uuid.UUID) ([]db.ServiceSMSSender, error)
}

type TemplateStore interface {
	GetTemplateVersion(ctx context.Context, serviceID, templateID uuid.UUID, version int) (*db.Template, error)
}

// JobLookup resolves recipients and personalisation from job CSVs.
type JobLookup interface {
	PhoneNumber(ctx context.Context, serviceID, jobID string, row int) string
	Personalisation(ctx context.Context, serviceID, jobID string, row int) (map[string]string, bool)
}

type ProviderSelector interface {
	SMSProvider(ctx context.Context, international bool) (provider.SMSClient, error)
	EmailProvider(ctx context.Context) (provider.EmailClient, error)
	ReducePriority(ctx context.Context, identifier string, threshold time.Duration) error
}

// KV is the shared short-lived store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	IncrDailyTotal(ctx context.Context, serviceID string, now time.Time) (int64, error)
}

// Simulator fakes provider receipts for notifications sent with a test key.
type Simulator interface {
	SendSMSResponse(ctx context.Context, providerName, reference string) error
	SendEmailResponse(ctx context.Context, reference, to string) error
}

// Deps are the collaborators a Dispatcher needs.
type Deps struct {
	Notifications NotificationStore
	Services      ServiceStore
	Templates     TemplateStore
	Jobs          JobLookup
	Providers     ProviderSelector
	KV            KV
	Simulator     Simulator
}

type Config struct {
	// Environment "test" sends 10 digit numbers without the US prefix.
	Environment       string
	EmailDomain       string
	PriorityThreshold time.Duration
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	deps     Deps
	cfg      Config
	renderer *template.EmailRenderer
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(deps Deps, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PriorityThreshold <= 0 {
		cfg.PriorityThreshold = DefaultPriorityThreshold
	}
	return &Dispatcher{
		deps:     deps,
		cfg:      cfg,
		renderer: template.NewEmailRenderer(),
		logger:   logger,
		now:      time.Now,
	}
}

// Deliver loads a notification and sends it through the matching channel.
func (d *Dispatcher) Deliver(ctx context.Context, id uuid.UUID) error {
	n, err := d.deps.Notifications.GetNotification(ctx, id)
	if err != nil {
		return err
	}

	switch n.NotificationType {
	case db.TypeSMS:
		return d.SendSMSToProvider(ctx, n)
	case db.TypeEmail:
		return d.SendEmailToProvider(ctx, n)
	default:
		return fmt.Errorf("unsupported notification type: %s", n.NotificationType)
	}
}

// UpdateNotificationToSending stamps the provider and send time. The status
// only moves to sending if the notification has not already completed.
func (d *Dispatcher) UpdateNotificationToSending(ctx context.Context, n *db.Notification, providerName string) error {
	now := d.now().UTC()
	n.SentAt = &now
	n.SentBy = &providerName
	if !db.IsCompleted(n.Status) {
		n.Status = db.StatusSending
	}

	if err := d.deps.Notifications.UpdateNotification(ctx, n); err != nil {
		return fmt.Errorf("update notification to sending: %w", err)
	}
	return nil
}

func (d *Dispatcher) technicalFailure(ctx context.Context, n *db.Notification, cause error) error {
	n.Status = db.StatusTechnicalFailure
	if err := d.deps.Notifications.UpdateNotification(ctx, n); err != nil {
		d.logger.Error("failed to persist technical failure",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}

	d.logger.Error("notification technical failure",
		zap.String("notification_id", n.ID.String()),
		zap.String("service_id", n.ServiceID.String()),
		zap.Error(cause),
	)
	metrics.RecordDispatch(n.NotificationType, "technical_failure")
	return fmt.Errorf("%w: %w", ErrTechnicalFailure, cause)
}

// providerFailed records the attempt and demotes the provider. The send
// error is returned for the queue to retry.
func (d *Dispatcher) providerFailed(ctx context.Context, n *db.Notification, providerName string, sendErr error) error {
	if err := d.deps.Notifications.UpdateNotification(ctx, n); err != nil {
		d.logger.Error("failed to persist failed send",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}

	if ctx.Err() == nil && !errors.Is(sendErr, provider.ErrInvalidRecipient) {
		if err := d.deps.Providers.ReducePriority(ctx, providerName, d.cfg.PriorityThreshold); err != nil {
			d.logger.Error("failed to reduce provider priority",
				zap.String("provider", providerName),
				zap.Error(err),
			)
		}
	}

	d.logger.Warn("provider send failed",
		zap.String("notification_id", n.ID.String()),
		zap.String("provider", providerName),
		zap.Error(sendErr),
	)
	metrics.RecordDispatch(n.NotificationType, "provider_error")
	return fmt.Errorf("send %s via %s: %w", n.NotificationType, providerName, sendErr)
}

func (d *Dispatcher) isTestEnvironment() bool {
	return d.cfg.Environment == "test"
}
