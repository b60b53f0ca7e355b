package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/provider"
	"github.com/lalithlochan/notify/internal/redis"
)

// SendEmailToProvider sends a created email notification. It follows the
// same rules as SendSMSToProvider; the recipient and personalisation are
// staged in the shared store rather than read from a job CSV.
func (d *Dispatcher) SendEmailToProvider(ctx context.Context, n *db.Notification) error {
	if n.Status != db.StatusCreated {
		d.logger.Debug("skipping email not in created status",
			zap.String("notification_id", n.ID.String()),
			zap.String("status", n.Status),
		)
		return nil
	}

	svc, err := d.service(ctx, n.ServiceID)
	if err != nil {
		return fmt.Errorf("load service: %w", err)
	}
	if !svc.Active {
		return d.technicalFailure(ctx, n, fmt.Errorf("service %s is inactive", svc.ID))
	}

	to := d.emailRecipient(ctx, n)
	d.emailPersonalisation(ctx, n)

	client, err := d.deps.Providers.EmailProvider(ctx)
	if errors.Is(err, provider.ErrNoActiveProvider) {
		return d.technicalFailure(ctx, n, err)
	}
	if err != nil {
		return fmt.Errorf("select email provider: %w", err)
	}

	tmpl, err := d.templateVersion(ctx, n)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	msg, err := d.renderer.Render(tmpl.Subject, tmpl.Content, n.Personalisation)
	if err != nil {
		return d.technicalFailure(ctx, n, err)
	}

	if n.KeyType == db.KeyTypeTest {
		reference := uuid.NewString()
		n.Reference = &reference
		if err := d.UpdateNotificationToSending(ctx, n, client.Name()); err != nil {
			return err
		}
		if err := d.deps.Simulator.SendEmailResponse(ctx, reference, to); err != nil {
			return fmt.Errorf("simulate email response: %w", err)
		}
		metrics.RecordDispatch(db.TypeEmail, "simulated")
		return nil
	}

	if to == "" {
		return d.technicalFailure(ctx, n, ErrRecipientUnavailable)
	}

	replyTo := ""
	if n.ReplyToText != nil {
		replyTo = *n.ReplyToText
	}

	reference, err := client.SendEmail(ctx, provider.Email{
		From:     d.fromAddress(svc),
		To:       to,
		Subject:  msg.Subject,
		Body:     msg.Text,
		HTMLBody: msg.HTML,
		ReplyTo:  replyTo,
	})
	if err != nil {
		return d.providerFailed(ctx, n, client.Name(), err)
	}

	n.Reference = &reference
	if err := d.UpdateNotificationToSending(ctx, n, client.Name()); err != nil {
		return err
	}

	metrics.RecordDispatch(db.TypeEmail, "sent")
	return nil
}

func (d *Dispatcher) fromAddress(svc *db.Service) string {
	return fmt.Sprintf(`"%s" <%s@%s>`, svc.Name, svc.EmailFrom, d.cfg.EmailDomain)
}

func (d *Dispatcher) emailRecipient(ctx context.Context, n *db.Notification) string {
	to, ok, err := d.deps.KV.Get(ctx, redis.EmailAddressKey(n.ID.String()))
	if err != nil {
		d.logger.Warn("email address lookup failed",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
	if ok && to != "" {
		return to
	}
	return n.To
}

func (d *Dispatcher) emailPersonalisation(ctx context.Context, n *db.Notification) {
	var values map[string]string
	ok, err := d.deps.KV.GetJSON(ctx, redis.EmailPersonalisationKey(n.ID.String()), &values)
	if err != nil {
		d.logger.Warn("email personalisation lookup failed",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
	if ok && len(values) > 0 {
		n.Personalisation = values
		return
	}
	d.jobPersonalisation(ctx, n)
}
