package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/csvjob"
	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/provider"
	"github.com/lalithlochan/notify/internal/redis"
	"github.com/lalithlochan/notify/internal/template"
)

// SendSMSToProvider sends a created SMS notification. Notifications in any
// other status are left alone, so a redelivered task never sends twice.
//
// An inactive service, no active provider, a disallowed sender or a
// missing or unparseable recipient move the notification to technical-failure and
// return ErrTechnicalFailure. A provider error is returned as is after the
// billable units are saved and the provider is demoted. Store read errors
// are returned as is so the task is retried.
func (d *Dispatcher) SendSMSToProvider(ctx context.Context, n *db.Notification) error {
	if n.Status != db.StatusCreated {
		d.logger.Debug("skipping sms not in created status",
			zap.String("notification_id", n.ID.String()),
			zap.String("status", n.Status),
		)
		return nil
	}

	d.jobPersonalisation(ctx, n)

	svc, err := d.service(ctx, n.ServiceID)
	if err != nil {
		return fmt.Errorf("load service: %w", err)
	}
	if !svc.Active {
		return d.technicalFailure(ctx, n, fmt.Errorf("service %s is inactive", svc.ID))
	}

	client, err := d.deps.Providers.SMSProvider(ctx, n.International)
	if errors.Is(err, provider.ErrNoActiveProvider) {
		return d.technicalFailure(ctx, n, err)
	}
	if err != nil {
		return fmt.Errorf("select sms provider: %w", err)
	}

	tmpl, err := d.templateVersion(ctx, n)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	prefix := ""
	if svc.PrefixSMS {
		prefix = svc.Name
	}
	msg := template.RenderSMS(tmpl.Content, n.Personalisation, prefix)

	if n.KeyType == db.KeyTypeTest {
		reference := n.ID.String()
		n.Reference = &reference
		if err := d.UpdateNotificationToSending(ctx, n, client.Name()); err != nil {
			return err
		}
		if err := d.deps.Simulator.SendSMSResponse(ctx, client.Name(), reference); err != nil {
			return fmt.Errorf("simulate sms response: %w", err)
		}
		metrics.RecordDispatch(db.TypeSMS, "simulated")
		return nil
	}

	to := d.smsRecipient(ctx, n)
	if to == "" || to == csvjob.Unavailable {
		return d.technicalFailure(ctx, n, ErrRecipientUnavailable)
	}
	if _, err := provider.FormatE164(to); err != nil {
		return d.technicalFailure(ctx, n, fmt.Errorf("%w: %w", ErrRecipientUnavailable, err))
	}

	sender, err := d.smsSender(ctx, n)
	if errors.Is(err, ErrSenderNotAllowed) {
		return d.technicalFailure(ctx, n, err)
	}
	if err != nil {
		return err
	}

	messageID, err := client.SendSMS(ctx, provider.SMS{
		To:            to,
		Content:       msg.Content,
		Reference:     n.ID.String(),
		Sender:        sender,
		International: n.International,
	})
	n.BillableUnits = msg.FragmentCount
	if err != nil {
		return d.providerFailed(ctx, n, client.Name(), err)
	}

	n.Reference = &messageID
	if err := d.UpdateNotificationToSending(ctx, n, client.Name()); err != nil {
		return err
	}

	if _, err := d.deps.KV.IncrDailyTotal(ctx, n.ServiceID.String(), d.now()); err != nil {
		d.logger.Warn("failed to increment daily send count",
			zap.String("service_id", n.ServiceID.String()),
			zap.Error(err),
		)
	}

	metrics.RecordDispatch(db.TypeSMS, "sent")
	return nil
}

// smsRecipient checks the verification code store first, then the job CSV,
// then the stored address. A 10 digit number gets the US country code
// outside the test environment.
func (d *Dispatcher) smsRecipient(ctx context.Context, n *db.Notification) string {
	to, ok, err := d.deps.KV.Get(ctx, redis.VerifyCodeKey(n.ID.String()))
	if err != nil {
		d.logger.Warn("verification code lookup failed",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}

	if !ok || to == "" {
		switch {
		case n.JobID != nil && n.JobRowNumber != nil:
			to = d.deps.Jobs.PhoneNumber(ctx, n.ServiceID.String(), n.JobID.String(), *n.JobRowNumber)
		default:
			to = n.To
		}
	}

	if len(to) == 10 && !d.isTestEnvironment() {
		to = "1" + to
	}
	return to
}

// smsSender returns reply_to_text when the service owns it, or the default
// sender when the notification names none.
func (d *Dispatcher) smsSender(ctx context.Context, n *db.Notification) (string, error) {
	senders, err := d.deps.Services.ServiceSMSSenders(ctx, n.ServiceID)
	if err != nil {
		return "", fmt.Errorf("load sms senders: %w", err)
	}

	if n.ReplyToText == nil || *n.ReplyToText == "" {
		for _, s := range senders {
			if s.IsDefault {
				return s.SMSSender, nil
			}
		}
		return "", nil
	}

	for _, s := range senders {
		if s.SMSSender == *n.ReplyToText {
			return s.SMSSender, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSenderNotAllowed, *n.ReplyToText)
}
