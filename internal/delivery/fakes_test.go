package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/provider"
	"github.com/lalithlochan/notify/internal/redis"
)

type fakeNotifications struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*db.Notification
	updates []db.Notification
}

func (f *fakeNotifications) GetNotification(_ context.Context, id uuid.UUID) (*db.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNotifications) UpdateNotification(_ context.Context, n *db.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *n)
	return nil
}

func (f *fakeNotifications) lastUpdate(t *testing.T) db.Notification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		t.Fatal("notification was never persisted")
	}
	return f.updates[len(f.updates)-1]
}

type fakeServices struct {
	service    *db.Service
	senders    []db.ServiceSMSSender
	sendersErr error
	loads      int
}

func (f *fakeServices) GetService(_ context.Context, id uuid.UUID) (*db.Service, error) {
	f.loads++
	if f.service == nil || f.service.ID != id {
		return nil, fmt.Errorf("service %s: %w", id, db.ErrNotFound)
	}
	cp := *f.service
	return &cp, nil
}

func (f *fakeServices) ServiceSMSSenders(context.Context, uuid.UUID) ([]db.ServiceSMSSender, error) {
	if f.sendersErr != nil {
		return nil, f.sendersErr
	}
	return f.senders, nil
}

type fakeTemplates struct {
	template *db.Template
}

func (f *fakeTemplates) GetTemplateVersion(context.Context, uuid.UUID, uuid.UUID, int) (*db.Template, error) {
	cp := *f.template
	return &cp, nil
}

type fakeJobs struct {
	phones          map[int]string
	personalisation map[int]map[string]string
	phoneLookups    int
}

func (f *fakeJobs) PhoneNumber(_ context.Context, _, _ string, row int) string {
	f.phoneLookups++
	if p, ok := f.phones[row]; ok && p != "" {
		return p
	}
	return "Unavailable"
}

func (f *fakeJobs) Personalisation(_ context.Context, _, _ string, row int) (map[string]string, bool) {
	p, ok := f.personalisation[row]
	return p, ok
}

type fakeSMSClient struct {
	name string
	sent []provider.SMS
	err  error
}

func (f *fakeSMSClient) Name() string { return f.name }

func (f *fakeSMSClient) SendSMS(_ context.Context, msg provider.SMS) (string, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return "", f.err
	}
	return "message-" + msg.Reference, nil
}

type fakeEmailClient struct {
	name string
	sent []provider.Email
	err  error
}

func (f *fakeEmailClient) Name() string { return f.name }

func (f *fakeEmailClient) SendEmail(_ context.Context, msg provider.Email) (string, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return "", f.err
	}
	return "ses-ref-1", nil
}

type reduction struct {
	identifier string
	threshold  time.Duration
}

type fakeProviders struct {
	sms        *fakeSMSClient
	email      *fakeEmailClient
	err        error
	reductions []reduction
}

func (f *fakeProviders) SMSProvider(context.Context, bool) (provider.SMSClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sms, nil
}

func (f *fakeProviders) EmailProvider(context.Context) (provider.EmailClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.email, nil
}

func (f *fakeProviders) ReducePriority(_ context.Context, identifier string, threshold time.Duration) error {
	f.reductions = append(f.reductions, reduction{identifier, threshold})
	return nil
}

type simulated struct {
	provider  string
	reference string
	to        string
}

type fakeSimulator struct {
	sms   []simulated
	email []simulated
}

func (f *fakeSimulator) SendSMSResponse(_ context.Context, providerName, reference string) error {
	f.sms = append(f.sms, simulated{provider: providerName, reference: reference})
	return nil
}

func (f *fakeSimulator) SendEmailResponse(_ context.Context, reference, to string) error {
	f.email = append(f.email, simulated{reference: reference, to: to})
	return nil
}

type harness struct {
	dispatcher    *Dispatcher
	notifications *fakeNotifications
	services      *fakeServices
	templates     *fakeTemplates
	jobs          *fakeJobs
	providers     *fakeProviders
	simulator     *fakeSimulator
	store         *redis.Store
	service       *db.Service
}

func newHarness(t *testing.T, env string) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr(), zap.NewNop())
	t.Cleanup(func() { client.Close() })

	svc := &db.Service{
		ID:        uuid.New(),
		Name:      "Sample service",
		Active:    true,
		PrefixSMS: true,
		EmailFrom: "sample.service",
	}

	h := &harness{
		notifications: &fakeNotifications{byID: make(map[uuid.UUID]*db.Notification)},
		services: &fakeServices{
			service: svc,
			senders: []db.ServiceSMSSender{
				{ServiceID: svc.ID, SMSSender: "+15555550100", IsDefault: true},
				{ServiceID: svc.ID, SMSSender: "+15555550199"},
			},
		},
		templates: &fakeTemplates{template: &db.Template{
			ID:           uuid.New(),
			ServiceID:    svc.ID,
			Version:      1,
			TemplateType: db.TypeSMS,
			Subject:      "Hello ((name))",
			Content:      "Hi ((name)), your appointment is ((day))",
		}},
		jobs: &fakeJobs{
			phones:          map[int]string{0: "5552222222", 1: "447700900123", 2: "abc"},
			personalisation: map[int]map[string]string{0: {"name": "Alice", "day": "Monday"}},
		},
		providers: &fakeProviders{
			sms:   &fakeSMSClient{name: "sns"},
			email: &fakeEmailClient{name: "ses"},
		},
		simulator: &fakeSimulator{},
		store:     redis.NewStore(client, zap.NewNop()),
		service:   svc,
	}

	h.dispatcher = NewDispatcher(Deps{
		Notifications: h.notifications,
		Services:      h.services,
		Templates:     h.templates,
		Jobs:          h.jobs,
		Providers:     h.providers,
		KV:            h.store,
		Simulator:     h.simulator,
	}, Config{Environment: env, EmailDomain: "notify.local"}, zap.NewNop())
	h.dispatcher.now = func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) }

	return h
}

func (h *harness) jobSMS() *db.Notification {
	jobID := uuid.New()
	row := 0
	n := &db.Notification{
		ID:               uuid.New(),
		ServiceID:        h.service.ID,
		TemplateID:       h.templates.template.ID,
		TemplateVersion:  1,
		JobID:            &jobID,
		JobRowNumber:     &row,
		NotificationType: db.TypeSMS,
		KeyType:          db.KeyTypeNormal,
		Status:           db.StatusCreated,
	}
	h.notifications.byID[n.ID] = n
	return n
}

func (h *harness) email(to string) *db.Notification {
	h.templates.template.TemplateType = db.TypeEmail
	n := &db.Notification{
		ID:               uuid.New(),
		ServiceID:        h.service.ID,
		TemplateID:       h.templates.template.ID,
		TemplateVersion:  1,
		To:               to,
		NotificationType: db.TypeEmail,
		KeyType:          db.KeyTypeNormal,
		Status:           db.StatusCreated,
	}
	h.notifications.byID[n.ID] = n
	return n
}

func strPtr(s string) *string { return &s }
