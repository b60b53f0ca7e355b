package db

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Notification represents a notification in the database
type Notification struct {
	ID               uuid.UUID         `json:"id"`
	ServiceID        uuid.UUID         `json:"service_id"`
	TemplateID       uuid.UUID         `json:"template_id"`
	TemplateVersion  int               `json:"template_version"`
	JobID            *uuid.UUID        `json:"job_id,omitempty"`
	JobRowNumber     *int              `json:"job_row_number,omitempty"`
	To               string            `json:"to"`
	NotificationType string            `json:"notification_type"`
	KeyType          string            `json:"key_type"`
	Status           string            `json:"status"`
	BillableUnits    int               `json:"billable_units"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	SentBy           *string           `json:"sent_by,omitempty"`
	Reference        *string           `json:"reference,omitempty"`
	ReplyToText      *string           `json:"reply_to_text,omitempty"`
	Personalisation  map[string]string `json:"personalisation,omitempty"`
	International    bool              `json:"international"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Status constants
const (
	StatusCreated          = "created"
	StatusSending          = "sending"
	StatusPending          = "pending"
	StatusSent             = "sent"
	StatusDelivered        = "delivered"
	StatusFailed           = "failed"
	StatusTechnicalFailure = "technical-failure"
	StatusTemporaryFailure = "temporary-failure"
	StatusPermanentFailure = "permanent-failure"
	StatusCancelled        = "cancelled"
)

// CompletedStatuses are final. Nothing moves a notification out of them.
var CompletedStatuses = []string{
	StatusSent,
	StatusDelivered,
	StatusFailed,
	StatusTechnicalFailure,
	StatusTemporaryFailure,
	StatusPermanentFailure,
	StatusCancelled,
}

// IsCompleted reports whether status is final.
func IsCompleted(status string) bool {
	return slices.Contains(CompletedStatuses, status)
}

// Notification types
const (
	TypeSMS   = "sms"
	TypeEmail = "email"
)

// Key types
const (
	KeyTypeNormal = "normal"
	KeyTypeTeam   = "team"
	KeyTypeTest   = "test"
)

// Service is a team sending notifications.
type Service struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	PrefixSMS bool      `json:"prefix_sms"`
	EmailFrom string    `json:"email_from"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceSMSSender is a sender identity a service may send SMS from.
type ServiceSMSSender struct {
	ID        uuid.UUID `json:"id"`
	ServiceID uuid.UUID `json:"service_id"`
	SMSSender string    `json:"sms_sender"`
	IsDefault bool      `json:"is_default"`
	Archived  bool      `json:"archived"`
}

// Template is one version of a service's template.
type Template struct {
	ID           uuid.UUID `json:"id"`
	ServiceID    uuid.UUID `json:"service_id"`
	Version      int       `json:"version"`
	Name         string    `json:"name"`
	TemplateType string    `json:"template_type"`
	Subject      string    `json:"subject,omitempty"`
	Content      string    `json:"content"`
}

// ProviderDetails is one delivery vendor integration.
type ProviderDetails struct {
	ID                    uuid.UUID `json:"id"`
	Identifier            string    `json:"identifier"`
	DisplayName           string    `json:"display_name"`
	NotificationType      string    `json:"notification_type"`
	Active                bool      `json:"active"`
	Priority              int       `json:"priority"`
	SupportsInternational bool      `json:"supports_international"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Job is one uploaded CSV of recipients.
type Job struct {
	ID                uuid.UUID `json:"id"`
	ServiceID         uuid.UUID `json:"service_id"`
	TemplateID        uuid.UUID `json:"template_id"`
	OriginalFileName  string    `json:"original_file_name"`
	NotificationCount int       `json:"notification_count"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
}
