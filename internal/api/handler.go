package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/circuitbreaker"
	"github.com/lalithlochan/notify/internal/db"
)

type NotificationReader interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
}

// DeliveryQueue hands a notification to the workers.
type DeliveryQueue interface {
	EnqueueDelivery(ctx context.Context, id uuid.UUID, notificationType string) (string, error)
}

type ProviderLister interface {
	Providers(ctx context.Context, notificationType string, international bool) ([]db.ProviderDetails, error)
}

type BreakerLister interface {
	Breakers() []circuitbreaker.Stats
}

// JobStore is the job CSV storage as seen by operators.
type JobStore interface {
	RemoveJob(ctx context.Context, serviceID, jobID string) error
	PhoneNumber(ctx context.Context, serviceID, jobID string, row int) string
	Personalisation(ctx context.Context, serviceID, jobID string, row int) (map[string]string, bool)
}

type CacheStats interface {
	Len() int
	TTL() time.Duration
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Deps struct {
	Notifications NotificationReader
	Queue         DeliveryQueue
	Providers     ProviderLister
	Breakers      BreakerLister
	Jobs          JobStore
	Cache         CacheStats
	Checks        map[string]HealthCheck
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	deps   Deps
}

func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	return &Handler{logger: logger, deps: deps}
}

// Health handles GET /health. Every check must pass for a 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.deps.Checks))
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, status, results)
}

// ProviderStatus is one provider's row and, when it is wrapped in a breaker,
// the breaker's state.
type ProviderStatus struct {
	db.ProviderDetails
	Breaker *circuitbreaker.Stats `json:"breaker,omitempty"`
}

// ListProviders handles GET /v1/providers/{type}?international=true
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	notificationType := chi.URLParam(r, "type")
	if notificationType != db.TypeSMS && notificationType != db.TypeEmail {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification type", "type must be sms or email")
		return
	}

	international := false
	if v := r.URL.Query().Get("international"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid international flag", err.Error())
			return
		}
		international = parsed
	}

	providers, err := h.deps.Providers.Providers(r.Context(), notificationType, international)
	if err != nil {
		h.logger.Error("failed to list providers", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list providers", "")
		return
	}

	breakers := make(map[string]circuitbreaker.Stats)
	if h.deps.Breakers != nil {
		for _, s := range h.deps.Breakers.Breakers() {
			breakers[s.Name] = s
		}
	}

	out := make([]ProviderStatus, 0, len(providers))
	for _, p := range providers {
		status := ProviderStatus{ProviderDetails: p}
		if s, ok := breakers[p.Identifier]; ok {
			status.Breaker = &s
		}
		out = append(out, status)
	}

	writeJSON(w, http.StatusOK, out)
}

// DeliverNotification handles POST /v1/notifications/{id}/deliver
func (h *Handler) DeliverNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	n, err := h.deps.Notifications.GetNotification(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load notification", "")
		return
	}

	if n.Status != db.StatusCreated {
		h.writeError(w, http.StatusConflict, "invalid_state", "Notification already processed",
			"status is "+n.Status)
		return
	}

	messageID, err := h.deps.Queue.EnqueueDelivery(ctx, n.ID, n.NotificationType)
	if err != nil {
		h.logger.Error("failed to enqueue delivery", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Failed to queue delivery", "")
		return
	}

	h.logger.Info("notification queued for delivery",
		zap.String("id", n.ID.String()),
		zap.String("type", n.NotificationType),
		zap.String("message_id", messageID),
	)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         n.ID.String(),
		"message_id": messageID,
	})
}

// JobRow handles GET /v1/services/{service_id}/jobs/{job_id}/rows/{row}
func (h *Handler) JobRow(w http.ResponseWriter, r *http.Request) {
	serviceID, jobID, ok := h.jobParams(w, r)
	if !ok {
		return
	}

	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid row", "row must be a non-negative integer")
		return
	}

	ctx := r.Context()
	phone := h.deps.Jobs.PhoneNumber(ctx, serviceID, jobID, row)
	personalisation, _ := h.deps.Jobs.Personalisation(ctx, serviceID, jobID, row)

	writeJSON(w, http.StatusOK, map[string]any{
		"row":             row,
		"phone_number":    phone,
		"personalisation": personalisation,
	})
}

// DeleteJob handles DELETE /v1/services/{service_id}/jobs/{job_id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	serviceID, jobID, ok := h.jobParams(w, r)
	if !ok {
		return
	}

	if err := h.deps.Jobs.RemoveJob(r.Context(), serviceID, jobID); err != nil {
		h.logger.Error("failed to remove job", zap.Error(err), zap.String("job_id", jobID))
		h.writeError(w, http.StatusBadGateway, "storage_error", "Failed to remove job", "")
		return
	}

	h.logger.Info("job removed", zap.String("service_id", serviceID), zap.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// CacheStatus handles GET /v1/jobs/cache
func (h *Handler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     h.deps.Cache.Len(),
		"ttl_seconds": int64(h.deps.Cache.TTL().Seconds()),
	})
}

func (h *Handler) jobParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	serviceID := chi.URLParam(r, "service_id")
	jobID := chi.URLParam(r, "job_id")
	if _, err := uuid.Parse(serviceID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid service_id", "service_id must be a valid UUID")
		return "", "", false
	}
	if _, err := uuid.Parse(jobID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid job_id", "job_id must be a valid UUID")
		return "", "", false
	}
	return serviceID, jobID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
