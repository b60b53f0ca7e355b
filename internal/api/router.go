package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/redis"
)

// NewRouter wires the ops API. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger, IPKeyFunc))

		r.Get("/providers/{type}", h.ListProviders)
		r.Post("/notifications/{id}/deliver", h.DeliverNotification)
		r.Get("/services/{service_id}/jobs/{job_id}/rows/{row}", h.JobRow)
		r.Delete("/services/{service_id}/jobs/{job_id}", h.DeleteJob)
		r.Get("/jobs/cache", h.CacheStatus)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
