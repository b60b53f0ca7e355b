package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_http_requests_total",
			Help: "Total ops API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_http_request_duration_seconds",
			Help:    "Ops API request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_job_cache_lookups_total",
			Help: "Job cache lookups by result (hit or miss)",
		},
		[]string{"result"},
	)

	jobCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_job_cache_evictions_total",
			Help: "Job cache evictions by reason",
		},
		[]string{"reason"},
	)

	jobCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_job_cache_entries",
			Help: "Entries currently held by this process's job cache",
		},
	)

	s3Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_s3_job_fetch_attempts_total",
			Help: "Job CSV fetch attempts against object storage by outcome",
		},
		[]string{"outcome"},
	)

	providerSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_provider_sends_total",
			Help: "Provider send calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_provider_send_duration_seconds",
			Help:    "Provider send call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dispatch_total",
			Help: "Dispatch attempts by notification type and outcome",
		},
		[]string{"notification_type", "outcome"},
	)

	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_tasks_processed_total",
			Help: "Queue tasks processed by task name and result",
		},
		[]string{"task", "result"},
	)

	priorityReductions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_provider_priority_reductions_total",
			Help: "Provider priority reductions triggered by send failures",
		},
		[]string{"provider"},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_redis_connections_active",
			Help: "Open Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJobCacheLookup records a job cache hit or miss.
func RecordJobCacheLookup(hit bool) {
	if hit {
		jobCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	jobCacheLookups.WithLabelValues("miss").Inc()
}

// RecordJobCacheEviction records an entry leaving the job cache.
func RecordJobCacheEviction(reason string) {
	jobCacheEvictions.WithLabelValues(reason).Inc()
}

// SetJobCacheEntries sets the job cache size gauge.
func SetJobCacheEntries(n int) {
	jobCacheEntries.Set(float64(n))
}

// RecordS3Attempt records one job fetch attempt.
// Outcomes: ok, throttled, not_found, error.
func RecordS3Attempt(outcome string) {
	s3Attempts.WithLabelValues(outcome).Inc()
}

// RecordProviderSend records a provider call and its latency.
func RecordProviderSend(provider string, err error, latency time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerSends.WithLabelValues(provider, outcome).Inc()
	providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordDispatch records the result of one dispatch call.
func RecordDispatch(notificationType, outcome string) {
	dispatchOutcomes.WithLabelValues(notificationType, outcome).Inc()
}

// RecordTask records a processed queue task.
func RecordTask(task, result string) {
	tasksProcessed.WithLabelValues(task, result).Inc()
}

// RecordPriorityReduction records a provider being pushed down the order.
func RecordPriorityReduction(provider string) {
	priorityReductions.WithLabelValues(provider).Inc()
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
