package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symposium_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// Chat turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_chat_turns_total",
		Help: "Total number of chat turns by outcome",
	}, []string{"conversation_key", "outcome"})

	tokensCharged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_tokens_charged_total",
		Help: "Total number of tokens charged to users",
	}, []string{"conversation_key"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symposium_ai_request_duration_seconds",
		Help:    "Duration of AI requests",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_ai_requests_total",
		Help: "Total number of AI requests",
	}, []string{"model", "status"})

	// Quota metrics
	quotaDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symposium_quota_denials_total",
		Help: "Total number of turns denied by quota",
	})

	quotaResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_quota_reset_runs_total",
		Help: "Total number of monthly quota reset runs",
	}, []string{"status"})

	accountsReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symposium_quota_accounts_reset_total",
		Help: "Total number of accounts reset by the monthly batch",
	})

	// Idempotency metrics
	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symposium_idempotent_replays_total",
		Help: "Total number of chat responses replayed for a repeated idempotency key",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"route"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symposium_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symposium_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTurn records the outcome of a chat turn
func (m *Metrics) RecordTurn(conversationKey, outcome string) {
	turnsTotal.WithLabelValues(conversationKey, outcome).Inc()
}

// RecordTokensCharged records the tokens a finished turn cost
func (m *Metrics) RecordTokensCharged(conversationKey string, tokens int64) {
	if tokens > 0 {
		tokensCharged.WithLabelValues(conversationKey).Add(float64(tokens))
	}
}

// RecordQuotaDenied records a turn rejected by the quota gate
func (m *Metrics) RecordQuotaDenied() {
	quotaDenials.Inc()
}

// RecordQuotaReset records one run of the monthly reset
func (m *Metrics) RecordQuotaReset(count int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	quotaResets.WithLabelValues(status).Inc()
	accountsReset.Add(float64(count))
}

// RecordAIRequest records an AI request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordIdempotentReplay records a replayed chat response
func (m *Metrics) RecordIdempotentReplay() {
	idempotentReplays.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(route string) {
	rateLimitExceeded.WithLabelValues(route).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
