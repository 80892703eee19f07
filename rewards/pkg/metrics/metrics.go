package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "truebw_rewards_build_info",
			Help: "Build information of the true block weight rewards service",
		},
		[]string{"version", "commit", "date"},
	)

	BlocksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truebw_rewards_blocks_processed_total",
			Help: "Total number of forged blocks processed",
		},
		[]string{"status"}, // "success", "no_voting_power", "duplicate", "error"
	)

	BlockProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "truebw_rewards_block_process_duration_seconds",
			Help:    "Duration of forged block processing",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	BlockStageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truebw_rewards_block_stage_errors_total",
			Help: "Total number of block processing failures by stage",
		},
		[]string{"stage"},
	)

	VotersPaidTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "truebw_rewards_voters_paid_total",
			Help: "Total number of voter rewards credited to the ledger",
		},
	)

	NewVotersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "truebw_rewards_new_voters_total",
			Help: "Total number of first-time voters added to the ledger",
		},
	)

	LastProcessedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "truebw_rewards_last_processed_height",
			Help: "Height of the last forged block processed",
		},
	)

	WatcherPollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truebw_rewards_watcher_poll_total",
			Help: "Total number of forged block polls",
		},
		[]string{"status"},
	)

	HostChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truebw_rewards_hostchain_requests_total",
			Help: "Total number of host chain API requests",
		},
		[]string{"endpoint", "status"},
	)

	HostChainRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "truebw_rewards_hostchain_request_duration_seconds",
			Help:    "Duration of host chain API requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"endpoint"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truebw_rewards_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "truebw_rewards_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "truebw_rewards_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordHostChainRequest records metrics for a host chain API request.
func RecordHostChainRequest(endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	HostChainRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HostChainRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBlockProcessed records the outcome of processing one forged block.
func RecordBlockProcessed(status string, duration time.Duration) {
	BlocksProcessedTotal.WithLabelValues(status).Inc()
	BlockProcessDuration.Observe(duration.Seconds())
}
