// Package metrics registers and exposes the Prometheus metrics for the
// server. Initialize is called once at startup; middleware and services
// record through the singleton.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     prometheus.CounterVec
	HTTPRequestDuration   prometheus.HistogramVec
	HTTPRequestSize       prometheus.HistogramVec
	HTTPResponseSize      prometheus.HistogramVec
	HTTPActiveConnections prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal   prometheus.CounterVec
	CacheMissesTotal prometheus.CounterVec

	// Rate limiting metrics
	RateLimitExceededTotal prometheus.CounterVec

	// WebSocket metrics
	WSConnectionsActive prometheus.GaugeVec
	WSMessagesTotal     prometheus.CounterVec

	// Domain counters
	PostsCreated    prometheus.CounterVec
	CommentsCreated prometheus.CounterVec
	VotesCast       prometheus.CounterVec
	MessagesSent    prometheus.CounterVec
	ModerationCalls prometheus.CounterVec

	// Error metrics
	ErrorsTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestSize: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_size_bytes",
					Help:    "HTTP request body size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 10, 7),
				},
				[]string{"method", "path"},
			),
			HTTPResponseSize: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_response_size_bytes",
					Help:    "HTTP response size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 10, 7),
				},
				[]string{"method", "path", "status"},
			),
			HTTPActiveConnections: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "http_active_connections",
					Help: "Number of currently active HTTP connections",
				},
				[]string{"method", "path"},
			),

			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"cache_name"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Total number of cache misses",
				},
				[]string{"cache_name"},
			),

			RateLimitExceededTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_exceeded_total",
					Help: "Total number of rate-limited requests",
				},
				[]string{"endpoint", "method"},
			),

			WSConnectionsActive: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ws_connections_active",
					Help: "Number of currently open WebSocket connections",
				},
				[]string{},
			),
			WSMessagesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ws_messages_total",
					Help: "Total WebSocket messages handled",
				},
				[]string{"type", "direction"},
			),

			PostsCreated: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "posts_created_total",
					Help: "Total number of posts created",
				},
				[]string{},
			),
			CommentsCreated: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "comments_created_total",
					Help: "Total number of comments created",
				},
				[]string{},
			),
			VotesCast: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "votes_cast_total",
					Help: "Total number of votes cast",
				},
				[]string{"direction"},
			),
			MessagesSent: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_messages_sent_total",
					Help: "Total number of chat messages sent",
				},
				[]string{"kind"},
			),
			ModerationCalls: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "moderation_calls_total",
					Help: "Total moderation service calls",
				},
				[]string{"outcome"},
			),

			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "errors_total",
					Help: "Total application errors",
				},
				[]string{"error_type", "endpoint"},
			),
		}
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	if instance == nil {
		return Initialize()
	}
	return instance
}
