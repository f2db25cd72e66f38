// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the claudebridge proxy.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claudebridge_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claudebridge_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequestsTotal counts calls to the Chat Completions upstream.
	// Outcome is "ok" or an error category.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"model", "mode", "outcome"},
	)

	// UpstreamLatency records upstream latency in seconds. For streams it
	// measures time to the response headers.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claudebridge_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
		[]string{"model", "mode"},
	)

	// UpstreamRetriesTotal counts retried upstream attempts by error category.
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_upstream_retries_total",
			Help: "Upstream retries",
		},
		[]string{"category"},
	)

	// UpstreamTokensTotal counts tokens reported by the upstream by direction (input/output).
	UpstreamTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_upstream_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// StreamEventsTotal counts SSE events written to clients by event type.
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_stream_events_total",
			Help: "Stream events sent",
		},
		[]string{"type"},
	)

	// CancellationsTotal counts requests abandoned by the client, by mode.
	CancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claudebridge_cancellations_total",
			Help: "Client cancellations",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		UpstreamRetriesTotal,
		UpstreamTokensTotal,
		StreamEventsTotal,
		CancellationsTotal,
	)
}

// RecordUsage adds upstream token counts for model.
func RecordUsage(model string, input, output int) {
	if input > 0 {
		UpstreamTokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		UpstreamTokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
}
