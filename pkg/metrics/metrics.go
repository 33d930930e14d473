// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsStarted tracks conversations created.
	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_conversations_started_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks persisted messages by sender role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"sender"},
	)

	// PushConnections tracks live push connections by audience.
	PushConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livechat_push_connections_active",
			Help: "Active push connections",
		},
		[]string{"audience"},
	)

	// DeliveryFailures tracks evicted connections by audience.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_delivery_failures_total",
			Help: "Push sends that failed and evicted the connection",
		},
		[]string{"audience"},
	)

	// AutoReplies tracks auto-reply policy outcomes.
	AutoReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_auto_replies_total",
			Help: "Auto-reply policy outcomes",
		},
		[]string{"outcome"},
	)

	// GenerationDuration tracks reply synthesis duration.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_generation_duration_seconds",
			Help:    "Reply synthesis duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
