package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"via"}, // "api" or "smtp"
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postbox_send_failures_total",
			Help: "Sends rejected by the store",
		},
	)

	SyncPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postbox_badge_sync_passes_total",
			Help: "Badge synchronization passes",
		},
	)

	SyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_badge_sync_failures_total",
			Help: "Failed badge count queries",
		},
		[]string{"kind"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postbox_active_streams",
			Help: "Open badge event streams",
		},
	)
)
