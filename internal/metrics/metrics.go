package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_conversations_started_total",
			Help: "Total conversations created",
		},
	)

	MessagesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_created_total",
			Help: "Total messages persisted",
		},
	)

	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_relay_deliveries_total",
			Help: "Relay outcomes for persisted messages",
		},
		[]string{"result"}, // "delivered" or "dropped"
	)

	// Presence metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_live_connections",
			Help: "Currently open websocket connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
