package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medicate_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime channel metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medicate_ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medicate_ws_online_users",
			Help: "Distinct users with at least one live connection",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_ws_events_received_total",
			Help: "Inbound realtime events by type",
		},
		[]string{"type"},
	)

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_ws_events_sent_total",
			Help: "Outbound realtime events by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medicate_ws_events_dropped_total",
			Help: "Events dropped because a connection's send buffer was full",
		},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_messages_persisted_total",
			Help: "Messages written to the chat store",
		},
		[]string{"message_type"},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medicate_messages_read_total",
			Help: "Messages flipped to read by mark_as_read",
		},
	)

	CallsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_calls_relayed_total",
			Help: "Call signaling frames relayed",
		},
		[]string{"event"},
	)

	CallsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medicate_calls_failed_total",
			Help: "Call offers rejected because the callee was offline",
		},
	)

	FilesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicate_files_uploaded_total",
			Help: "Message files uploaded",
		},
		[]string{"message_type"},
	)

	// Infrastructure metrics
	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medicate_message_persist_latency_seconds",
			Help:    "Chat store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
	)
)
