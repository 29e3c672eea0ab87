package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime gateway
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportchat_ws_connections",
			Help: "Open websocket sessions",
		},
	)

	WSEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_ws_events_total",
			Help: "Inbound websocket events by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	WSDroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_ws_dropped_frames_total",
			Help: "Outbound frames dropped because a session queue was full",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_messages_sent_total",
			Help: "Messages accepted by the pipeline",
		},
		[]string{"sender_type"},
	)

	MessagePersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_message_persist_failures_total",
			Help: "Messages broadcast but not persisted after all retries",
		},
	)

	MessagePersistRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_message_persist_retries_total",
			Help: "Persistence retries",
		},
	)

	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_rooms_created_total",
			Help: "Rooms created",
		},
		[]string{"kind"}, // "guest", "global", "whatsapp"
	)

	OverrideConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_override_conflicts_total",
			Help: "Override attempts rejected because another agent holds the room",
		},
	)

	// Presence
	AgentsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportchat_agents_online",
			Help: "Agents with at least one live session in this process",
		},
	)

	PresenceSweepDemoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_presence_sweep_demoted_total",
			Help: "Agents demoted to offline by the stale-session sweep",
		},
	)

	PresenceSweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_presence_sweep_errors_total",
			Help: "Failed sweep cycles",
		},
	)

	// External channels
	WhatsAppInbound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_whatsapp_inbound_total",
			Help: "Inbound WhatsApp messages",
		},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_delivery_failures_total",
			Help: "Outbound delivery failures",
		},
		[]string{"channel"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
