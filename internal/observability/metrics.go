package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesInbound  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "messages_inbound_total", Help: "Inbound chat messages received"})
	MessagesOutbound = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "messages_outbound_total", Help: "Outbound chat messages attempted"})
	SendFailures     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "send_failures_total", Help: "Outbound sends that failed"})

	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "rides_created_total", Help: "Rides created"})
	RidesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "rides_accepted_total", Help: "Rides accepted by a driver"})
	RidesExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "rides_expired_total", Help: "Rides expired without acceptance"})
	RidesCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "rides_cancelled_total", Help: "Rides cancelled"},
		[]string{"by"},
	)
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "broadcasts_total", Help: "Driver broadcast rounds sent"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the race"})

	TimersRestored = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "timers_restored_total", Help: "Timers reconstructed after restart"},
		[]string{"kind"},
	)
	ActiveConversations = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "moto_dispatch", Name: "active_conversations", Help: "Conversation sessions currently active"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "moto_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
