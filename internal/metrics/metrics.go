// Package metrics provides Prometheus instrumentation for the sync client.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts poll attempts by result (ok, failed, skipped, discarded).
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerview",
			Name:      "polls_total",
			Help:      "Total dashboard polls by result.",
		},
		[]string{"result"},
	)

	// PollDuration observes poll round-trip latency.
	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledgerview",
			Name:      "poll_duration_seconds",
			Help:      "Dashboard poll duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ChannelReconnectsTotal counts reconnect attempts on the push channel.
	ChannelReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerview",
		Name:      "channel_reconnects_total",
		Help:      "Total push channel reconnect attempts.",
	})

	// ChannelState tracks the push channel connection state
	// (0=disconnected, 1=connecting, 2=connected, 3=reconnecting).
	ChannelState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerview",
		Name:      "channel_state",
		Help:      "Push channel state: 0=disconnected 1=connecting 2=connected 3=reconnecting.",
	})

	// ChannelEventsTotal counts push events received by type.
	ChannelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerview",
			Name:      "channel_events_total",
			Help:      "Total push channel events received by type.",
		},
		[]string{"type"},
	)

	// StaleDiscardsTotal counts inputs discarded by the reconciliation engine.
	StaleDiscardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerview",
			Name:      "stale_discards_total",
			Help:      "Total stale or duplicate inputs discarded during reconciliation.",
		},
		[]string{"reason"},
	)

	// TransitionsTotal counts semantic state transitions by kind.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerview",
			Name:      "transitions_total",
			Help:      "Total reconciliation transitions by kind.",
		},
		[]string{"kind"},
	)

	// NotificationsTotal counts dispatched notification side effects by kind.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerview",
			Name:      "notifications_total",
			Help:      "Total notification side effects dispatched by kind.",
		},
		[]string{"kind"},
	)

	// AuthExpiriesTotal counts forced session clears from 401 responses.
	AuthExpiriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerview",
		Name:      "auth_expiries_total",
		Help:      "Total forced session clears caused by expired auth.",
	})
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		PollDuration,
		ChannelReconnectsTotal,
		ChannelState,
		ChannelEventsTotal,
		StaleDiscardsTotal,
		TransitionsTotal,
		NotificationsTotal,
		AuthExpiriesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
