package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduleChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Total number of schedule mutations by type",
		},
		[]string{"type"},
	)

	ScheduleFeedConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connections_active",
			Help:      "Number of active schedule feed websocket connections",
		},
	)

	ScheduleFeedDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_events_total",
			Help:      "Total number of feed events dropped for slow clients",
		},
	)

	ScheduleFeedDisconnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_disconnections_total",
			Help:      "Total number of schedule feed disconnections",
		},
		[]string{"reason"},
	)
)
