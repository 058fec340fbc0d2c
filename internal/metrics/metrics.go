// Package metrics holds the Prometheus collectors of the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "connections",
		Help:      "Number of authenticated socket connections.",
	})

	RoomJoins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "room_joins_total",
		Help:      "Successful room subscriptions.",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted by the pipeline, by kind.",
	}, []string{"kind"})

	DuplicateSends = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "duplicate_sends_total",
		Help:      "Sends resolved to an existing message by client temp id.",
	})

	MessageMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "message_mutations_total",
		Help:      "Edits and deletes applied to messages.",
	}, []string{"op"})

	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "errors_total",
		Help:      "Actor-scoped errors reported to clients, by kind.",
	}, []string{"kind"})

	DroppedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "slow_consumer_drops_total",
		Help:      "Connections closed because their send queue overflowed.",
	})

	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "studycrew",
		Subsystem: "chat",
		Name:      "store_seconds",
		Help:      "Latency of message store calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		RoomJoins,
		MessagesSent,
		DuplicateSends,
		MessageMutations,
		Errors,
		DroppedConnections,
		StoreLatency,
	)
}
