package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plusproche",
		Subsystem: "relay",
		Name:      "rooms",
		Help:      "Number of rooms loaded by this relay instance.",
	})

	RelayPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plusproche",
		Subsystem: "relay",
		Name:      "peers",
		Help:      "Number of websocket peers connected to this relay instance.",
	})

	RelayUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plusproche",
		Subsystem: "relay",
		Name:      "updates_total",
		Help:      "Document updates applied by the relay, by source.",
	}, []string{"source"})

	RelayDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plusproche",
		Subsystem: "relay",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a peer send buffer was full.",
	})

	LeaderboardPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plusproche",
		Subsystem: "leaderboard",
		Name:      "published_total",
		Help:      "Leaderboard updates published.",
	})

	RoundsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plusproche",
		Subsystem: "game",
		Name:      "rounds_resolved_total",
		Help:      "Rounds resolved by the local peer.",
	})
)
