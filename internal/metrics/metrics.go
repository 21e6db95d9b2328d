package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Messages fanned out, by visibility and path",
		},
		[]string{"visibility", "path"}, // path: "direct" or "relay"
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connected_clients",
			Help: "Live websocket connections registered in the hub",
		},
	)

	RelayState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_state",
			Help: "Relay health: 0 disconnected, 1 connecting, 2 connected",
		},
	)

	RelayConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_consumed_total",
			Help: "Envelopes received from the relay channel",
		},
	)

	RelayPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_publish_errors_total",
			Help: "Publishes that failed and degraded to direct fan-out",
		},
	)

	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_store_failures_total",
			Help: "Message store writes that returned an error",
		},
	)
)
