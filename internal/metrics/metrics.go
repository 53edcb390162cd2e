// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients counts open websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connected_clients",
		Help: "Current number of open websocket connections",
	})

	// AuthenticatedConnections counts connections with a bound identity.
	AuthenticatedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_authenticated_connections",
		Help: "Current number of connections bound to an identity",
	})

	// LiveRooms counts rooms with at least one subscribed connection.
	LiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_live_rooms",
		Help: "Current number of rooms with subscribed connections",
	})

	// InboundEvents counts client events by name and outcome.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_inbound_events_total",
		Help: "Client events received, by event name and result",
	}, []string{"event", "result"})

	// OutboundEvents counts frames queued for delivery by event name.
	OutboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_outbound_events_total",
		Help: "Server events queued for delivery, by event name",
	}, []string{"event"})

	// DroppedDeliveries counts frames that could not be queued to a connection.
	DroppedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_dropped_deliveries_total",
		Help: "Frames dropped because the connection was gone or its buffer was full",
	})

	// MessagesPersisted counts chat messages saved by the pipeline.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_messages_persisted_total",
		Help: "Chat messages persisted and broadcast",
	})

	// AuthRequests counts registration and login attempts by outcome.
	AuthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_auth_requests_total",
		Help: "Registration and login requests, by endpoint and result",
	}, []string{"endpoint", "result"})

	// StoreBreakerState is 0 closed, 1 half-open, 2 open.
	StoreBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_store_breaker_state",
		Help: "Datastore circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// StoreBreakerTransitions counts breaker state changes.
	StoreBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_store_breaker_transitions_total",
		Help: "Datastore circuit breaker state transitions",
	}, []string{"from", "to"})
)
