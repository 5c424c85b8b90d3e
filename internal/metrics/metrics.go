// Package metrics owns the Prometheus collectors for the notification
// service. Collectors live on an app-owned registry rather than the
// package default so parallel tests never collide on registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors exercised by the registry and notifier.
type Metrics struct {
	Registry *prometheus.Registry

	// Connections tracks currently registered WebSocket connections.
	Connections prometheus.Gauge
	// EventsDelivered counts successful per-connection sends by event type.
	EventsDelivered *prometheus.CounterVec
	// SendFailures counts per-connection send errors during fan-out.
	SendFailures prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkdesk_ws_connections",
			Help: "Number of registered WebSocket connections.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkdesk_events_delivered_total",
			Help: "Per-connection event deliveries, labeled by event type.",
		}, []string{"type"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkdesk_send_failures_total",
			Help: "Per-connection send failures during fan-out.",
		}),
	}

	reg.MustRegister(m.Connections, m.EventsDelivered, m.SendFailures)
	return m
}
