// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active socket count and lifecycle events by phase
//   - Auth rejections by reason
//   - Broadcast pushes by outcome (delivered, pruned, transient)
//   - Broadcast fan-out latency
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcome label values.
const (
	OutcomeDelivered = "delivered"
	OutcomePruned    = "pruned"
	OutcomeTransient = "transient"
)

// Metrics holds all gateway collectors on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	PushesTotal       *prometheus.CounterVec
	BroadcastSeconds  prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pushgate",
			Name:      "connections_active",
			Help:      "Number of sockets currently held by the hub.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushgate",
			Name:      "events_total",
			Help:      "Inbound events by lifecycle phase.",
		}, []string{"phase"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushgate",
			Name:      "auth_failures_total",
			Help:      "Connect rejections by auth failure reason.",
		}, []string{"reason"}),
		PushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushgate",
			Name:      "pushes_total",
			Help:      "Broadcast pushes by outcome.",
		}, []string{"outcome"}),
		BroadcastSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushgate",
			Name:      "broadcast_seconds",
			Help:      "Wall time per broadcast fan-out.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.EventsTotal,
		m.AuthFailures,
		m.PushesTotal,
		m.BroadcastSeconds,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
