// Package monitoring exposes Prometheus collectors for compiles, reload
// broadcasts and connected browsers. All methods are safe on a nil *Metrics so
// components can be built without instrumentation in tests.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devloop"

// Compile results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	compilesTotal    *prometheus.CounterVec
	compileDuration  *prometheus.HistogramVec
	broadcastsTotal  *prometheus.CounterVec
	connections      prometheus.Gauge
	droppedTotal     prometheus.Counter
	pendingCoalesced *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		compilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Total number of asset group compiles by result",
		}, []string{"group", "result"}),

		compileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Asset group compile duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"group"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of reload broadcasts by change class",
		}, []string{"class"}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_connections",
			Help:      "Number of connected live-reload clients",
		}),

		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_deliveries_total",
			Help:      "Reload messages dropped because the client was gone or too slow",
		}),

		pendingCoalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_changes_total",
			Help:      "Changes folded into a pending recompile while a compile was running",
		}, []string{"group"}),
	}
}

// ObserveCompile records a finished compile.
func (m *Metrics) ObserveCompile(group string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.compilesTotal.WithLabelValues(group, result).Inc()
	m.compileDuration.WithLabelValues(group).Observe(d.Seconds())
}

// IncCoalesced counts a change folded into a pending recompile.
func (m *Metrics) IncCoalesced(group string) {
	if m == nil {
		return
	}
	m.pendingCoalesced.WithLabelValues(group).Inc()
}

// IncBroadcast counts a broadcast of the given change class.
func (m *Metrics) IncBroadcast(class string) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(class).Inc()
}

// SetConnections records the current number of reload clients.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// IncDropped counts a dropped delivery.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
