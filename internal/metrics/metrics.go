// Package metrics holds the prometheus collectors for reqflow runs
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment outcomes
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeCached = "cached"
)

// Metrics is a set of collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	segments        *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	versions        *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqflow",
			Name:      "segments_total",
			Help:      "Segments processed by the map stage.",
		}, []string{"task", "outcome"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reqflow",
			Name:      "backend_request_seconds",
			Help:      "Latency of generative backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqflow",
			Name:      "versions_created_total",
			Help:      "Versions appended to the ledger.",
		}, []string{"kind"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqflow",
			Name:      "stream_events_total",
			Help:      "Events emitted by the streaming orchestrator.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.segments,
		m.backendDuration,
		m.versions,
		m.streamEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Segment counts one processed segment
func (m *Metrics) Segment(task, outcome string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(task, outcome).Inc()
}

// BackendRequest observes one backend call
func (m *Metrics) BackendRequest(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// VersionCreated counts one appended version
func (m *Metrics) VersionCreated(kind string) {
	if m == nil {
		return
	}
	m.versions.WithLabelValues(kind).Inc()
}

// StreamEvent counts one emitted stream event
func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
