package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry owns the Prometheus registry and the core subsystem metrics.
// Components share the single Metrics set; nil Metrics disables recording.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	metrics            *Metrics
}

// NewRegistry creates a registry with the core subsystem metrics and Go
// runtime collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		metrics:            NewMetrics(),
	}

	r.prometheusRegistry.MustRegister(
		r.metrics.ConnectionState,
		r.metrics.ConnectionsTotal,
		r.metrics.ReconnectAttempts,
		r.metrics.HeartbeatMisses,
		r.metrics.EventsDispatched,
		r.metrics.FramesDropped,
		r.metrics.ListenerPanics,
		r.metrics.ControlSent,
		r.metrics.ControlDropped,
		r.metrics.NotificationsActive,
		r.metrics.UploadsActive,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry, e.g. for a
// promhttp handler.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core subsystem metrics.
func (r *Registry) CoreMetrics() *Metrics {
	return r.metrics
}
