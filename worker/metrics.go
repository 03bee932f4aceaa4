package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// lifecycleMetrics holds Prometheus metrics for entity lifecycle operations.
// All methods are nil-safe so a worker without a registerer runs unmetered.
type lifecycleMetrics struct {
	starts *prometheus.CounterVec // by kind and status (success/failure)
	stops  *prometheus.CounterVec // by kind and status
	live   *prometheus.GaugeVec   // by kind
}

func newLifecycleMetrics(registerer prometheus.Registerer) *lifecycleMetrics {
	if registerer == nil {
		return nil
	}

	m := &lifecycleMetrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "worker",
			Name:      "entity_starts_total",
			Help:      "Total number of entity start operations",
		}, []string{"kind", "status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "worker",
			Name:      "entity_stops_total",
			Help:      "Total number of entity stop operations",
		}, []string{"kind", "status"}),

		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "worker",
			Name:      "entities_live",
			Help:      "Number of currently running entities",
		}, []string{"kind"}),
	}

	registerer.MustRegister(m.starts, m.stops, m.live)
	return m
}

func (m *lifecycleMetrics) started(kind string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(kind, "success").Inc()
	m.live.WithLabelValues(kind).Inc()
}

func (m *lifecycleMetrics) startFailed(kind string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(kind, "failure").Inc()
}

func (m *lifecycleMetrics) stopped(kind string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(kind, "success").Inc()
	m.live.WithLabelValues(kind).Dec()
}

func (m *lifecycleMetrics) stopFailed(kind string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(kind, "failure").Inc()
}
