// Package prometheus bridges the engine's counters into a Prometheus
// registry.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clavisauth/clavis"
)

// Collector exposes an engine's counter snapshot as Prometheus metrics under
// the clavis_ namespace.
type Collector struct {
	metrics *clavis.Metrics
	desc    *prometheus.Desc
}

// NewCollector wraps the engine's metrics. Register it on any registry:
//
//	prometheus.MustRegister(clavisprom.NewCollector(engine.Metrics()))
func NewCollector(m *clavis.Metrics) *Collector {
	return &Collector{
		metrics: m,
		desc: prometheus.NewDesc(
			"clavis_events_total",
			"Monotonic count of engine events by type.",
			[]string{"event"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, value := range c.metrics.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(value), name)
	}
}
