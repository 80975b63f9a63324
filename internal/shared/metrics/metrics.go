// Package metrics exposes Prometheus instrumentation for the image gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records gateway metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	correctiveRetries  *prometheus.CounterVec
	materializeTotal   *prometheus.CounterVec
	auditDropped       prometheus.Counter
}

// NewCollector creates a collector whose metrics are prefixed with namespace
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Image generation calls by dialect and outcome",
			},
			[]string{"dialect", "outcome"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Upstream image generation latency in seconds",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"dialect"},
		),
		correctiveRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrective_retries_total",
				Help:      "Corrective resends by fix name",
			},
			[]string{"fix"},
		),
		materializeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "materialize_total",
				Help:      "Remote image materialization attempts by result",
			},
			[]string{"result"},
		),
		auditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_dropped_total",
				Help:      "Audit events dropped because the write queue was full or the sink failed",
			},
		),
	}
}

// RecordGeneration records the outcome of one gateway call
func (c *Collector) RecordGeneration(dialect, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(dialect, outcome).Inc()
	c.generationDuration.WithLabelValues(dialect).Observe(duration.Seconds())
}

// RecordCorrectiveRetry counts a corrective resend
func (c *Collector) RecordCorrectiveRetry(fix string) {
	if c == nil {
		return
	}
	c.correctiveRetries.WithLabelValues(fix).Inc()
}

// RecordMaterialize counts a materialization attempt
func (c *Collector) RecordMaterialize(result string) {
	if c == nil {
		return
	}
	c.materializeTotal.WithLabelValues(result).Inc()
}

// RecordAuditDropped counts an audit event that was not persisted
func (c *Collector) RecordAuditDropped() {
	if c == nil {
		return
	}
	c.auditDropped.Inc()
}

// Handler serves the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
