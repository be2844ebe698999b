// Package metrics exposes ingestion counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Outcomes used as label values.
const (
	OutcomeIngested = "ingested"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Collector holds the ingestion metrics on its own registry, so several
// engines in one process never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	documentsTotal     *prometheus.CounterVec
	chunksTotal        *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	malformedTotal     prometheus.Counter
	claimsTotal        prometheus.Counter
	extractionDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a Collector. namespace prefixes every metric name.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		documentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_total",
				Help:      "Documents submitted for ingestion by outcome",
			},
			[]string{"outcome"},
		),
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_total",
				Help:      "Chunks processed by outcome",
			},
			[]string{"outcome"},
		),
		conflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Consolidation conflicts by kind",
			},
			[]string{"kind"},
		),
		malformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Extraction records that could not be parsed",
		}),
		claimsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_attached_total",
			Help:      "Claims attached to entities and relationships",
		}),
		extractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Model extraction call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// RecordDocument counts one document by outcome.
func (c *Collector) RecordDocument(outcome string) {
	c.documentsTotal.WithLabelValues(outcome).Inc()
}

// RecordChunk counts one chunk by outcome.
func (c *Collector) RecordChunk(outcome string) {
	c.chunksTotal.WithLabelValues(outcome).Inc()
}

// RecordConflict counts one conflict of the named kind.
func (c *Collector) RecordConflict(kind string) {
	c.conflictsTotal.WithLabelValues(kind).Inc()
}

// RecordMalformed counts n unparseable records.
func (c *Collector) RecordMalformed(n int) {
	if n > 0 {
		c.malformedTotal.Add(float64(n))
	}
}

// RecordClaims counts n attached claims.
func (c *Collector) RecordClaims(n int) {
	if n > 0 {
		c.claimsTotal.Add(float64(n))
	}
}

// ObserveExtraction records one extraction call duration.
func (c *Collector) ObserveExtraction(d time.Duration) {
	c.extractionDuration.Observe(d.Seconds())
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}
