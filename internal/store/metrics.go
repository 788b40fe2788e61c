package store

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "graylogic_registry"

// Metrics holds the per-document counters of one Store.
type Metrics struct {
	reads     *prometheus.CounterVec
	writes    *prometheus.CounterVec
	malformed *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
}

func newMetrics() *Metrics {
	labels := []string{"document"}
	return &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "reads_total",
			Help:      "Document reads served by the backend.",
		}, labels),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "writes_total",
			Help:      "Committed document replacements.",
		}, labels),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "malformed_total",
			Help:      "Document loads that failed to parse and were treated as empty.",
		}, labels),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "cache_hits_total",
			Help:      "Document loads served from the in-memory cache.",
		}, labels),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring a document lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, labels),
	}
}

// register adds every collector to reg.
func (m *Metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.reads, m.writes, m.malformed, m.cacheHits, m.lockWait} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("store: registering metrics: %w", err)
		}
	}
	return nil
}
