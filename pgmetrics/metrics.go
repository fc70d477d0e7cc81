// Package pgmetrics exposes Prometheus counters and histograms for
// checkout latency, statement duration, retry counts and cache hit/miss/
// refill counts, grounded on quay/claircore's gc.go use of promauto
// against a package-local registry (avoiding collisions with whatever
// global registry the embedding application already uses).
package pgmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/histogram pgstash emits, backed by its
// own registry rather than prometheus.DefaultRegisterer so embedding a
// second pgstash instance in the same process never double-registers.
type Metrics struct {
	Registry *prometheus.Registry

	ExecTotal        *prometheus.CounterVec
	ExecDuration     *prometheus.HistogramVec
	CheckoutDuration prometheus.Histogram
	RetryAttempts    *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheRefills     *prometheus.CounterVec
	CacheEntries     prometheus.Gauge
}

// New builds a fresh Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ExecTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgstash",
			Name:      "exec_total",
			Help:      "Total number of statements executed, by outcome.",
		}, []string{"outcome"}),
		ExecDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pgstash",
			Name:      "exec_duration_seconds",
			Help:      "Statement execution duration in seconds.",
		}, []string{"outcome"}),
		CheckoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pgstash",
			Name:      "checkout_duration_seconds",
			Help:      "Time spent blocked waiting for an idle connection.",
		}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgstash",
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts issued, by final outcome.",
		}, []string{"outcome"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgstash",
			Subsystem: "stash",
			Name:      "cache_hits_total",
			Help:      "Total number of Stash cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pgstash",
			Subsystem: "stash",
			Name:      "cache_misses_total",
			Help:      "Total number of Stash cache misses.",
		}),
		CacheRefills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgstash",
			Subsystem: "stash",
			Name:      "cache_refills_total",
			Help:      "Total number of background refill jobs, by outcome.",
		}, []string{"outcome"}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pgstash",
			Subsystem: "stash",
			Name:      "cache_entries",
			Help:      "Current number of cached entries across all queries.",
		}),
	}
}

// ObserveExec records the outcome and duration of one Exec call.
func (m *Metrics) ObserveExec(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExecTotal.WithLabelValues(outcome).Inc()
	m.ExecDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
