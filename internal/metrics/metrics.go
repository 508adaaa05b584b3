package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procsentry",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of record store lookup hits.",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procsentry",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of record store lookup misses.",
		},
	)
	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procsentry",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Number of records evicted by the value-score policy.",
		},
	)
	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procsentry",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current record store entry count.",
		},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "procsentry",
			Subsystem: "monitor",
			Name:      "scan_duration_seconds",
			Help:      "Reconciliation scan wall time.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	scannedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procsentry",
			Subsystem: "monitor",
			Name:      "scanned_processes",
			Help:      "Live processes observed by the last reconciliation scan.",
		},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procsentry",
			Subsystem: "terminate",
			Name:      "requests_total",
			Help:      "Termination requests by strategy and outcome.",
		}, []string{"strategy", "outcome"},
	)
	terminationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "procsentry",
			Subsystem: "terminate",
			Name:      "duration_seconds",
			Help:      "End-to-end termination request duration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)
	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procsentry",
			Subsystem: "terminate",
			Name:      "inflight",
			Help:      "Termination requests currently holding a concurrency slot.",
		},
	)
	healthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procsentry",
			Subsystem: "health",
			Name:      "score",
			Help:      "Aggregate engine health in [0,1].",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		cacheHits, cacheMisses, cacheEvictions, cacheEntries,
		scanDuration, scannedProcesses,
		terminations, terminationDuration, inflight, healthScore,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the default Prometheus gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncCacheHit() {
	if regOK.Load() {
		cacheHits.Inc()
	}
}

func IncCacheMiss() {
	if regOK.Load() {
		cacheMisses.Inc()
	}
}

func IncCacheEviction() {
	if regOK.Load() {
		cacheEvictions.Inc()
	}
}

func SetCacheEntries(n int) {
	if regOK.Load() {
		cacheEntries.Set(float64(n))
	}
}

func ObserveScan(seconds float64, processes int) {
	if regOK.Load() {
		scanDuration.Observe(seconds)
		scannedProcesses.Set(float64(processes))
	}
}

func IncTermination(strategy, outcome string) {
	if regOK.Load() {
		terminations.WithLabelValues(strategy, outcome).Inc()
	}
}

func ObserveTerminationDuration(seconds float64) {
	if regOK.Load() {
		terminationDuration.Observe(seconds)
	}
}

func AddInflight(delta int) {
	if regOK.Load() {
		inflight.Add(float64(delta))
	}
}

func SetHealthScore(v float64) {
	if regOK.Load() {
		healthScore.Set(v)
	}
}
