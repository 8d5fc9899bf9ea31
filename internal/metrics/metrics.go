// Package metrics exposes the engine's operational counters via Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine updates. A nil *Metrics is safe
// to call; all methods no-op so tests and tools can skip the registry.
type Metrics struct {
	cyclesTotal    prometheus.Counter
	cycleDuration  prometheus.Histogram
	cyclesSkipped  prometheus.Counter
	signalsTotal   *prometheus.CounterVec
	entriesTotal   prometheus.Counter
	exitsTotal     *prometheus.CounterVec
	orderFailures  prometheus.Counter
	openPositions  prometheus.Gauge
	scalingFactor  prometheus.Gauge
	scorerFailures prometheus.Counter
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		cyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Completed evaluation cycles.",
		}),
		cycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		cyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_skipped_total",
			Help: "Cycles skipped because the previous one was still running.",
		}),
		signalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Classified signals by tier.",
		}, []string{"tier"}),
		entriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_entries_total",
			Help: "Positions opened.",
		}),
		exitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_exits_total",
			Help: "Exit legs executed by close reason.",
		}, []string{"reason"}),
		orderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_order_failures_total",
			Help: "Order placements rejected or failed.",
		}),
		openPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Positions currently carrying exposure.",
		}),
		scalingFactor: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_scaling_factor",
			Help: "Current performance-derived sizing multiplier.",
		}),
		scorerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_scorer_failures_total",
			Help: "External scorer calls that returned an error.",
		}),
	}
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) CycleCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkipped.Inc()
}

func (m *Metrics) SignalClassified(tier string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) PositionOpened() {
	if m == nil {
		return
	}
	m.entriesTotal.Inc()
}

func (m *Metrics) ExitExecuted(reason string) {
	if m == nil {
		return
	}
	m.exitsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderFailed() {
	if m == nil {
		return
	}
	m.orderFailures.Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) SetScalingFactor(f float64) {
	if m == nil {
		return
	}
	m.scalingFactor.Set(f)
}

func (m *Metrics) ScorerFailed() {
	if m == nil {
		return
	}
	m.scorerFailures.Inc()
}
