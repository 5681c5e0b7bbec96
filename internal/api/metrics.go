package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the server's Prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsStarted   prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BacktestDuration   prometheus.Histogram
	PairsAnalyzed      prometheus.Counter
	ScansRun           prometheus.Counter
	SizingDecisions    prometheus.Counter
}

// NewMetrics builds and registers the metric set on a private registry so
// tests can construct servers without duplicate-registration panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BacktestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "backtests_started_total",
			Help: "Backtests submitted.",
		}),
		BacktestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "backtests_completed_total",
			Help: "Backtests finished successfully.",
		}),
		BacktestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "backtests_failed_total",
			Help: "Backtests that errored or were cancelled.",
		}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quantcore", Name: "backtest_duration_seconds",
			Help:    "Wall-clock duration of completed backtests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		PairsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "pairs_analyzed_total",
			Help: "Cointegration evaluations served.",
		}),
		ScansRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "pair_scans_total",
			Help: "Universe scans served.",
		}),
		SizingDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantcore", Name: "sizing_decisions_total",
			Help: "Position sizing decisions served.",
		}),
	}

	reg.MustRegister(
		m.BacktestsStarted, m.BacktestsCompleted, m.BacktestsFailed,
		m.BacktestDuration, m.PairsAnalyzed, m.ScansRun, m.SizingDecisions,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
