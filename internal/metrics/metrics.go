// Package metrics holds the Prometheus instruments for backtest runs, quote
// retrieval, and the scheduled scenario refresh.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument exported by the backtester. All methods
// are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec // labels: result=ok|error
	RunDuration   prometheus.Histogram
	TradeDays     prometheus.Histogram
	TradesTotal   *prometheus.CounterVec // labels: action=BUY|SELL
	QuoteFetches  *prometheus.CounterVec // labels: source, result
	QuoteCacheHit *prometheus.CounterVec // labels: result=hit|miss
	RefreshTotal  *prometheus.CounterVec // labels: result=ok|error
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_run_duration_seconds",
			Help:    "Wall time of a backtest run including the quote fetch",
			Buckets: prometheus.DefBuckets,
		}),
		TradeDays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_run_trade_days",
			Help:    "Trade days retained per run after trimming to the scenario window",
			Buckets: []float64{20, 60, 250, 500, 1250, 2500, 5000},
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_simulated_trades_total",
			Help: "Simulated trades executed across all runs",
		}, []string{"action"}),
		QuoteFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_quote_fetches_total",
			Help: "Quote source requests by source and outcome",
		}, []string{"source", "result"}),
		QuoteCacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_quote_cache_requests_total",
			Help: "Quote cache lookups by outcome",
		}, []string{"result"}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_scenario_refresh_total",
			Help: "Scheduled scenario re-runs by outcome",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.TradeDays,
		m.TradesTotal,
		m.QuoteFetches,
		m.QuoteCacheHit,
		m.RefreshTotal,
	)
	return m
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRun records a finished backtest run.
func (m *Metrics) ObserveRun(elapsed time.Duration, tradeDays int, err error) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result(err)).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.TradeDays.Observe(float64(tradeDays))
	}
}

// AddTrades counts simulated trades of the given action.
func (m *Metrics) AddTrades(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TradesTotal.WithLabelValues(action).Add(float64(n))
}

// ObserveFetch records one request to a quote source.
func (m *Metrics) ObserveFetch(source string, err error) {
	if m == nil {
		return
	}
	m.QuoteFetches.WithLabelValues(source, result(err)).Inc()
}

// ObserveCache records a quote cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.QuoteCacheHit.WithLabelValues("hit").Inc()
		return
	}
	m.QuoteCacheHit.WithLabelValues("miss").Inc()
}

// ObserveRefresh records one scheduled scenario re-run.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result(err)).Inc()
}
