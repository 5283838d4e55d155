// Package backtest runs a scenario's buy/sell triggers over historical daily
// prices and reports the resulting trade ledger and return statistics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/quotes"
)

const (
	// DefaultWarmupPadding is the number of calendar days fetched before the
	// scenario start on top of the largest indicator period.
	DefaultWarmupPadding = 10

	daysPerYear = 365
	day         = 24 * time.Hour
)

var (
	// ErrQuoteRetrieval wraps any failure of the quote source.
	ErrQuoteRetrieval = errors.New("quote retrieval failed")

	// ErrInsufficientHistory is returned when fewer quotes were available
	// than the largest indicator period.
	ErrInsufficientHistory = errors.New("insufficient price history")

	// ErrNoTradeDays is returned when no quote falls inside the scenario
	// window.
	ErrNoTradeDays = errors.New("no trade days in scenario window")

	// ErrIndicatorMissing means a trigger referenced an indicator that was
	// never attached to the ledger.
	ErrIndicatorMissing = errors.New("indicator missing from trade day")
)

// Result is the outcome of one backtest run. It is not modified after Run
// returns.
type Result struct {
	// Scenario is the input with canonical indicator names filled in.
	Scenario                domain.Scenario   `json:"scenario"`
	TradeDays               []domain.TradeDay `json:"tradeDays"`
	AvailableIndicatorNames []string          `json:"availableIndicatorNames"`
	EndingInvestment        float64           `json:"endingInvestment"`
	InvestmentReturnPercent float64           `json:"investmentReturnPercent"`
	AnnualReturnPercent     float64           `json:"annualReturnPercent"`
}

// AnalysisResults returns the summary stored alongside the scenario.
func (r *Result) AnalysisResults(runAt time.Time) *domain.AnalysisResults {
	return &domain.AnalysisResults{
		EndingInvestment:        r.EndingInvestment,
		InvestmentReturnPercent: r.InvestmentReturnPercent,
		AnnualReturnPercent:     r.AnnualReturnPercent,
		RunAt:                   runAt,
	}
}

// Trades counts the days with the given action.
func (r *Result) Trades(action domain.Action) int {
	n := 0
	for i := range r.TradeDays {
		if r.TradeDays[i].Action == action {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Runner fetches quotes and runs backtests. It keeps no per-run state, so a
// single Runner may serve concurrent runs.
type Runner struct {
	source        quotes.Source
	warmupPadding int
	metrics       *metrics.Metrics
	log           *slog.Logger
}

// NewRunner creates a Runner reading prices from source. A warmupPadding
// below zero selects DefaultWarmupPadding. m and log may be nil.
func NewRunner(source quotes.Source, warmupPadding int, m *metrics.Metrics, log *slog.Logger) *Runner {
	if warmupPadding < 0 {
		warmupPadding = DefaultWarmupPadding
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		source:        source,
		warmupPadding: warmupPadding,
		metrics:       m,
		log:           log.With("component", "backtest"),
	}
}

// QuoteWindow returns the date range fetched for scenario: the scenario
// window extended backwards by the largest SMA/EMA period plus the warm-up
// padding, in calendar days.
func (r *Runner) QuoteWindow(scenario domain.Scenario) (time.Time, time.Time) {
	daysPrior := maxPeriod(scenario) + r.warmupPadding
	return domain.Day(scenario.Start).AddDate(0, 0, -daysPrior), domain.Day(scenario.End)
}

// Run validates scenario, fetches its quotes, and returns the analysis.
func (r *Runner) Run(ctx context.Context, scenario domain.Scenario) (*Result, error) {
	runStart := time.Now()
	res, err := r.run(ctx, scenario)

	tradeDays := 0
	if res != nil {
		tradeDays = len(res.TradeDays)
		r.metrics.AddTrades(string(domain.ActionBuy), res.Trades(domain.ActionBuy))
		r.metrics.AddTrades(string(domain.ActionSell), res.Trades(domain.ActionSell))
	}
	r.metrics.ObserveRun(time.Since(runStart), tradeDays, err)

	if err != nil {
		r.log.Warn("backtest failed", "ticker", scenario.Ticker, "scenario", scenario.ID, "error", err)
		return nil, err
	}
	r.log.Info("backtest complete",
		"ticker", scenario.Ticker,
		"scenario", scenario.ID,
		"tradeDays", tradeDays,
		"endingInvestment", res.EndingInvestment,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, scenario domain.Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	scenario.Ticker = quotes.NormalizeTicker(scenario.Ticker)
	scenario.Start = domain.Day(scenario.Start)
	scenario.End = domain.Day(scenario.End)

	from, to := r.QuoteWindow(scenario)
	history, err := r.source.FetchQuotes(ctx, scenario.Ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s..%s: %w", ErrQuoteRetrieval, scenario.Ticker,
			from.Format(domain.DateLayout), to.Format(domain.DateLayout), err)
	}
	r.log.Debug("quotes fetched", "ticker", scenario.Ticker, "source", r.source.Name(), "quotes", len(history))

	return Analyze(history, scenario)
}

// Analyze runs the backtest for scenario over an already fetched, ascending
// price history that should start before the scenario window to give the
// indicators room to warm up. Analyze is deterministic: the same history and
// scenario always yield the same Result.
func Analyze(history []domain.PriceQuote, scenario domain.Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	start, end := domain.Day(scenario.Start), domain.Day(scenario.End)

	if p := maxPeriod(scenario); len(history) < p {
		return nil, fmt.Errorf("%w: %d quotes for a %d-day indicator", ErrInsufficientHistory, len(history), p)
	}

	days := BuildLedger(history)
	names, err := computeIndicators(days, scenario.Indicators())
	if err != nil {
		return nil, err
	}

	days = Trim(days, start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: %s..%s", ErrNoTradeDays,
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}

	if err := Execute(days, scenario.BuyTrigger, scenario.SellTrigger,
		scenario.StartingInvestment, scenario.TransactionCost); err != nil {
		return nil, err
	}

	res := &Result{
		Scenario:                scenario,
		TradeDays:               days,
		AvailableIndicatorNames: names,
		EndingInvestment:        days[len(days)-1].InvestmentValue,
	}
	profit := res.EndingInvestment - scenario.StartingInvestment
	res.InvestmentReturnPercent = profit / 100
	res.AnnualReturnPercent = annualReturn(profit, start, end)
	return res, nil
}

// ElapsedDays is the whole number of days between start and end, rounded up.
func ElapsedDays(start, end time.Time) int {
	diff := end.Sub(start)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(float64(diff) / float64(day)))
}

// annualReturn normalises profit by the elapsed fraction of a year, rounds
// to one decimal place, and scales by 1/100 like InvestmentReturnPercent.
// A zero-length window reports 0.
func annualReturn(profit float64, start, end time.Time) float64 {
	elapsed := ElapsedDays(start, end)
	if elapsed == 0 {
		return 0
	}
	years := float64(elapsed) / daysPerYear
	return decimal.NewFromFloat(profit/years/100).Round(1).InexactFloat64()
}

// maxPeriod returns the largest SMA/EMA period among the scenario's
// indicators, or zero when none are windowed.
func maxPeriod(scenario domain.Scenario) int {
	p := 0
	for _, spec := range scenario.Indicators() {
		if spec.Type.Periodic() && int(spec.Value1) > p {
			p = int(spec.Value1)
		}
	}
	return p
}
