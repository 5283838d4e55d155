// Package domain defines the core types shared across the backtester:
// price quotes, indicator and trigger definitions, scenarios, and the
// per-day trade ledger.
package domain

import (
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

// PriceQuote is a single daily closing price for a ticker.
type PriceQuote struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// Day truncates t to midnight UTC of the same calendar day. All dates held by
// the backtester are normalised this way so range comparisons are exact.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// ---------------------------------------------------------------------------
// Indicators and triggers
// ---------------------------------------------------------------------------

// IndicatorType identifies how an indicator series is computed.
type IndicatorType string

const (
	IndicatorSMA   IndicatorType = "SMA"
	IndicatorEMA   IndicatorType = "EMA"
	IndicatorFixed IndicatorType = "FIX"
	IndicatorClose IndicatorType = "CLOSE"
)

// Periodic reports whether Value1 is a window length for this type.
func (t IndicatorType) Periodic() bool {
	return t == IndicatorSMA || t == IndicatorEMA
}

// IndicatorSpec is a user-chosen indicator configuration. Value1 is the
// period for SMA/EMA and the constant for FIX; Value2 is reserved.
type IndicatorSpec struct {
	Name   string        `json:"name,omitempty" yaml:"name,omitempty"`
	Type   IndicatorType `json:"type" yaml:"type"`
	Value1 float64       `json:"value1" yaml:"value1"`
	Value2 float64       `json:"value2" yaml:"value2"`
}

// Operator compares two indicator values.
type Operator string

const (
	OperatorGreater Operator = ">"
	OperatorLess    Operator = "<"
)

// TriggerSpec is a boolean condition "Indicator1 Operator Indicator2"
// evaluated once per trade day.
type TriggerSpec struct {
	Indicator1 IndicatorSpec `json:"indicator1" yaml:"indicator1"`
	Operator   Operator      `json:"operator" yaml:"operator"`
	Indicator2 IndicatorSpec `json:"indicator2" yaml:"indicator2"`
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// Scenario is the full input of a backtest run, owned by a user.
type Scenario struct {
	ID                 string           `json:"id,omitempty" yaml:"id,omitempty"`
	Owner              string           `json:"owner,omitempty" yaml:"owner,omitempty"`
	Ticker             string           `json:"ticker" yaml:"ticker"`
	Start              time.Time        `json:"start" yaml:"start"`
	End                time.Time        `json:"end" yaml:"end"`
	StartingInvestment float64          `json:"startingInvestment" yaml:"starting_investment"`
	TransactionCost    float64          `json:"transactionCost" yaml:"transaction_cost"`
	BuyTrigger         TriggerSpec      `json:"buyTrigger" yaml:"buy_trigger"`
	SellTrigger        TriggerSpec      `json:"sellTrigger" yaml:"sell_trigger"`
	AnalysisResults    *AnalysisResults `json:"analysisResults,omitempty" yaml:"-"`
	CreatedAt          time.Time        `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt          time.Time        `json:"updatedAt,omitempty" yaml:"-"`
}

// Indicators returns the four indicator specs referenced by the scenario's
// triggers, in computation order.
func (s *Scenario) Indicators() []*IndicatorSpec {
	return []*IndicatorSpec{
		&s.BuyTrigger.Indicator1,
		&s.BuyTrigger.Indicator2,
		&s.SellTrigger.Indicator1,
		&s.SellTrigger.Indicator2,
	}
}

// AnalysisResults is the summary of the most recent run, stored alongside
// the scenario.
type AnalysisResults struct {
	EndingInvestment        float64   `json:"endingInvestment"`
	InvestmentReturnPercent float64   `json:"investmentReturnPercent"`
	AnnualReturnPercent     float64   `json:"annualReturnPercent"`
	RunAt                   time.Time `json:"runAt,omitempty"`
}

// DefaultScenario returns the scenario the input form starts from: a
// 20/50-day moving average crossover on AAPL since February 2010.
func DefaultScenario(now time.Time) Scenario {
	return Scenario{
		Ticker:             "AAPL",
		Start:              time.Date(2010, time.February, 1, 0, 0, 0, 0, time.UTC),
		End:                Day(now),
		StartingInvestment: 10000,
		TransactionCost:    10,
		BuyTrigger: TriggerSpec{
			Indicator1: IndicatorSpec{Type: IndicatorSMA, Value1: 20},
			Operator:   OperatorGreater,
			Indicator2: IndicatorSpec{Type: IndicatorSMA, Value1: 50},
		},
		SellTrigger: TriggerSpec{
			Indicator1: IndicatorSpec{Type: IndicatorSMA, Value1: 20},
			Operator:   OperatorLess,
			Indicator2: IndicatorSpec{Type: IndicatorSMA, Value1: 50},
		},
	}
}

// ---------------------------------------------------------------------------
// Trade ledger
// ---------------------------------------------------------------------------

// Action is the trade decision taken on a single day.
type Action string

const (
	ActionNone Action = "NONE"
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// TradeDay is one row of the backtest ledger. Indicators are attached first;
// the trade fields are written once by the execution pass.
type TradeDay struct {
	Date            time.Time          `json:"date"`
	Price           float64            `json:"price"`
	Indicators      map[string]float64 `json:"indicators"`
	Action          Action             `json:"action"`
	NumSharesOwned  float64            `json:"numSharesOwned"`
	NumSharesTraded float64            `json:"numSharesTraded"`
	InvestableCash  float64            `json:"investableCash"`
	InvestmentValue float64            `json:"investmentValue"`
}
