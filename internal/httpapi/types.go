// Package httpapi provides the HTTP REST API for running backtests and
// managing saved scenarios.
package httpapi

import (
	"fmt"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/report"
)

// ScenarioJSON is the wire form of a scenario. Dates are YYYY-MM-DD.
type ScenarioJSON struct {
	ID                 string                  `json:"id,omitempty"`
	Owner              string                  `json:"owner,omitempty"`
	Ticker             string                  `json:"ticker"`
	Start              string                  `json:"start"`
	End                string                  `json:"end"`
	StartingInvestment float64                 `json:"startingInvestment"`
	TransactionCost    float64                 `json:"transactionCost"`
	BuyTrigger         domain.TriggerSpec      `json:"buyTrigger"`
	SellTrigger        domain.TriggerSpec      `json:"sellTrigger"`
	AnalysisResults    *domain.AnalysisResults `json:"analysisResults,omitempty"`
	CreatedAt          *time.Time              `json:"createdAt,omitempty"`
	UpdatedAt          *time.Time              `json:"updatedAt,omitempty"`
}

// toScenarioJSON converts a domain scenario to its wire form.
func toScenarioJSON(s *domain.Scenario) ScenarioJSON {
	out := ScenarioJSON{
		ID:                 s.ID,
		Owner:              s.Owner,
		Ticker:             s.Ticker,
		Start:              s.Start.Format(domain.DateLayout),
		End:                s.End.Format(domain.DateLayout),
		StartingInvestment: s.StartingInvestment,
		TransactionCost:    s.TransactionCost,
		BuyTrigger:         s.BuyTrigger,
		SellTrigger:        s.SellTrigger,
		AnalysisResults:    s.AnalysisResults,
	}
	if !s.CreatedAt.IsZero() {
		t := s.CreatedAt
		out.CreatedAt = &t
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// toScenario parses the wire form. Ownership and timestamps are not taken
// from the client.
func (j *ScenarioJSON) toScenario() (domain.Scenario, error) {
	start, err := domain.ParseDate(j.Start)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("%w: start %q: want YYYY-MM-DD", domain.ErrInvalidScenario, j.Start)
	}
	end, err := domain.ParseDate(j.End)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("%w: end %q: want YYYY-MM-DD", domain.ErrInvalidScenario, j.End)
	}
	return domain.Scenario{
		Ticker:             j.Ticker,
		Start:              start,
		End:                end,
		StartingInvestment: j.StartingInvestment,
		TransactionCost:    j.TransactionCost,
		BuyTrigger:         j.BuyTrigger,
		SellTrigger:        j.SellTrigger,
	}, nil
}

// TradeDayJSON is one ledger row.
type TradeDayJSON struct {
	Date            string             `json:"date"`
	Price           float64            `json:"price"`
	Indicators      map[string]float64 `json:"indicators"`
	Action          domain.Action      `json:"action"`
	NumSharesOwned  float64            `json:"numSharesOwned"`
	NumSharesTraded float64            `json:"numSharesTraded"`
	InvestableCash  float64            `json:"investableCash"`
	InvestmentValue float64            `json:"investmentValue"`
}

// BacktestResponse is returned by every endpoint that runs a backtest.
type BacktestResponse struct {
	Scenario                ScenarioJSON   `json:"scenario"`
	EndingInvestment        float64        `json:"endingInvestment"`
	InvestmentReturnPercent float64        `json:"investmentReturnPercent"`
	AnnualReturnPercent     float64        `json:"annualReturnPercent"`
	AvailableIndicatorNames []string       `json:"availableIndicatorNames"`
	TradeDays               []TradeDayJSON `json:"tradeDays,omitempty"`
	Chart                   *report.Chart  `json:"chart,omitempty"`
}

// toBacktestResponse converts a result. The ledger and chart are omitted
// when summaryOnly is set.
func toBacktestResponse(res *backtest.Result, summaryOnly bool) BacktestResponse {
	out := BacktestResponse{
		Scenario:                toScenarioJSON(&res.Scenario),
		EndingInvestment:        res.EndingInvestment,
		InvestmentReturnPercent: res.InvestmentReturnPercent,
		AnnualReturnPercent:     res.AnnualReturnPercent,
		AvailableIndicatorNames: res.AvailableIndicatorNames,
	}
	if summaryOnly {
		return out
	}
	out.TradeDays = make([]TradeDayJSON, len(res.TradeDays))
	for i := range res.TradeDays {
		d := &res.TradeDays[i]
		out.TradeDays[i] = TradeDayJSON{
			Date:            d.Date.Format(domain.DateLayout),
			Price:           d.Price,
			Indicators:      d.Indicators,
			Action:          d.Action,
			NumSharesOwned:  d.NumSharesOwned,
			NumSharesTraded: d.NumSharesTraded,
			InvestableCash:  d.InvestableCash,
			InvestmentValue: d.InvestmentValue,
		}
	}
	chart := report.BuildChart(res)
	out.Chart = &chart
	return out
}

// QuoteJSON is one daily close.
type QuoteJSON struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}
