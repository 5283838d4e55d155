package backtest

import (
	"fmt"
	"time"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// BuildLedger creates one TradeDay per quote, in quote order, each with an
// empty indicator collection. An empty input yields an empty ledger.
func BuildLedger(quotes []domain.PriceQuote) []domain.TradeDay {
	days := make([]domain.TradeDay, len(quotes))
	for i, q := range quotes {
		days[i] = domain.TradeDay{
			Date:       q.Date,
			Price:      q.Price,
			Indicators: make(map[string]float64, 4),
		}
	}
	return days
}

// prices extracts the price column of the ledger.
func prices(days []domain.TradeDay) []float64 {
	out := make([]float64, len(days))
	for i := range days {
		out[i] = days[i].Price
	}
	return out
}

// attach writes one indicator series onto the ledger under name. A later
// attachment of the same name replaces the earlier value.
func attach(days []domain.TradeDay, name string, values []float64) {
	for i := range days {
		days[i].Indicators[name] = values[i]
	}
}

// computeIndicators calculates every indicator referenced by specs over the
// full ledger. Each canonical name is computed at most once; the names map
// is owned by the caller's run. The canonical name is written back onto each
// spec so trigger evaluation can find its series. It returns the names that
// were computed, in computation order.
func computeIndicators(days []domain.TradeDay, specs []*domain.IndicatorSpec) ([]string, error) {
	computed := make(map[string]bool, len(specs))
	var names []string
	var series []float64

	for _, spec := range specs {
		s, err := strategy.New(*spec)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", spec.Type, err)
		}
		name := s.Name()
		if !computed[name] {
			if series == nil {
				series = prices(days)
			}
			attach(days, name, s.Calculate(series))
			computed[name] = true
			names = append(names, name)
		}
		spec.Name = name
	}
	return names, nil
}

// Trim returns the days whose date falls within [start, end] inclusive, in
// their original order. The input slice is not modified.
func Trim(days []domain.TradeDay, start, end time.Time) []domain.TradeDay {
	out := make([]domain.TradeDay, 0, len(days))
	for _, d := range days {
		if d.Date.Before(start) || d.Date.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}
