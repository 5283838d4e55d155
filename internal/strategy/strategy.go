// Package strategy implements the indicator strategies a scenario's triggers
// are built from. Each strategy turns an ordered daily price series into one
// derived value per day.
package strategy

import (
	"errors"
	"fmt"
	"strconv"

	"backtester/internal/domain"
)

// ErrUnknownIndicator is returned by New for an indicator type outside the
// supported set.
var ErrUnknownIndicator = errors.New("unknown indicator type")

// Strategy is the interface implemented by every indicator computation.
type Strategy interface {
	// Name returns the canonical name, e.g. "SMA(20)", "FIX(35.5)" or
	// "CLOSE". Two specs with the same name compute the same series.
	Name() string

	// Calculate returns one value per input price, in the same order.
	Calculate(prices []float64) []float64
}

// New returns the strategy for spec. The set of indicator types is closed;
// anything unrecognised is an error rather than a silent closing-price
// fallback.
func New(spec domain.IndicatorSpec) (Strategy, error) {
	switch spec.Type {
	case domain.IndicatorClose:
		return closingPrice{}, nil
	case domain.IndicatorFixed:
		return fixedValue{value: spec.Value1}, nil
	case domain.IndicatorSMA:
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return movingAverage{period: int(spec.Value1)}, nil
	case domain.IndicatorEMA:
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return exponentialMovingAverage{period: int(spec.Value1)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, spec.Type)
	}
}

// CanonicalName returns the de-duplication key for spec without building
// the strategy.
func CanonicalName(spec domain.IndicatorSpec) (string, error) {
	s, err := New(spec)
	if err != nil {
		return "", err
	}
	return s.Name(), nil
}

// formatValue renders v in its shortest round-trip form: 20 -> "20",
// 35.5 -> "35.5".
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// Choice describes one indicator type a user can pick, with labels for its
// configurable parameters. An empty label means the parameter is unused.
type Choice struct {
	Type        domain.IndicatorType `json:"type"`
	Label       string               `json:"label"`
	Value1Label string               `json:"value1Label"`
	Value2Label string               `json:"value2Label"`
}

// Catalog returns the indicator types available for trigger definitions.
func Catalog() []Choice {
	return []Choice{
		{Type: domain.IndicatorSMA, Label: "Moving Average", Value1Label: "Period"},
		{Type: domain.IndicatorEMA, Label: "Exp Moving Average", Value1Label: "Period"},
		{Type: domain.IndicatorFixed, Label: "Fixed Value", Value1Label: "Value"},
		{Type: domain.IndicatorClose, Label: "Closing Price"},
	}
}
