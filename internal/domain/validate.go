package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidScenario is wrapped by every scenario validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// MaxPeriod is the largest SMA/EMA period, in trading days.
const MaxPeriod = 1 << 20

// Validate checks the scenario for inputs the engine cannot run. It does not
// touch the quote source, so history-length problems are reported later by
// the backtest runner.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidScenario)
	}
	if s.Start.IsZero() || s.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidScenario)
	}
	if s.End.Before(s.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidScenario,
			s.End.Format(DateLayout), s.Start.Format(DateLayout))
	}
	if !(s.StartingInvestment > 0) {
		return fmt.Errorf("%w: starting investment must be positive", ErrInvalidScenario)
	}
	if s.TransactionCost < 0 || math.IsNaN(s.TransactionCost) {
		return fmt.Errorf("%w: transaction cost must not be negative", ErrInvalidScenario)
	}
	if err := s.BuyTrigger.validate(); err != nil {
		return fmt.Errorf("%w: buy trigger: %v", ErrInvalidScenario, err)
	}
	if err := s.SellTrigger.validate(); err != nil {
		return fmt.Errorf("%w: sell trigger: %v", ErrInvalidScenario, err)
	}
	return nil
}

func (t *TriggerSpec) validate() error {
	switch t.Operator {
	case OperatorGreater, OperatorLess:
	default:
		return fmt.Errorf("unsupported operator %q", t.Operator)
	}
	if err := t.Indicator1.Validate(); err != nil {
		return fmt.Errorf("indicator1: %w", err)
	}
	if err := t.Indicator2.Validate(); err != nil {
		return fmt.Errorf("indicator2: %w", err)
	}
	return nil
}

// Validate checks that the indicator type is known and that windowed
// indicators carry a whole period in [1, MaxPeriod].
func (i *IndicatorSpec) Validate() error {
	switch i.Type {
	case IndicatorClose, IndicatorFixed:
		if math.IsNaN(i.Value1) || math.IsInf(i.Value1, 0) {
			return fmt.Errorf("%s value must be finite", i.Type)
		}
		return nil
	case IndicatorSMA, IndicatorEMA:
		if math.IsNaN(i.Value1) || i.Value1 < 1 || i.Value1 > MaxPeriod || i.Value1 != math.Trunc(i.Value1) {
			return fmt.Errorf("%s period must be a whole number in [1, %d], got %v", i.Type, MaxPeriod, i.Value1)
		}
		return nil
	default:
		return fmt.Errorf("unknown indicator type %q", i.Type)
	}
}
