package backtest

import (
	"fmt"

	"backtester/internal/domain"
)

// IsTriggerActive reports whether trigger fires on day. Operand names must
// already be canonical (see computeIndicators). A missing operand means the
// indicator was never attached, which is an internal invariant violation and
// is returned as ErrIndicatorMissing.
func IsTriggerActive(day *domain.TradeDay, trigger domain.TriggerSpec) (bool, error) {
	v1, ok := day.Indicators[trigger.Indicator1.Name]
	if !ok {
		return false, fmt.Errorf("%w: %q on %s", ErrIndicatorMissing,
			trigger.Indicator1.Name, day.Date.Format(domain.DateLayout))
	}
	v2, ok := day.Indicators[trigger.Indicator2.Name]
	if !ok {
		return false, fmt.Errorf("%w: %q on %s", ErrIndicatorMissing,
			trigger.Indicator2.Name, day.Date.Format(domain.DateLayout))
	}

	switch trigger.Operator {
	case domain.OperatorGreater:
		return v1 > v2, nil
	case domain.OperatorLess:
		return v1 < v2, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", trigger.Operator)
	}
}
