package strategy

import "backtester/internal/domain"

// Compile-time interface checks.
var (
	_ Strategy = closingPrice{}
	_ Strategy = fixedValue{}
	_ Strategy = movingAverage{}
	_ Strategy = exponentialMovingAverage{}
)

// closingPrice reports each day's own price.
type closingPrice struct{}

func (closingPrice) Name() string { return string(domain.IndicatorClose) }

func (closingPrice) Calculate(prices []float64) []float64 {
	out := make([]float64, len(prices))
	copy(out, prices)
	return out
}

// fixedValue reports the same constant for every day.
type fixedValue struct {
	value float64
}

func (f fixedValue) Name() string {
	return string(domain.IndicatorFixed) + "(" + formatValue(f.value) + ")"
}

func (f fixedValue) Calculate(prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = f.value
	}
	return out
}

// movingAverage is the simple moving average over the trailing period days,
// computed in one pass with a running sum.
//
// Until the window has filled (i < period-1) the running sum covers fewer
// than period prices but is still divided by period, so warm-up values are
// understated. Callers should not trust values before index period-1.
type movingAverage struct {
	period int
}

func (m movingAverage) Name() string {
	return string(domain.IndicatorSMA) + "(" + formatValue(float64(m.period)) + ")"
}

func (m movingAverage) Calculate(prices []float64) []float64 {
	out := make([]float64, len(prices))
	p := float64(m.period)
	sum := 0.0
	for i, price := range prices {
		sum += price
		if i > m.period-1 {
			sum -= prices[i-m.period]
		}
		out[i] = sum / p
	}
	return out
}

// exponentialMovingAverage uses the smoothing constant k = 2/(period+1).
//
// The previous value starts at zero, so days before index period carry a
// warm-up artifact. At index period the previous value is re-seeded from the
// trailing simple average, scaled by (1-k), and the recurrence
// price*k + prev*(1-k) then runs for every day. Both quirks are kept so
// results match previously stored analyses.
type exponentialMovingAverage struct {
	period int
}

func (e exponentialMovingAverage) Name() string {
	return string(domain.IndicatorEMA) + "(" + formatValue(float64(e.period)) + ")"
}

func (e exponentialMovingAverage) Calculate(prices []float64) []float64 {
	out := make([]float64, len(prices))
	p := float64(e.period)
	k := 2 / (p + 1)
	oneMinusK := 1 - k

	sum := 0.0
	prev := 0.0
	for i, price := range prices {
		sum += price
		if i > e.period-1 {
			sum -= prices[i-e.period]
		}
		if i == e.period {
			prev = (sum / p) * oneMinusK
		}
		cur := price*k + prev*oneMinusK
		out[i] = cur
		prev = cur
	}
	return out
}
