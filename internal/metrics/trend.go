package metrics

import "math"

// Trend labels the direction of a series over the course of a test.
type Trend string

const (
	TrendInsufficient      Trend = "insufficient_data"
	TrendStable            Trend = "stable"
	TrendLinearGrowth      Trend = "linear_growth"
	TrendExponentialGrowth Trend = "exponential_growth"
	TrendRecovering        Trend = "recovering"
	TrendVariable          Trend = "variable"
)

// stableBand is the largest first-to-last change, in series units, still
// considered flat.
const stableBand = 0.5

// ClassifyTrend compares the means of the first, middle and last thirds of
// series. Growth that more than doubles is exponential, any other steady rise
// is linear, a steady fall is recovering.
func ClassifyTrend(series []float64) Trend {
	n := len(series)
	if n < 3 {
		return TrendInsufficient
	}
	third := n / 3
	first := mean(series[:third])
	middle := mean(series[third : n-third])
	last := mean(series[n-third:])

	switch {
	case math.Abs(last-first) < stableBand:
		return TrendStable
	case first < middle && middle < last:
		if first > 0 && last > 2*first {
			return TrendExponentialGrowth
		}
		return TrendLinearGrowth
	case first > middle && middle > last:
		return TrendRecovering
	default:
		return TrendVariable
	}
}
