package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// VaR returns the historical Value-at-Risk of a return series at the given
// confidence level (e.g. 0.95): the loss threshold not exceeded with that
// probability, reported as a positive number. Returns nil for an empty
// series or an out-of-range level.
func VaR(returns []float64, level float64) *float64 {
	if len(returns) == 0 || level <= 0 || level >= 1 {
		return nil
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	q := stat.Quantile(1-level, stat.Empirical, sorted, nil)
	v := -q
	if v < 0 {
		v = 0
	}
	return &v
}

// CVaR returns the historical Conditional Value-at-Risk (expected shortfall)
// at the given confidence level: the mean loss beyond the VaR threshold.
// CVaR is never smaller than VaR for the same level.
func CVaR(returns []float64, level float64) *float64 {
	v := VaR(returns, level)
	if v == nil {
		return nil
	}

	threshold := -*v
	var sum float64
	var count int
	for _, r := range returns {
		if r <= threshold {
			sum += r
			count++
		}
	}
	if count == 0 {
		out := *v
		return &out
	}

	c := -sum / float64(count)
	if c < *v {
		c = *v
	}
	return &c
}
