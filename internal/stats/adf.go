package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ADF critical values for the constant-only case. These are fixed (not
// sample-size interpolated); the 0.05 gate downstream was tuned against
// exactly this approximation.
const (
	adfCrit1  = -3.51
	adfCrit5  = -2.89
	adfCrit10 = -2.58
)

// ADFResult holds the outcome of the unit-root test.
type ADFResult struct {
	Statistic    float64
	PValue       float64
	IsStationary bool
}

// ADF runs a simplified Dickey-Fuller unit-root test on series: the change
// is regressed on the demeaned lagged level and the t-statistic of the
// coefficient is compared against fixed critical values. This is a
// single-lag, constant-only variant; it does not select augmentation lags.
// Returns nil when the series is too short or degenerate.
func ADF(series []float64) *ADFResult {
	if len(series) < 10 {
		return nil
	}

	lagged := demean(series[:len(series)-1])
	delta := diff(series)

	denom := 0.0
	num := 0.0
	for i, x := range lagged {
		num += x * delta[i]
		denom += x * x
	}
	if denom == 0 {
		return nil
	}

	gamma := num / denom

	// Residual variance of delta = gamma*lagged.
	var rss float64
	for i, x := range lagged {
		r := delta[i] - gamma*x
		rss += r * r
	}
	n := float64(len(lagged))
	if n <= 2 || rss == 0 {
		// A perfect fit means the spread collapses deterministically;
		// report the strongest rejection rather than dividing by zero.
		return &ADFResult{Statistic: adfCrit1, PValue: 0.01, IsStationary: true}
	}

	se := math.Sqrt(rss / (n - 2) / denom)
	if se == 0 {
		return nil
	}
	tStat := gamma / se

	p := pValueFor(tStat)
	return &ADFResult{
		Statistic:    tStat,
		PValue:       p,
		IsStationary: p <= 0.05,
	}
}

// pValueFor maps the test statistic into fixed p-value bands.
func pValueFor(t float64) float64 {
	switch {
	case t <= adfCrit1:
		return 0.01
	case t <= adfCrit5:
		return 0.05
	case t <= adfCrit10:
		return 0.10
	default:
		return 0.50
	}
}

// HalfLife estimates the mean-reversion half-life of a spread in bars from
// an Ornstein-Uhlenbeck discretization: delta is regressed on the lagged
// level and the half-life is -ln(2)/theta. Returns nil when the estimated
// reversion speed is non-negative (the spread is not mean-reverting) or the
// series is too short.
func HalfLife(spread []float64) *float64 {
	if len(spread) < 10 {
		return nil
	}

	lagged := spread[:len(spread)-1]
	delta := diff(spread)

	fit := OLS(lagged, delta)
	if fit == nil {
		return nil
	}

	theta := fit.Beta
	if theta >= 0 {
		return nil
	}

	hl := -math.Ln2 / theta
	return &hl
}

// MeanStd returns the sample mean and standard deviation of s.
func MeanStd(s []float64) (mean, std float64) {
	if len(s) == 0 {
		return 0, 0
	}
	mean = stat.Mean(s, nil)
	if len(s) > 1 {
		std = math.Sqrt(stat.Variance(s, nil))
	}
	return mean, std
}
