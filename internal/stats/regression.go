// Package stats provides the statistical primitives behind pair selection:
// OLS regression, the ADF unit-root test, Hurst exponent estimation,
// Ornstein-Uhlenbeck half-life, a 2-variable Johansen test and tail-risk
// estimators. All functions operate on float64 series and return nil for
// insufficient or degenerate input rather than NaN or an error.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Regression is a fitted ordinary-least-squares line y = Alpha + Beta*x.
type Regression struct {
	Alpha    float64
	Beta     float64
	RSquared float64
}

// OLS fits y = alpha + beta*x by closed-form least squares. Returns nil when
// fewer than 3 points are given or the regressor has zero variance; callers
// must treat nil as "cannot evaluate".
func OLS(x, y []float64) *Regression {
	if len(x) != len(y) || len(x) < 3 {
		return nil
	}
	if stat.Variance(x, nil) == 0 {
		return nil
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return nil
	}

	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		// Zero-variance response: the fit is exact but R² is undefined.
		r2 = 1
	}

	return &Regression{Alpha: alpha, Beta: beta, RSquared: r2}
}

// Pearson returns the sample correlation of x and y, or nil when the series
// are too short or either has zero variance.
func Pearson(x, y []float64) *float64 {
	if len(x) != len(y) || len(x) < 3 {
		return nil
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return nil
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return nil
	}
	return &r
}

// diff returns the first differences of s.
func diff(s []float64) []float64 {
	if len(s) < 2 {
		return nil
	}
	d := make([]float64, len(s)-1)
	for i := 1; i < len(s); i++ {
		d[i-1] = s[i] - s[i-1]
	}
	return d
}

// demean returns s shifted to zero mean.
func demean(s []float64) []float64 {
	m := stat.Mean(s, nil)
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v - m
	}
	return out
}
