package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Hurst bands used by the pairs engine. Below HurstMeanReverting the series
// reverts; at HurstTrending or above it trends; between the two is
// borderline, which halves signal confidence rather than rejecting the pair.
const (
	HurstMeanReverting = 0.5
	HurstTrending      = 0.6
)

// Hurst estimates the Hurst exponent from the scaling of lagged differences:
// the dispersion of s[t+lag]-s[t] grows as lag^H. The exponent is the slope
// of the log-log regression over lags 10..maxLag in steps of 2. A stationary
// series saturates toward H near 0, a random walk diffuses at H near 0.5 and
// a trend reads near 1. Returns nil when the series is shorter than twice
// maxLag, or when maxLag is below 14, which leaves fewer than three points
// on the lag grid.
func Hurst(series []float64, maxLag int) *float64 {
	if maxLag < 14 {
		return nil
	}
	if len(series) < maxLag*2 {
		return nil
	}

	var logLags, logScale []float64
	for lag := 10; lag <= maxLag; lag += 2 {
		scale := lagScale(series, lag)
		if scale <= 0 {
			continue
		}
		logLags = append(logLags, math.Log(float64(lag)))
		logScale = append(logScale, math.Log(scale))
	}
	if len(logLags) < 3 {
		return nil
	}

	fit := OLS(logLags, logScale)
	if fit == nil {
		return nil
	}
	h := fit.Beta
	return &h
}

// lagScale returns the root mean square of the lagged differences. The
// differences are not demeaned, so a deterministic trend scales linearly
// with the lag instead of vanishing.
func lagScale(series []float64, lag int) float64 {
	n := len(series) - lag
	sq := make([]float64, n)
	for i := 0; i < n; i++ {
		d := series[i+lag] - series[i]
		sq[i] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil))
}
