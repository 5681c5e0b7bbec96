// Package pairs implements the cointegration and pairs-trading engine:
// spread construction with a trailing hedge ratio, the cointegration test
// battery, a z-score signal state machine and a pair universe scanner.
package pairs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/kalman"
	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// SpreadSeries is the derived series spread[i] = a[i] - hedgeRatio*b[i] -
// intercept, tagged with the regression that produced it. It is recomputed
// whenever the hedge-ratio lookback window slides.
type SpreadSeries struct {
	Values     []float64
	HedgeRatio float64
	Intercept  float64
	RSquared   float64
}

// Analyzer evaluates whether two price series share a stable mean-reverting
// relationship.
type Analyzer struct {
	logger *zap.Logger
	config types.PairsConfig
	filter *kalman.Filter
}

// NewAnalyzer creates an analyzer; the configuration is validated up front.
func NewAnalyzer(logger *zap.Logger, config types.PairsConfig) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("pairs analyzer: %w", err)
	}
	return &Analyzer{
		logger: logger,
		config: config,
		filter: kalman.NewDefault(),
	}, nil
}

// Config returns the thresholds the analyzer was built with.
func (a *Analyzer) Config() types.PairsConfig { return a.config }

// BuildSpread estimates the hedge ratio on the trailing lookback window of
// the series and applies it to the entire series. The asymmetry is
// deliberate: the ratio itself is look-ahead-free while the spread stays
// consistent across the full history, which materially affects backtest
// realism. Returns nil when the regression cannot be fit.
func (a *Analyzer) BuildSpread(priceA, priceB []float64) *SpreadSeries {
	n := len(priceA)
	if len(priceB) < n {
		n = len(priceB)
	}
	if n < 3 {
		return nil
	}
	priceA, priceB = priceA[:n], priceB[:n]

	start := 0
	if n > a.config.HedgeLookback {
		start = n - a.config.HedgeLookback
	}

	fit := stats.OLS(priceB[start:], priceA[start:])
	if fit == nil {
		return nil
	}

	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = priceA[i] - fit.Beta*priceB[i] - fit.Alpha
	}

	return &SpreadSeries{
		Values:     values,
		HedgeRatio: fit.Beta,
		Intercept:  fit.Alpha,
		RSquared:   fit.RSquared,
	}
}

// KalmanHedgePath resets the filter and replays both series, returning the
// time-varying hedge-ratio path.
func (a *Analyzer) KalmanHedgePath(priceA, priceB []float64) []float64 {
	return a.filter.FitSeries(priceA, priceB)
}

// Evaluate runs the full cointegration battery on a pair and produces a
// fresh report. Insufficient or degenerate input degrades to a
// non-cointegrated report with reasons, never an error.
func (a *Analyzer) Evaluate(priceA, priceB []float64) *types.CointegrationReport {
	report := &types.CointegrationReport{}

	spread := a.BuildSpread(priceA, priceB)
	if spread == nil {
		report.Reasons = append(report.Reasons, "cannot fit hedge regression")
		return report
	}
	report.HedgeRatio = spread.HedgeRatio
	report.Intercept = spread.Intercept
	report.RSquared = spread.RSquared

	adf := stats.ADF(spread.Values)
	if adf == nil {
		report.Reasons = append(report.Reasons, "spread too short for adf test")
		return report
	}
	report.ADFStatistic = adf.Statistic
	report.ADFPValue = adf.PValue
	report.IsStationary = adf.IsStationary
	if !adf.IsStationary {
		report.Reasons = append(report.Reasons, "spread is not stationary")
	}

	report.HurstExponent = stats.Hurst(spread.Values, a.config.MaxHurstLag)
	if report.HurstExponent != nil && *report.HurstExponent >= stats.HurstTrending {
		report.Reasons = append(report.Reasons, "spread is trending, not mean-reverting")
	}

	report.HalfLifeBars = stats.HalfLife(spread.Values)
	if report.HalfLifeBars == nil {
		report.Reasons = append(report.Reasons, "no mean-reversion speed detected")
	}

	joh := stats.Johansen(priceA, priceB)
	report.JohansenRank = joh.Rank
	if joh.Reason != "" {
		report.Reasons = append(report.Reasons, joh.Reason)
	}

	report.IsCointegrated = report.IsStationary &&
		report.JohansenRank >= 1 &&
		(report.HurstExponent == nil || *report.HurstExponent < stats.HurstTrending)

	return report
}
