// Package regime classifies the prevailing market state from a trailing
// return window. The labels feed the position sizer's regime-to-fraction
// table; classification is deterministic for a given return series.
package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/stats"
)

// Regime labels the prevailing market state.
type Regime string

const (
	RegimeBullLowVol  Regime = "bull_low_vol"
	RegimeBullHighVol Regime = "bull_high_vol"
	RegimeBearLowVol  Regime = "bear_low_vol"
	RegimeBearHighVol Regime = "bear_high_vol"
	RegimeNeutral     Regime = "neutral"
	RegimeUncertain   Regime = "uncertain"
)

// KellyFraction returns the Kelly fraction assigned to each regime. The
// table is fixed: confident regimes trade closer to half Kelly, uncertainty
// scales down to a fifth.
func (r Regime) KellyFraction() float64 {
	switch r {
	case RegimeBullLowVol:
		return 0.50
	case RegimeBullHighVol:
		return 0.35
	case RegimeNeutral:
		return 0.30
	case RegimeBearLowVol:
		return 0.30
	case RegimeBearHighVol:
		return 0.25
	default:
		return 0.20
	}
}

// DetectorConfig configures the classifier thresholds.
type DetectorConfig struct {
	Window        int     // trailing bars used for classification
	VolThreshold  float64 // annualized volatility dividing low from high vol
	TrendStrength float64 // t-statistic magnitude required to call a trend
}

// DefaultDetectorConfig returns the standard thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:        60,
		VolThreshold:  0.25,
		TrendStrength: 1.0,
	}
}

// Detector classifies market regimes from bar returns.
type Detector struct {
	logger *zap.Logger
	config DetectorConfig
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(logger *zap.Logger, config DetectorConfig) *Detector {
	if config.Window <= 0 {
		config = DefaultDetectorConfig()
	}
	return &Detector{logger: logger, config: config}
}

// Classify labels the regime of the trailing window of returns. Too little
// data, or a window with no variance, is uncertain.
func (d *Detector) Classify(returns []float64) Regime {
	if len(returns) < d.config.Window/2 {
		return RegimeUncertain
	}

	window := returns
	if len(window) > d.config.Window {
		window = window[len(window)-d.config.Window:]
	}

	mean, std := stats.MeanStd(window)
	if std == 0 {
		return RegimeUncertain
	}

	// Trend strength as a t-statistic of the mean return.
	tStat := mean / (std / math.Sqrt(float64(len(window))))
	annualVol := std * math.Sqrt(252)
	highVol := annualVol >= d.config.VolThreshold

	switch {
	case tStat >= d.config.TrendStrength && highVol:
		return RegimeBullHighVol
	case tStat >= d.config.TrendStrength:
		return RegimeBullLowVol
	case tStat <= -d.config.TrendStrength && highVol:
		return RegimeBearHighVol
	case tStat <= -d.config.TrendStrength:
		return RegimeBearLowVol
	default:
		return RegimeNeutral
	}
}
