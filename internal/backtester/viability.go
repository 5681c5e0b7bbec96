package backtester

import (
	"fmt"
	"math"

	"github.com/keplerlabs/quant-core/pkg/types"
)

// ViabilityThresholds are the floors a backtest must clear before a
// strategy is worth deploying. Metrics are compared against the report's
// annualized values.
type ViabilityThresholds struct {
	MinSharpeRatio   float64 `json:"minSharpeRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	MinProfitFactor  float64 `json:"minProfitFactor"`
	MinWinRate       float64 `json:"minWinRate"`
	MinTrades        int     `json:"minTrades"`
	MinSortinoRatio  float64 `json:"minSortinoRatio"`
	MinCalmarRatio   float64 `json:"minCalmarRatio"`
	MinWFConsistency float64 `json:"minWfConsistency"` // fraction of profitable walk-forward windows
}

// DefaultViabilityThresholds returns a conservative baseline.
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:   0.5,
		MaxDrawdown:      0.20,
		MinProfitFactor:  1.5,
		MinWinRate:       0.40,
		MinTrades:        30,
		MinSortinoRatio:  0.8,
		MinCalmarRatio:   0.5,
		MinWFConsistency: 0.60,
	}
}

// ViabilityCheck records one threshold comparison.
type ViabilityCheck struct {
	Metric   string  `json:"metric"`
	Actual   float64 `json:"actual"`
	Required float64 `json:"required"`
	Passed   bool    `json:"passed"`
}

// ViabilityReport is the verdict over a backtest report, with the failed
// checks spelled out.
type ViabilityReport struct {
	Viable   bool             `json:"viable"`
	Checks   []ViabilityCheck `json:"checks"`
	Failures []string         `json:"failures"`
}

// AssessViability scores a performance report against the thresholds.
// A walk-forward report is optional; when present its consistency is
// checked too. Too few trades fails immediately, the other metrics are
// statistically meaningless below that floor.
func AssessViability(report *types.PerformanceReport, wf *WalkForwardReport, thresholds ViabilityThresholds) *ViabilityReport {
	out := &ViabilityReport{Viable: true}

	if report.TotalTrades < thresholds.MinTrades {
		out.Viable = false
		out.Failures = append(out.Failures, fmt.Sprintf(
			"%d trades is below the %d needed for significance", report.TotalTrades, thresholds.MinTrades))
		return out
	}

	checkMin := func(metric string, actual, required float64) {
		passed := actual >= required || math.IsInf(actual, 1)
		out.Checks = append(out.Checks, ViabilityCheck{Metric: metric, Actual: actual, Required: required, Passed: passed})
		if !passed {
			out.Viable = false
			out.Failures = append(out.Failures, fmt.Sprintf("%s %.2f below required %.2f", metric, actual, required))
		}
	}

	checkMin("sharpe", report.SharpeRatio, thresholds.MinSharpeRatio)
	checkMin("sortino", report.SortinoRatio, thresholds.MinSortinoRatio)
	checkMin("calmar", report.CalmarRatio, thresholds.MinCalmarRatio)
	checkMin("profit_factor", report.ProfitFactor, thresholds.MinProfitFactor)
	checkMin("win_rate", report.WinRate, thresholds.MinWinRate)

	ddPassed := report.MaxDrawdown <= thresholds.MaxDrawdown
	out.Checks = append(out.Checks, ViabilityCheck{
		Metric: "max_drawdown", Actual: report.MaxDrawdown, Required: thresholds.MaxDrawdown, Passed: ddPassed,
	})
	if !ddPassed {
		out.Viable = false
		out.Failures = append(out.Failures, fmt.Sprintf(
			"max drawdown %.2f exceeds the %.2f limit", report.MaxDrawdown, thresholds.MaxDrawdown))
	}

	if wf != nil {
		checkMin("wf_consistency", wf.Consistency, thresholds.MinWFConsistency)
	}

	return out
}
