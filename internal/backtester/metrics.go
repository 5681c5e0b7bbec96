package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
)

const barsPerYear = 252

// MetricsCalculator derives risk-adjusted performance metrics from an
// equity curve and the closed trades of a run. Ratio metrics are float64 so
// that the degenerate cases (no drawdown, no losses) can carry +Inf instead
// of an arbitrary sentinel.
type MetricsCalculator struct {
	riskFreeRate float64 // annualized
}

// NewMetricsCalculator creates a calculator with the given annualized
// risk-free rate.
func NewMetricsCalculator(riskFreeRate float64) *MetricsCalculator {
	return &MetricsCalculator{riskFreeRate: riskFreeRate}
}

// Calculate fills the metric fields of a performance report. Fewer than two
// equity points leaves the ratios at zero.
func (mc *MetricsCalculator) Calculate(
	trades []types.Trade,
	equityCurve []types.EquityCurvePoint,
	initialCapital decimal.Decimal,
) *types.PerformanceReport {
	report := &types.PerformanceReport{
		TotalTrades: len(trades),
		Trades:      trades,
		EquityCurve: equityCurve,
	}

	var wins int
	var totalWins, totalLosses decimal.Decimal
	for _, t := range trades {
		switch {
		case t.PnL.GreaterThan(decimal.Zero):
			wins++
			totalWins = totalWins.Add(t.PnL)
		case t.PnL.LessThan(decimal.Zero):
			totalLosses = totalLosses.Add(t.PnL.Abs())
		}
	}
	if len(trades) > 0 {
		report.WinRate = float64(wins) / float64(len(trades))
	}
	report.ProfitFactor = profitFactor(totalWins, totalLosses)

	if len(equityCurve) == 0 || initialCapital.IsZero() {
		return report
	}

	final := equityCurve[len(equityCurve)-1].Equity
	report.TotalPnL = final.Sub(initialCapital)
	report.TotalReturn, _ = report.TotalPnL.Div(initialCapital).Float64()
	report.MaxDrawdown = MaxDrawdown(equityCurve)

	returns := BarReturns(equityCurve)
	report.SharpeRatio = mc.Sharpe(returns)
	report.SortinoRatio = mc.Sortino(returns)
	report.CalmarRatio = Calmar(report.TotalReturn, report.MaxDrawdown, len(returns))

	return report
}

// Sharpe annualizes mean excess return over total volatility. Zero variance
// or too few points yields 0.
func (mc *MetricsCalculator) Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stats.MeanStd(returns)
	if std == 0 {
		return 0
	}
	excess := mean - mc.riskFreeRate/barsPerYear
	return excess / std * math.Sqrt(barsPerYear)
}

// Sortino annualizes mean excess return over downside deviation only, so a
// strategy with no losing bars scores +Inf when its mean excess return is
// positive. Sortino is never below Sharpe for the same series.
func (mc *MetricsCalculator) Sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	rfBar := mc.riskFreeRate / barsPerYear
	mean, _ := stats.MeanStd(returns)
	excess := mean - rfBar

	var downSq float64
	var downN int
	for _, r := range returns {
		if r < rfBar {
			d := r - rfBar
			downSq += d * d
			downN++
		}
	}
	if downN == 0 {
		if excess > 0 {
			return math.Inf(1)
		}
		return 0
	}

	downside := math.Sqrt(downSq / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	return excess / downside * math.Sqrt(barsPerYear)
}

// Calmar divides annualized return by maximum drawdown. No drawdown with a
// positive return is +Inf; no drawdown with a non-positive return is 0.
func Calmar(totalReturn, maxDrawdown float64, bars int) float64 {
	if bars <= 0 {
		return 0
	}
	annualized := totalReturn * barsPerYear / float64(bars)
	if maxDrawdown == 0 {
		if totalReturn > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return annualized / maxDrawdown
}

// MaxDrawdown returns the deepest peak-to-trough equity decline as a
// fraction of the peak.
func MaxDrawdown(curve []types.EquityCurvePoint) float64 {
	var maxDD float64
	peak := decimal.Zero
	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd, _ := peak.Sub(pt.Equity).Div(peak).Float64()
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// BarReturns converts an equity curve into per-bar simple returns.
func BarReturns(curve []types.EquityCurvePoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

// profitFactor is gross wins over gross losses. No losses with wins is
// +Inf; no trades at all, or losses without wins, is 0.
func profitFactor(totalWins, totalLosses decimal.Decimal) float64 {
	if totalLosses.IsZero() {
		if totalWins.GreaterThan(decimal.Zero) {
			return math.Inf(1)
		}
		return 0
	}
	pf, _ := totalWins.Div(totalLosses).Float64()
	return pf
}
