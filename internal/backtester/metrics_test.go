package backtester

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keplerlabs/quant-core/pkg/types"
)

func equityCurve(values ...float64) []types.EquityCurvePoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := make([]types.EquityCurvePoint, len(values))
	for i, v := range values {
		curve[i] = types.EquityCurvePoint{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Equity:    decimal.NewFromFloat(v),
		}
	}
	return curve
}

func TestSharpe(t *testing.T) {
	mc := NewMetricsCalculator(0)

	// Mean 0.02 over sample std 0.01*sqrt(2) annualizes to sqrt(504).
	got := mc.Sharpe([]float64{0.01, 0.03})
	if math.Abs(got-math.Sqrt(504)) > 1e-9 {
		t.Errorf("sharpe = %f, want %f", got, math.Sqrt(504))
	}

	if got := mc.Sharpe([]float64{0.01}); got != 0 {
		t.Errorf("sharpe = %f, want 0 for a single return", got)
	}
	if got := mc.Sharpe([]float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("sharpe = %f, want 0 with zero variance", got)
	}
}

func TestSharpeRiskFreeRate(t *testing.T) {
	// 25.2% annualized is 0.1% per bar, cutting the mean 0.003 to an
	// excess of 0.002 over sample std 0.001*sqrt(2).
	mc := NewMetricsCalculator(0.252)
	got := mc.Sharpe([]float64{0.002, 0.004})
	if math.Abs(got-math.Sqrt(504)) > 1e-9 {
		t.Errorf("sharpe = %f, want %f", got, math.Sqrt(504))
	}
}

func TestSortino(t *testing.T) {
	mc := NewMetricsCalculator(0)

	mixed := []float64{0.02, -0.01, 0.02, -0.01}
	sortino := mc.Sortino(mixed)
	want := 0.005 / math.Sqrt(2e-4/4) * math.Sqrt(252)
	if math.Abs(sortino-want) > 1e-9 {
		t.Errorf("sortino = %f, want %f", sortino, want)
	}
	if sharpe := mc.Sharpe(mixed); sortino < sharpe {
		t.Errorf("sortino %f should never be below sharpe %f", sortino, sharpe)
	}

	if got := mc.Sortino([]float64{0.01, 0.02, 0.03}); !math.IsInf(got, 1) {
		t.Errorf("sortino = %f, want +Inf with no losing bars", got)
	}
	if got := mc.Sortino([]float64{0, 0, 0}); got != 0 {
		t.Errorf("sortino = %f, want 0 with no losses and no excess return", got)
	}
}

func TestCalmar(t *testing.T) {
	tests := []struct {
		name        string
		totalReturn float64
		maxDrawdown float64
		bars        int
		want        float64
	}{
		{"annualized over drawdown", 0.10, 0.05, 252, 2},
		{"no drawdown positive return", 0.10, 0, 50, math.Inf(1)},
		{"no drawdown negative return", -0.10, 0, 50, 0},
		{"no bars", 0.10, 0.05, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calmar(tt.totalReturn, tt.maxDrawdown, tt.bars)
			if math.IsInf(tt.want, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("calmar = %f, want +Inf", got)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("calmar = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMaxDrawdown(t *testing.T) {
	curve := equityCurve(100, 120, 90, 110)
	if got := MaxDrawdown(curve); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("max drawdown = %f, want 0.25", got)
	}
	if got := MaxDrawdown(nil); got != 0 {
		t.Errorf("max drawdown = %f, want 0 for an empty curve", got)
	}
	if got := MaxDrawdown(equityCurve(100, 110, 120)); got != 0 {
		t.Errorf("max drawdown = %f, want 0 for a monotone curve", got)
	}
}

func TestBarReturns(t *testing.T) {
	got := BarReturns(equityCurve(100, 110, 99))
	if len(got) != 2 {
		t.Fatalf("returns length = %d, want 2", len(got))
	}
	if math.Abs(got[0]-0.10) > 1e-12 || math.Abs(got[1]+0.10) > 1e-12 {
		t.Errorf("returns = %v, want [0.10 -0.10]", got)
	}
	if BarReturns(equityCurve(100)) != nil {
		t.Error("a single point has no returns")
	}
}

func TestCalculate(t *testing.T) {
	mc := NewMetricsCalculator(0)
	trades := []types.Trade{
		{PnL: decimal.NewFromInt(10)},
		{PnL: decimal.NewFromInt(5)},
		{PnL: decimal.NewFromInt(-5)},
	}
	curve := equityCurve(1000, 1005, 1010)

	report := mc.Calculate(trades, curve, decimal.NewFromInt(1000))

	if report.TotalTrades != 3 {
		t.Errorf("trades = %d, want 3", report.TotalTrades)
	}
	if math.Abs(report.WinRate-2.0/3) > 1e-12 {
		t.Errorf("win rate = %f, want 2/3", report.WinRate)
	}
	if math.Abs(report.ProfitFactor-3) > 1e-12 {
		t.Errorf("profit factor = %f, want 3", report.ProfitFactor)
	}
	if !report.TotalPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("total pnl = %s, want 10", report.TotalPnL)
	}
	if math.Abs(report.TotalReturn-0.01) > 1e-12 {
		t.Errorf("total return = %f, want 0.01", report.TotalReturn)
	}
	if report.MaxDrawdown != 0 {
		t.Errorf("max drawdown = %f, want 0", report.MaxDrawdown)
	}
	if !math.IsInf(report.CalmarRatio, 1) {
		t.Errorf("calmar = %f, want +Inf with no drawdown", report.CalmarRatio)
	}
	if !math.IsInf(report.SortinoRatio, 1) {
		t.Errorf("sortino = %f, want +Inf with no losing bars", report.SortinoRatio)
	}
	if report.SharpeRatio <= 0 {
		t.Errorf("sharpe = %f, want positive", report.SharpeRatio)
	}
}

func TestCalculateEmpty(t *testing.T) {
	mc := NewMetricsCalculator(0)
	report := mc.Calculate(nil, nil, decimal.NewFromInt(1000))
	if report.TotalTrades != 0 || report.WinRate != 0 || report.ProfitFactor != 0 {
		t.Errorf("report = %+v, want zeroed metrics with no trades", report)
	}
	if report.SharpeRatio != 0 || report.MaxDrawdown != 0 {
		t.Errorf("ratios should stay zero without an equity curve")
	}
}
