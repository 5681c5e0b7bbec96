package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
	"github.com/keplerlabs/quant-core/pkg/utils"
)

// SlippageModel returns the adverse price fraction for a fill. history is
// the bar series up to and including the fill bar. The fraction is always
// non-negative; direction is applied at fill time, so buys pay more and
// sells receive less.
type SlippageModel interface {
	Fraction(quantity decimal.Decimal, history []types.OHLCV) float64
}

// FixedSlippage applies a constant basis-point fraction to every fill.
type FixedSlippage struct {
	Bps float64
}

// NewFixedSlippage creates a fixed slippage model.
func NewFixedSlippage(bps float64) *FixedSlippage {
	return &FixedSlippage{Bps: bps}
}

func (f *FixedSlippage) Fraction(_ decimal.Decimal, _ []types.OHLCV) float64 {
	return f.Bps / 10000
}

// VolumeSlippage adds square-root market impact on top of a base fraction:
// impact = coeff * sqrt(orderQty / avgVolume), where avgVolume is the mean
// volume over a trailing window of bars. A window with no volume falls back
// to the base fraction.
type VolumeSlippage struct {
	BaseBps     float64
	ImpactCoeff float64
	Window      int
}

// NewVolumeSlippage creates a volume-participation slippage model with a
// 20-bar volume window.
func NewVolumeSlippage(baseBps, impactCoeff float64) *VolumeSlippage {
	return &VolumeSlippage{BaseBps: baseBps, ImpactCoeff: impactCoeff, Window: 20}
}

func (v *VolumeSlippage) Fraction(quantity decimal.Decimal, history []types.OHLCV) float64 {
	base := v.BaseBps / 10000

	start := len(history) - v.Window
	if start < 0 {
		start = 0
	}
	recent := history[start:]
	if len(recent) == 0 {
		return base
	}

	var total decimal.Decimal
	for _, bar := range recent {
		total = total.Add(bar.Volume)
	}
	if !total.IsPositive() {
		return base
	}
	avgVolume := total.Div(decimal.NewFromInt(int64(len(recent))))

	participation, _ := quantity.Div(avgVolume).Float64()
	if participation <= 0 {
		return base
	}
	return base + v.ImpactCoeff*math.Sqrt(participation)
}

// VolatilitySlippage scales the base fraction by recent realized volatility:
// turbulent bars cost more to cross. Too little history falls back to the
// base fraction.
type VolatilitySlippage struct {
	BaseBps float64
	Window  int
}

// NewVolatilitySlippage creates a volatility-scaled slippage model.
func NewVolatilitySlippage(baseBps float64, window int) *VolatilitySlippage {
	if window <= 1 {
		window = 20
	}
	return &VolatilitySlippage{BaseBps: baseBps, Window: window}
}

func (v *VolatilitySlippage) Fraction(_ decimal.Decimal, history []types.OHLCV) float64 {
	base := v.BaseBps / 10000
	if len(history) < v.Window+1 {
		return base
	}

	returns := utils.Returns(types.Closes(history[len(history)-v.Window-1:]))
	if len(returns) < 2 {
		return base
	}

	_, std := stats.MeanStd(returns)
	// Scale relative to a 2% per-bar volatility baseline.
	scale := std / 0.02
	if scale < 1 {
		scale = 1
	}
	return base * scale
}

// NewSlippageModel builds a model from configuration. Unknown models are
// rejected by SlippageConfig.Validate before reaching here; an empty model
// means fixed.
func NewSlippageModel(config types.SlippageConfig) SlippageModel {
	switch config.Model {
	case "volume":
		return NewVolumeSlippage(config.Bps, config.ImpactCoeff)
	case "volatility":
		return NewVolatilitySlippage(config.Bps, config.VolWindow)
	default:
		return NewFixedSlippage(config.Bps)
	}
}

// CostModel applies slippage and commission to fills and accumulates the
// totals for the run report.
type CostModel struct {
	slippage      SlippageModel
	commissionBps float64
	costs         types.ExecutionCosts
}

// NewCostModel creates a cost model from backtest configuration.
func NewCostModel(config types.BacktestConfig) *CostModel {
	return &CostModel{
		slippage:      NewSlippageModel(config.Slippage),
		commissionBps: config.CommissionBps,
	}
}

// Fill computes the realized price and commission for an order filled on
// the last bar of history. Buys are filled above the intended price, sells
// below; commission applies to the realized notional. Both costs accumulate
// across the run.
func (c *CostModel) Fill(side types.OrderSide, quantity, price decimal.Decimal, history []types.OHLCV) (realized, commission decimal.Decimal) {
	frac := c.slippage.Fraction(quantity, history)
	slip := price.Mul(decimal.NewFromFloat(frac))

	if side == types.OrderSideBuy {
		realized = price.Add(slip)
	} else {
		realized = price.Sub(slip)
	}

	notional := quantity.Mul(realized)
	commission = notional.Mul(decimal.NewFromFloat(c.commissionBps / 10000))

	c.costs.TotalSlippage = c.costs.TotalSlippage.Add(quantity.Mul(slip))
	c.costs.TotalCommission = c.costs.TotalCommission.Add(commission)
	c.costs.Fills++

	return realized, commission
}

// Costs returns the accumulated execution costs.
func (c *CostModel) Costs() types.ExecutionCosts {
	return c.costs
}
