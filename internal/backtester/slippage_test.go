package backtester

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/keplerlabs/quant-core/pkg/types"
)

func volumeBars(volumes ...int64) []types.OHLCV {
	bars := make([]types.OHLCV, len(volumes))
	for i, v := range volumes {
		bars[i] = types.OHLCV{
			Close:  decimal.NewFromInt(100),
			Volume: decimal.NewFromInt(v),
		}
	}
	return bars
}

func TestFixedSlippageFraction(t *testing.T) {
	model := NewFixedSlippage(10)
	got := model.Fraction(decimal.NewFromInt(1), nil)
	if got != 0.001 {
		t.Errorf("fraction = %f, want 0.001 for 10 bps", got)
	}
}

func TestVolumeSlippageImpact(t *testing.T) {
	model := NewVolumeSlippage(5, 0.1)
	history := volumeBars(10000)

	got := model.Fraction(decimal.NewFromInt(100), history)
	want := 0.0005 + 0.1*math.Sqrt(0.01)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("fraction = %f, want %f", got, want)
	}

	// Larger orders against the same liquidity cost more to cross.
	bigger := model.Fraction(decimal.NewFromInt(400), history)
	if bigger <= got {
		t.Errorf("impact should grow with participation: %f <= %f", bigger, got)
	}
}

func TestVolumeSlippageAveragesWindow(t *testing.T) {
	model := NewVolumeSlippage(5, 0.1)

	// A thin fill bar inside a deep window: participation is judged against
	// the 10000 average, not the final bar's 2000.
	history := volumeBars(18000, 10000, 2000)
	got := model.Fraction(decimal.NewFromInt(100), history)
	want := 0.0005 + 0.1*math.Sqrt(0.01)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("fraction = %f, want %f from the window average", got, want)
	}

	// Only the trailing window counts: a huge bar beyond it has no effect.
	deepPast := append(volumeBars(1e9), volumeBars(
		10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000,
		10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000,
	)...)
	got = model.Fraction(decimal.NewFromInt(100), deepPast)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("fraction = %f, want %f ignoring bars beyond the window", got, want)
	}
}

func TestVolumeSlippageZeroVolume(t *testing.T) {
	model := NewVolumeSlippage(5, 0.1)

	if got := model.Fraction(decimal.NewFromInt(100), volumeBars(0, 0)); got != 0.0005 {
		t.Errorf("fraction = %f, want base 0.0005 when the window has no volume", got)
	}
	if got := model.Fraction(decimal.NewFromInt(100), nil); got != 0.0005 {
		t.Errorf("fraction = %f, want base 0.0005 with no history", got)
	}
}

func TestVolatilitySlippage(t *testing.T) {
	model := NewVolatilitySlippage(10, 20)

	short := makeBars("X", []float64{100, 101, 102})
	if got := model.Fraction(decimal.Zero, short); got != 0.001 {
		t.Errorf("fraction = %f, want base 0.001 with too little history", got)
	}

	calm := make([]float64, 30)
	for i := range calm {
		calm[i] = 100
	}
	if got := model.Fraction(decimal.Zero, makeBars("X", calm)); got != 0.001 {
		t.Errorf("fraction = %f, want base 0.001 on a flat tape", got)
	}

	turbulent := make([]float64, 30)
	for i := range turbulent {
		if i%2 == 0 {
			turbulent[i] = 100
		} else {
			turbulent[i] = 106
		}
	}
	if got := model.Fraction(decimal.Zero, makeBars("X", turbulent)); got <= 0.001 {
		t.Errorf("fraction = %f, want above base on a turbulent tape", got)
	}
}

func TestNewVolatilitySlippageDefaultWindow(t *testing.T) {
	model := NewVolatilitySlippage(10, 0)
	if model.Window != 20 {
		t.Errorf("window = %d, want default 20", model.Window)
	}
}

func TestNewSlippageModelDispatch(t *testing.T) {
	if _, ok := NewSlippageModel(types.SlippageConfig{Model: "volume"}).(*VolumeSlippage); !ok {
		t.Error("volume config should build a VolumeSlippage")
	}
	if _, ok := NewSlippageModel(types.SlippageConfig{Model: "volatility"}).(*VolatilitySlippage); !ok {
		t.Error("volatility config should build a VolatilitySlippage")
	}
	if _, ok := NewSlippageModel(types.SlippageConfig{}).(*FixedSlippage); !ok {
		t.Error("empty config should default to FixedSlippage")
	}
}

func TestCostModelFill(t *testing.T) {
	model := NewCostModel(types.BacktestConfig{
		Slippage:      types.SlippageConfig{Model: "fixed", Bps: 10},
		CommissionBps: 10,
	})
	qty := decimal.NewFromInt(1)
	price := decimal.NewFromInt(100)

	realized, commission := model.Fill(types.OrderSideBuy, qty, price, nil)
	if !realized.Equal(decimal.NewFromFloat(100.1)) {
		t.Errorf("buy fill = %s, want 100.1", realized)
	}
	if !commission.Equal(decimal.NewFromFloat(0.1001)) {
		t.Errorf("buy commission = %s, want 0.1001", commission)
	}

	realized, commission = model.Fill(types.OrderSideSell, qty, price, nil)
	if !realized.Equal(decimal.NewFromFloat(99.9)) {
		t.Errorf("sell fill = %s, want 99.9", realized)
	}
	if !commission.Equal(decimal.NewFromFloat(0.0999)) {
		t.Errorf("sell commission = %s, want 0.0999", commission)
	}

	costs := model.Costs()
	if !costs.TotalSlippage.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("total slippage = %s, want 0.2", costs.TotalSlippage)
	}
	if !costs.TotalCommission.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("total commission = %s, want 0.2", costs.TotalCommission)
	}
	if costs.Fills != 2 {
		t.Errorf("fills = %d, want 2", costs.Fills)
	}
}
