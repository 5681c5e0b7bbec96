// Package sizing converts a signal's confidence plus optional trade
// history, regime and return data into a capital allocation. The base
// primitive is the Kelly criterion; every variant is a pure transform
// composable in a fixed order, and each applied adjustment is recorded in
// the decision's method tag trail for auditability.
package sizing

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/regime"
	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// Config configures position sizing.
type Config struct {
	Fraction           float64 // base Kelly fraction (quarter Kelly default)
	MaxYoloPct         float64 // hard cap on position as % of portfolio
	DefaultPositionPct float64 // fallback when no statistics are available
	MinPositionValue   float64 // positions below this notional are skipped
	DrawdownThreshold  float64 // drawdown at which scaling bottoms out
	DrawdownFloor      float64 // fraction retained at the threshold
	MaxVaRPct          float64 // cap on positionPct * VaR estimate; 0 disables
	MaxCVaRPct         float64 // cap on positionPct * CVaR estimate; 0 disables
	TailConfidence     float64 // confidence level for VaR/CVaR estimates
	RoundTripCostPct   float64 // round-trip transaction cost as a fraction
	TargetVolatility   float64 // annualized vol target; 0 disables scaling
	MinTradeSample     int     // trades required before rolling stats are trusted
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Fraction:           0.25,
		MaxYoloPct:         0.25,
		DefaultPositionPct: 0.05,
		MinPositionValue:   10,
		DrawdownThreshold:  0.20,
		DrawdownFloor:      0.25,
		TailConfidence:     0.95,
		MinTradeSample:     10,
	}
}

// Validate rejects misconfiguration at construction time.
func (c *Config) Validate() error {
	if c.Fraction <= 0 || c.Fraction > 1 {
		return fmt.Errorf("sizing config: fraction must be in (0,1], got %f", c.Fraction)
	}
	if c.MaxYoloPct <= 0 || c.MaxYoloPct > 1 {
		return fmt.Errorf("sizing config: maxYoloPct must be in (0,1], got %f", c.MaxYoloPct)
	}
	if c.TailConfidence <= 0 || c.TailConfidence >= 1 {
		return fmt.Errorf("sizing config: tailConfidence must be in (0,1), got %f", c.TailConfidence)
	}
	if c.MaxVaRPct < 0 || c.MaxCVaRPct < 0 {
		return fmt.Errorf("sizing config: tail-risk caps must be non-negative")
	}
	if c.DrawdownFloor < 0 || c.DrawdownFloor > 1 {
		return fmt.Errorf("sizing config: drawdownFloor must be in [0,1], got %f", c.DrawdownFloor)
	}
	if c.MinPositionValue < 0 {
		return fmt.Errorf("sizing config: minPositionValue must be non-negative")
	}
	return nil
}

// TradeStats summarizes historical trade outcomes.
type TradeStats struct {
	WinRate    float64
	AvgWin     float64 // average winning return, positive
	AvgLoss    float64 // average losing return magnitude, positive
	SampleSize int
}

// PositionSizer calculates capital allocations.
type PositionSizer struct {
	logger *zap.Logger
	config Config
	rng    *rand.Rand
}

// NewPositionSizer creates a sizer; configuration errors fail fast here. A
// nil rng gets a fixed seed so bootstrap intervals are reproducible.
func NewPositionSizer(logger *zap.Logger, config Config, rng *rand.Rand) (*PositionSizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &PositionSizer{logger: logger, config: config, rng: rng}, nil
}

// Request contains the inputs for one sizing decision.
type Request struct {
	Symbol         string
	PortfolioValue decimal.Decimal
	Price          decimal.Decimal
	Confidence     float64 // signal confidence, 0-1

	Stats        *TradeStats   // explicit statistics take precedence
	TradeReturns []float64     // per-trade returns for rolling stats
	Regime       regime.Regime // optional regime label
	Drawdown     float64       // current portfolio drawdown, 0-1
	Returns      []float64     // bar returns for tail-risk constraints
	Volatility   float64       // current annualized volatility
}

// KellySize is the base primitive: the fraction of capital maximizing
// geometric growth, scaled by the configured Kelly fraction and clamped to
// [0, maxYoloPct]. A non-positive edge or degenerate statistics return 0.
func (ps *PositionSizer) KellySize(winRate, avgWin, avgLoss float64) float64 {
	return ps.kellyWithFraction(winRate, avgWin, avgLoss, ps.config.Fraction)
}

func (ps *PositionSizer) kellyWithFraction(winRate, avgWin, avgLoss, fraction float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgWin <= 0 || avgLoss <= 0 {
		return 0
	}

	edge := winRate*avgWin - (1-winRate)*avgLoss
	if edge <= 0 {
		return 0
	}

	kelly := edge / avgWin * fraction
	if kelly > ps.config.MaxYoloPct {
		kelly = ps.config.MaxYoloPct
	}
	return kelly
}

// AdaptiveFraction scales the Kelly fraction by trade-sample-size
// confidence: 60% of the configured fraction with no history, rising
// linearly to 100% at a hundred trades, then clamped to [0.20, 0.50].
// Non-decreasing in the sample size.
func (ps *PositionSizer) AdaptiveFraction(sampleSize int) float64 {
	conf := float64(sampleSize) / 100.0
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}

	f := ps.config.Fraction * (0.60 + 0.40*conf)
	if f < 0.20 {
		f = 0.20
	}
	if f > 0.50 {
		f = 0.50
	}
	return f
}

// DrawdownScale returns the scale-down applied during drawdowns: 100% at
// zero drawdown, falling linearly to the configured floor at the drawdown
// threshold and clamped at the floor beyond it.
func (ps *PositionSizer) DrawdownScale(drawdown float64) float64 {
	if drawdown <= 0 || ps.config.DrawdownThreshold <= 0 {
		return 1
	}
	if drawdown >= ps.config.DrawdownThreshold {
		return ps.config.DrawdownFloor
	}
	return 1 - (1-ps.config.DrawdownFloor)*drawdown/ps.config.DrawdownThreshold
}

// CostAdjusted subtracts the round-trip transaction cost, expressed in
// units of the average win, from a Kelly estimate. Floored at zero.
func (ps *PositionSizer) CostAdjusted(kelly, avgWin float64) float64 {
	if ps.config.RoundTripCostPct <= 0 || avgWin <= 0 {
		return kelly
	}
	adjusted := kelly - ps.config.RoundTripCostPct/avgWin
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// OptimalF grid-searches the optimal fixed fraction over f in [0.01, 1.00]
// in steps of 0.01, maximizing terminal wealth with each trade's return
// normalized by the worst loss. Returns nil when the history contains no
// losing trade, since the objective is unbounded without one.
func OptimalF(tradeReturns []float64) *float64 {
	var worstLoss float64
	for _, r := range tradeReturns {
		if r < worstLoss {
			worstLoss = r
		}
	}
	if worstLoss >= 0 {
		return nil
	}

	bestF := 0.01
	bestWealth := math.Inf(-1)
	for i := 1; i <= 100; i++ {
		f := float64(i) / 100.0
		wealth := 1.0
		for _, r := range tradeReturns {
			wealth *= 1 + f*r/-worstLoss
			if wealth <= 0 {
				wealth = math.Inf(-1)
				break
			}
		}
		if wealth > bestWealth {
			bestWealth = wealth
			bestF = f
		}
	}
	return &bestF
}

// WeightedStats computes trade statistics under exponential decay: a trade
// that is age positions old carries weight exp(-ln2/halfLife * age), so
// recent outcomes dominate. Returns nil for an empty history or a
// non-positive half-life.
func WeightedStats(tradeReturns []float64, halfLife float64) *TradeStats {
	if len(tradeReturns) == 0 || halfLife <= 0 {
		return nil
	}

	decay := math.Ln2 / halfLife
	var winW, lossW, winSum, lossSum float64
	n := len(tradeReturns)
	for i, r := range tradeReturns {
		w := math.Exp(-decay * float64(n-1-i))
		switch {
		case r > 0:
			winW += w
			winSum += w * r
		case r < 0:
			lossW += w
			lossSum += w * -r
		}
	}

	s := &TradeStats{SampleSize: n}
	total := winW + lossW
	if total == 0 {
		return s
	}
	s.WinRate = winW / total
	if winW > 0 {
		s.AvgWin = winSum / winW
	}
	if lossW > 0 {
		s.AvgLoss = lossSum / lossW
	}
	return s
}

// KellyInterval is a bootstrap confidence interval on the Kelly estimate.
type KellyInterval struct {
	Lower  float64 `json:"lower"`
	Median float64 `json:"median"`
	Upper  float64 `json:"upper"`
}

// BootstrapKelly resamples the trade history with replacement and reports
// the 2.5/50/97.5 percentiles of the resulting Kelly estimates. The sizer's
// rng drives the resampling, so a seeded sizer produces identical
// intervals. Returns nil for an empty history.
func (ps *PositionSizer) BootstrapKelly(tradeReturns []float64, resamples int) *KellyInterval {
	if len(tradeReturns) == 0 {
		return nil
	}
	if resamples <= 0 {
		resamples = 1000
	}

	estimates := make([]float64, resamples)
	sample := make([]float64, len(tradeReturns))
	for i := 0; i < resamples; i++ {
		for j := range sample {
			sample[j] = tradeReturns[ps.rng.Intn(len(tradeReturns))]
		}
		s := statsFrom(sample)
		estimates[i] = ps.KellySize(s.WinRate, s.AvgWin, s.AvgLoss)
	}
	sort.Float64s(estimates)

	return &KellyInterval{
		Lower:  quantileAt(estimates, 0.025),
		Median: quantileAt(estimates, 0.5),
		Upper:  quantileAt(estimates, 0.975),
	}
}

// PortfolioKelly scales candidate position sizes by the diversification
// discount 1/sqrt(1+(N-1)*avgAbsCorrelation), where the average is taken
// over pairwise return correlations. Perfectly uncorrelated books keep
// their full sizes; the discount never increases a position.
func PortfolioKelly(sizes map[string]float64, returns map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(sizes))
	n := len(sizes)
	if n <= 1 {
		for k, v := range sizes {
			out[k] = v
		}
		return out
	}

	symbols := make([]string, 0, n)
	for sym := range sizes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var corrSum float64
	var pairs int
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			if c := stats.Pearson(returns[symbols[i]], returns[symbols[j]]); c != nil {
				corrSum += math.Abs(*c)
				pairs++
			}
		}
	}

	scale := 1.0
	if pairs > 0 {
		avgAbsCorr := corrSum / float64(pairs)
		scale = 1 / math.Sqrt(1+float64(n-1)*avgAbsCorr)
	}
	for _, sym := range symbols {
		out[sym] = sizes[sym] * scale
	}
	return out
}

// Calculate orchestrates the sizing pipeline in a fixed order: base
// estimate, confidence, regime fraction, drawdown scale-down, tail-risk
// constraint (CVaR takes precedence over VaR), transaction-cost and
// volatility adjustments, then the final clamp and conversion to a
// quantity. Positions below MinPositionValue are rejected with method
// "skip", never rounded up.
func (ps *PositionSizer) Calculate(req *Request) *types.SizingDecision {
	tags := make([]string, 0, 6)

	pct, avgWin := ps.baseEstimate(req, &tags)

	if req.Confidence > 0 && req.Confidence < 1 {
		pct *= req.Confidence
	}

	if req.Drawdown > 0 {
		if scale := ps.DrawdownScale(req.Drawdown); scale < 1 {
			pct *= scale
			tags = append(tags, "dd_adjusted")
		}
	}

	pct = ps.applyTailRisk(pct, req.Returns, &tags)

	if ps.config.RoundTripCostPct > 0 && avgWin > 0 {
		if adjusted := ps.CostAdjusted(pct, avgWin); adjusted != pct {
			pct = adjusted
			tags = append(tags, "cost_adj")
		}
	}

	if ps.config.TargetVolatility > 0 && req.Volatility > 0 {
		leverage := ps.config.TargetVolatility / req.Volatility
		if leverage < 0.1 {
			leverage = 0.1
		}
		if leverage < 1 {
			pct *= leverage
			tags = append(tags, "vol_scaled")
		}
	}

	if pct < 0 {
		pct = 0
	}
	if pct > ps.config.MaxYoloPct {
		pct = ps.config.MaxYoloPct
		tags = append(tags, "capped")
	}

	decision := &types.SizingDecision{
		PositionPct: pct,
		Method:      strings.Join(tags, "+"),
	}

	portfolio, _ := req.PortfolioValue.Float64()
	price, _ := req.Price.Float64()
	notional := portfolio * pct

	if notional < ps.config.MinPositionValue || price <= 0 {
		decision.PositionPct = 0
		decision.Quantity = decimal.Zero
		decision.NotionalValue = decimal.Zero
		decision.Method = "skip"
		decision.Reason = fmt.Sprintf("notional %.2f below minimum %.2f", notional, ps.config.MinPositionValue)
		return decision
	}

	// Quantities and notionals are carried at 8 decimal places, which
	// absorbs float noise from the fraction pipeline.
	decision.NotionalValue = decimal.NewFromFloat(notional).Round(8)
	decision.Quantity = decision.NotionalValue.Div(req.Price).Round(8)

	ps.logger.Debug("position sized",
		zap.String("symbol", req.Symbol),
		zap.Float64("position_pct", pct),
		zap.String("method", decision.Method),
	)
	return decision
}

// baseEstimate picks the base position percentage. Explicit statistics win;
// otherwise rolling statistics from the trade history when the sample is
// large enough; otherwise the configured default. The Kelly fraction comes
// from the regime table when a regime is known, shrunk further by the
// adaptive sample-size scaling when that is tighter.
func (ps *PositionSizer) baseEstimate(req *Request, tags *[]string) (pct, avgWin float64) {
	fraction := ps.config.Fraction
	regimeTag := false
	if req.Regime != "" {
		fraction = req.Regime.KellyFraction()
		regimeTag = true
	}

	switch {
	case req.Stats != nil:
		fraction = ps.adaptive(fraction, req.Stats.SampleSize, tags)
		pct = ps.kellyWithFraction(req.Stats.WinRate, req.Stats.AvgWin, req.Stats.AvgLoss, fraction)
		avgWin = req.Stats.AvgWin
		*tags = append([]string{"kelly"}, *tags...)

	case len(req.TradeReturns) >= ps.config.MinTradeSample:
		s := statsFrom(req.TradeReturns)
		fraction = ps.adaptive(fraction, s.SampleSize, tags)
		pct = ps.kellyWithFraction(s.WinRate, s.AvgWin, s.AvgLoss, fraction)
		avgWin = s.AvgWin
		*tags = append([]string{"kelly_rolling"}, *tags...)

	default:
		pct = ps.config.DefaultPositionPct
		*tags = append([]string{"default"}, *tags...)
	}

	if regimeTag {
		*tags = append(*tags, "regime")
	}
	return pct, avgWin
}

// adaptive swaps in the sample-size-scaled fraction when it is tighter
// than the one already selected.
func (ps *PositionSizer) adaptive(fraction float64, sampleSize int, tags *[]string) float64 {
	adaptive := ps.AdaptiveFraction(sampleSize)
	if adaptive < fraction {
		*tags = append(*tags, "adaptive")
		return adaptive
	}
	return fraction
}

// applyTailRisk scales the position so that positionPct multiplied by the
// tail-risk estimate stays within the configured cap. CVaR takes precedence
// over VaR when both are configured; CVaR >= VaR at the same level, so the
// CVaR constraint is never looser.
func (ps *PositionSizer) applyTailRisk(pct float64, returns []float64, tags *[]string) float64 {
	if pct <= 0 || len(returns) == 0 {
		return pct
	}

	if ps.config.MaxCVaRPct > 0 {
		if cvar := stats.CVaR(returns, ps.config.TailConfidence); cvar != nil && *cvar > 0 {
			if pct**cvar > ps.config.MaxCVaRPct {
				pct = ps.config.MaxCVaRPct / *cvar
				*tags = append(*tags, "cvar")
			}
		}
		return pct
	}

	if ps.config.MaxVaRPct > 0 {
		if v := stats.VaR(returns, ps.config.TailConfidence); v != nil && *v > 0 {
			if pct**v > ps.config.MaxVaRPct {
				pct = ps.config.MaxVaRPct / *v
				*tags = append(*tags, "var")
			}
		}
	}
	return pct
}

// statsFrom computes unweighted trade statistics.
func statsFrom(tradeReturns []float64) *TradeStats {
	s := &TradeStats{SampleSize: len(tradeReturns)}
	if len(tradeReturns) == 0 {
		return s
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, r := range tradeReturns {
		switch {
		case r > 0:
			wins++
			winSum += r
		case r < 0:
			losses++
			lossSum += -r
		}
	}
	s.WinRate = float64(wins) / float64(len(tradeReturns))
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}
	return s
}

// quantileAt returns the empirical quantile of sorted values with linear
// interpolation between ranks.
func quantileAt(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
