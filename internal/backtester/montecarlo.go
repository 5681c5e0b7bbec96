package backtester

import (
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/pkg/types"
)

// PermutationTester measures whether a strategy's Sharpe ratio could have
// arisen by chance. It shuffles the bar returns with Fisher-Yates,
// rebuilding the curve's Sharpe under each permutation; the p-value is the
// fraction of shuffles whose Sharpe is at least the observed one. Ties
// count, so an order-invariant curve reads as insignificant (p near 1)
// rather than significant. A pure reordering of the same returns preserves
// the terminal equity, so the test isolates path-dependence from aggregate
// return.
type PermutationTester struct {
	logger *zap.Logger
	config types.PermutationConfig
	rng    *rand.Rand
}

// NewPermutationTester creates a tester. A zero seed randomizes each run;
// any other seed makes the test reproducible.
func NewPermutationTester(logger *zap.Logger, config types.PermutationConfig) *PermutationTester {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PermutationTester{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run executes the permutation test over the bar returns of an equity
// curve. Returns nil with fewer than 10 return points, where the test has
// no power.
func (pt *PermutationTester) Run(returns []float64) *types.PermutationResult {
	if len(returns) < 10 {
		return nil
	}

	samples := pt.config.Samples
	if samples <= 0 {
		samples = 1000
	}

	mc := NewMetricsCalculator(0)
	observed := mc.Sharpe(returns)

	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)

	beat := 0
	for i := 0; i < samples; i++ {
		// Fisher-Yates.
		for j := len(shuffled) - 1; j > 0; j-- {
			k := pt.rng.Intn(j + 1)
			shuffled[j], shuffled[k] = shuffled[k], shuffled[j]
		}
		if mc.Sharpe(shuffled) >= observed {
			beat++
		}
	}

	pValue := float64(beat) / float64(samples)
	result := &types.PermutationResult{
		Samples:        samples,
		ObservedSharpe: observed,
		PValue:         pValue,
		Percentile:     (1 - pValue) * 100,
	}

	pt.logger.Debug("permutation test complete",
		zap.Int("samples", samples),
		zap.Float64("observed_sharpe", observed),
		zap.Float64("p_value", pValue),
	)
	return result
}

// MonteCarloSimulator resamples the trade sequence with replacement to
// estimate the distribution of outcomes the strategy could produce.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config types.MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator creates a simulator; a zero seed randomizes.
func NewMonteCarloSimulator(logger *zap.Logger, config types.MonteCarloConfig) *MonteCarloSimulator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MonteCarloSimulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run bootstraps the per-trade return sequence. Each iteration draws
// len(trades) returns with replacement, compounds them into an equity path
// and records the terminal return and maximum drawdown. Ruin is a path that
// loses half its capital.
func (mc *MonteCarloSimulator) Run(tradeReturns []float64) *types.MonteCarloResult {
	if len(tradeReturns) == 0 {
		return &types.MonteCarloResult{}
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	terminal := make([]float64, iterations)
	drawdowns := make([]float64, iterations)
	ruined := 0

	for i := 0; i < iterations; i++ {
		equity, peak := 1.0, 1.0
		var maxDD float64
		ruin := false
		for range tradeReturns {
			r := tradeReturns[mc.rng.Intn(len(tradeReturns))]
			equity *= 1 + r
			if equity > peak {
				peak = equity
			}
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
			if equity <= 0.5 {
				ruin = true
			}
		}
		terminal[i] = equity - 1
		drawdowns[i] = maxDD
		if ruin {
			ruined++
		}
	}

	sort.Float64s(terminal)
	sort.Float64s(drawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    percentileOf(terminal, 50),
		P5Return:        percentileOf(terminal, 5),
		P95Return:       percentileOf(terminal, 95),
		ProbabilityRuin: float64(ruined) / float64(iterations),
		MaxDrawdownP95:  percentileOf(drawdowns, 95),
	}

	mc.logger.Debug("monte carlo resampling complete",
		zap.Int("iterations", iterations),
		zap.Float64("median_return", result.MedianReturn),
		zap.Float64("probability_ruin", result.ProbabilityRuin),
	)
	return result
}

// TradeReturns extracts per-trade returns relative to initial capital.
func TradeReturns(trades []types.Trade, initialCapital float64) []float64 {
	if initialCapital <= 0 {
		return nil
	}
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		out = append(out, pnl/initialCapital)
	}
	return out
}

func percentileOf(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(pct / 100 * float64(len(sorted)-1))
	return sorted[idx]
}
