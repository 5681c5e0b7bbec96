package backtester

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/sizing"
	"github.com/keplerlabs/quant-core/internal/strategy"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// WalkForwardConfig controls how history is split into out-of-sample folds.
type WalkForwardConfig struct {
	Folds       int `json:"folds"`       // contiguous windows to test
	MinFoldBars int `json:"minFoldBars"` // smallest acceptable window
}

// DefaultWalkForwardConfig returns five folds of at least sixty bars.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{Folds: 5, MinFoldBars: 60}
}

// WindowResult is the outcome of one out-of-sample window.
type WindowResult struct {
	Start  time.Time                `json:"start"`
	End    time.Time                `json:"end"`
	Bars   int                      `json:"bars"`
	Report *types.PerformanceReport `json:"report"`
}

// WalkForwardReport aggregates the per-window results. Consistency is the
// fraction of windows that closed profitable; a strategy that only works on
// one stretch of history scores low even when the full-history backtest
// looks strong.
type WalkForwardReport struct {
	Windows     []WindowResult `json:"windows"`
	Consistency float64        `json:"consistency"`
	AvgSharpe   float64        `json:"avgSharpe"`
}

// WalkForwardAnalyzer replays a strategy over consecutive windows of
// history, each with a fresh ledger, to expose regime sensitivity that a
// single full-history run hides.
type WalkForwardAnalyzer struct {
	logger *zap.Logger
	config WalkForwardConfig
	engine types.BacktestConfig
	sizer  *sizing.PositionSizer
}

// NewWalkForwardAnalyzer creates an analyzer. Each window runs under the
// given backtest configuration with its own engine and portfolio.
func NewWalkForwardAnalyzer(logger *zap.Logger, config WalkForwardConfig, engineCfg types.BacktestConfig, sizer *sizing.PositionSizer) (*WalkForwardAnalyzer, error) {
	if config.Folds < 2 {
		return nil, fmt.Errorf("walk forward: need at least 2 folds, got %d", config.Folds)
	}
	if config.MinFoldBars < 2 {
		return nil, fmt.Errorf("walk forward: min fold bars %d too small", config.MinFoldBars)
	}
	return &WalkForwardAnalyzer{
		logger: logger,
		config: config,
		engine: engineCfg,
		sizer:  sizer,
	}, nil
}

// Run splits the bars into contiguous folds and backtests each one in
// isolation. Strategies are built fresh per window via the factory so no
// state leaks across folds.
func (w *WalkForwardAnalyzer) Run(ctx context.Context, newStrategy func() strategy.Strategy, bars []types.OHLCV) (*WalkForwardReport, error) {
	foldSize := len(bars) / w.config.Folds
	if foldSize < w.config.MinFoldBars {
		return nil, fmt.Errorf("walk forward: %d bars over %d folds leaves %d per fold, need %d",
			len(bars), w.config.Folds, foldSize, w.config.MinFoldBars)
	}

	report := &WalkForwardReport{Windows: make([]WindowResult, 0, w.config.Folds)}
	profitable := 0
	var sharpeSum float64

	for fold := 0; fold < w.config.Folds; fold++ {
		start := fold * foldSize
		end := start + foldSize
		if fold == w.config.Folds-1 {
			end = len(bars) // last fold absorbs the remainder
		}
		window := bars[start:end]

		engine, err := NewEngine(w.logger, w.engine, w.sizer)
		if err != nil {
			return nil, err
		}
		result, err := engine.Run(ctx, newStrategy(), window)
		if err != nil {
			return nil, fmt.Errorf("walk forward fold %d: %w", fold, err)
		}

		if result.TotalPnL.IsPositive() {
			profitable++
		}
		if !math.IsInf(result.SharpeRatio, 0) {
			sharpeSum += result.SharpeRatio
		}
		report.Windows = append(report.Windows, WindowResult{
			Start:  window[0].Timestamp,
			End:    window[len(window)-1].Timestamp,
			Bars:   len(window),
			Report: result,
		})

		w.logger.Debug("walk forward window complete",
			zap.Int("fold", fold),
			zap.Int("bars", len(window)),
			zap.Float64("sharpe", result.SharpeRatio),
		)
	}

	report.Consistency = float64(profitable) / float64(len(report.Windows))
	report.AvgSharpe = sharpeSum / float64(len(report.Windows))
	return report, nil
}
