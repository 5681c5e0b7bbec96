package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/sizing"
	"github.com/keplerlabs/quant-core/internal/strategy"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// ProgressFunc receives completion fractions during a run, 0 to 1. May be
// nil.
type ProgressFunc func(done, total int)

// Engine replays bar history through a strategy. Each bar it asks the
// strategy for a signal on the history so far, sizes the resulting order,
// fills it through the cost model and samples the equity curve. Bars are
// processed strictly in order; the strategy never sees a future bar.
type Engine struct {
	logger   *zap.Logger
	config   types.BacktestConfig
	pairsCfg types.PairsConfig
	sizer    *sizing.PositionSizer

	progress ProgressFunc
}

// NewEngine creates an engine; the configuration is validated up front.
func NewEngine(logger *zap.Logger, config types.BacktestConfig, sizer *sizing.PositionSizer) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("backtest engine: %w", err)
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	return &Engine{
		logger:   logger,
		config:   config,
		pairsCfg: types.DefaultPairsConfig(),
		sizer:    sizer,
	}, nil
}

// SetPairsConfig overrides the exit and stop thresholds RunPairs uses. The
// thresholds should match the strategy's own, or exits will desynchronize.
func (e *Engine) SetPairsConfig(cfg types.PairsConfig) { e.pairsCfg = cfg }

// OnProgress registers a progress callback.
func (e *Engine) OnProgress(fn ProgressFunc) { e.progress = fn }

// Run backtests a single-asset strategy over the bar history. The context
// is checked each bar so long runs can be cancelled. Any open position is
// closed at the final bar's price.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, bars []types.OHLCV) (*types.PerformanceReport, error) {
	if len(bars) < 2 {
		return nil, fmt.Errorf("backtest engine: need at least 2 bars, got %d", len(bars))
	}

	portfolio := NewPortfolio(e.config.InitialCapital)
	costs := NewCostModel(e.config)
	closes := types.Closes(bars)
	symbol := e.config.Symbol
	if symbol == "" {
		symbol = bars[0].Symbol
	}

	var trades []types.Trade
	var openTrade *types.Trade
	var openBar int
	curve := make([]types.EquityCurvePoint, 0, len(bars))

	for i, bar := range bars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		portfolio.MarkPrice(symbol, bar.Close)

		sig := strat.GenerateSignal(closes[:i+1], bars[:i+1])
		pos := portfolio.Position(symbol)

		switch {
		case sig.Action == types.ActionBuy && pos == nil:
			decision := e.sizer.Calculate(&sizing.Request{
				Symbol:         symbol,
				PortfolioValue: portfolio.Equity(),
				Price:          bar.Close,
				Confidence:     sig.Confidence,
				Drawdown:       portfolio.Drawdown(),
				Returns:        barReturnsUpTo(closes, i),
			})
			if decision.Quantity.IsPositive() {
				realized, commission := costs.Fill(types.OrderSideBuy, decision.Quantity, bar.Close, bars[:i+1])
				portfolio.Buy(symbol, decision.Quantity, realized, commission, i, bar.Timestamp)
				openTrade = &types.Trade{
					ID:            uuid.NewString(),
					Symbol:        symbol,
					Side:          types.OrderSideBuy,
					Quantity:      decision.Quantity,
					Price:         bar.Close,
					RealizedPrice: realized,
					Fee:           commission,
					ExecutedAt:    bar.Timestamp,
				}
				openBar = i
			}

		case sig.Action == types.ActionSell && pos != nil:
			realized, commission := costs.Fill(types.OrderSideSell, pos.Quantity, bar.Close, bars[:i+1])
			pnl := portfolio.Sell(symbol, pos.Quantity, realized, commission)
			if openTrade != nil {
				closed := *openTrade
				closed.PnL = pnl
				closed.DurationBars = i - openBar
				closed.ExitReason = firstReason(sig.Reasons, "signal reversal")
				trades = append(trades, closed)
				openTrade = nil
			}
		}

		curve = append(curve, types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    portfolio.Equity(),
			Cash:      portfolio.Cash(),
			Drawdown:  portfolio.Drawdown(),
		})

		if e.progress != nil {
			e.progress(i+1, len(bars))
		}
	}

	// Flatten at the last bar so the report reflects closed PnL only.
	if pos := portfolio.Position(symbol); pos != nil {
		last := bars[len(bars)-1]
		realized, commission := costs.Fill(types.OrderSideSell, pos.Quantity, last.Close, bars)
		pnl := portfolio.Sell(symbol, pos.Quantity, realized, commission)
		if openTrade != nil {
			closed := *openTrade
			closed.PnL = pnl
			closed.DurationBars = len(bars) - 1 - openBar
			closed.ExitReason = "end of data"
			trades = append(trades, closed)
		}
		curve[len(curve)-1] = types.EquityCurvePoint{
			Timestamp: last.Timestamp,
			Equity:    portfolio.Equity(),
			Cash:      portfolio.Cash(),
			Drawdown:  portfolio.Drawdown(),
		}
	}

	return e.finish(trades, curve, costs)
}

// RunPairs backtests a spread strategy over two legs. Positions are taken
// in spread units: BUY goes long leg A and short hedgeRatio of leg B at the
// signalled ratio; SELL the reverse. Exits follow the z-score machine: the
// exit band flattens, the stop band flattens with a stop reason.
func (e *Engine) RunPairs(ctx context.Context, strat strategy.PairsStrategy, barsA, barsB []types.OHLCV) (*types.PerformanceReport, error) {
	n := len(barsA)
	if len(barsB) < n {
		n = len(barsB)
	}
	if n < 2 {
		return nil, fmt.Errorf("backtest engine: need at least 2 bars on both legs")
	}
	barsA, barsB = barsA[:n], barsB[:n]

	portfolio := NewPortfolio(e.config.InitialCapital)
	costs := NewCostModel(e.config)
	closesA := types.Closes(barsA)
	closesB := types.Closes(barsB)
	symA, symB := legSymbol(barsA, "legA"), legSymbol(barsB, "legB")

	var trades []types.Trade
	var openTrade *types.Trade // records the spread entry on leg A
	var openBar int
	var hedgeQtyB decimal.Decimal
	curve := make([]types.EquityCurvePoint, 0, n)

	closeSpread := func(i int, reason string) {
		posA := portfolio.Position(symA)
		posB := portfolio.Position(symB)
		var pnl decimal.Decimal
		if posA != nil {
			side := types.OrderSideSell
			if posA.Quantity.IsNegative() {
				side = types.OrderSideBuy
			}
			qty := posA.Quantity.Abs()
			realized, commission := costs.Fill(side, qty, barsA[i].Close, barsA[:i+1])
			if side == types.OrderSideSell {
				pnl = pnl.Add(portfolio.Sell(symA, qty, realized, commission))
			} else {
				pnl = pnl.Add(coverShort(portfolio, symA, qty, realized, commission))
			}
		}
		if posB != nil {
			side := types.OrderSideSell
			if posB.Quantity.IsNegative() {
				side = types.OrderSideBuy
			}
			qty := posB.Quantity.Abs()
			realized, commission := costs.Fill(side, qty, barsB[i].Close, barsB[:i+1])
			if side == types.OrderSideSell {
				pnl = pnl.Add(portfolio.Sell(symB, qty, realized, commission))
			} else {
				pnl = pnl.Add(coverShort(portfolio, symB, qty, realized, commission))
			}
		}
		if openTrade != nil {
			closed := *openTrade
			closed.PnL = pnl
			closed.DurationBars = i - openBar
			closed.ExitReason = reason
			trades = append(trades, closed)
			openTrade = nil
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		portfolio.MarkPrice(symA, barsA[i].Close)
		portfolio.MarkPrice(symB, barsB[i].Close)

		sig := strat.GenerateSignal(closesA[:i+1], closesB[:i+1])
		inPosition := openTrade != nil

		switch {
		case inPosition && sig.ZScore != 0 && absFloat(sig.ZScore) >= e.pairsCfg.StopZScore:
			closeSpread(i, "z-score stop")

		case inPosition && absFloat(sig.ZScore) <= e.pairsCfg.ExitZScore:
			closeSpread(i, "spread reverted to mean")

		case !inPosition && (sig.Action == types.ActionBuy || sig.Action == types.ActionSell):
			decision := e.sizer.Calculate(&sizing.Request{
				Symbol:         symA + "/" + symB,
				PortfolioValue: portfolio.Equity(),
				Price:          barsA[i].Close,
				Confidence:     sig.Confidence,
				Drawdown:       portfolio.Drawdown(),
				Returns:        barReturnsUpTo(closesA, i),
			})
			if !decision.Quantity.IsPositive() || sig.HedgeRatio <= 0 {
				break
			}
			qtyA := decision.Quantity
			hedgeQtyB = qtyA.Mul(decimal.NewFromFloat(sig.HedgeRatio))

			longLeg, shortLeg := symA, symB
			longHist, shortHist := barsA[:i+1], barsB[:i+1]
			longQty, shortQty := qtyA, hedgeQtyB
			if sig.Action == types.ActionSell {
				longLeg, shortLeg = symB, symA
				longHist, shortHist = barsB[:i+1], barsA[:i+1]
				longQty, shortQty = hedgeQtyB, qtyA
			}
			longBar, shortBar := longHist[i], shortHist[i]

			realizedLong, commLong := costs.Fill(types.OrderSideBuy, longQty, longBar.Close, longHist)
			portfolio.Buy(longLeg, longQty, realizedLong, commLong, i, longBar.Timestamp)

			realizedShort, commShort := costs.Fill(types.OrderSideSell, shortQty, shortBar.Close, shortHist)
			openShort(portfolio, shortLeg, shortQty, realizedShort, commShort, i, shortBar.Timestamp)

			openTrade = &types.Trade{
				ID:            uuid.NewString(),
				Symbol:        symA + "/" + symB,
				Side:          sideFor(sig.Action),
				Quantity:      qtyA,
				Price:         barsA[i].Close,
				RealizedPrice: realizedLong,
				Fee:           commLong.Add(commShort),
				ExecutedAt:    barsA[i].Timestamp,
			}
			openBar = i
		}

		curve = append(curve, types.EquityCurvePoint{
			Timestamp: barsA[i].Timestamp,
			Equity:    portfolio.Equity(),
			Cash:      portfolio.Cash(),
			Drawdown:  portfolio.Drawdown(),
		})

		if e.progress != nil {
			e.progress(i+1, n)
		}
	}

	if openTrade != nil {
		closeSpread(n-1, "end of data")
		curve[len(curve)-1] = types.EquityCurvePoint{
			Timestamp: barsA[n-1].Timestamp,
			Equity:    portfolio.Equity(),
			Cash:      portfolio.Cash(),
			Drawdown:  portfolio.Drawdown(),
		}
	}

	return e.finish(trades, curve, costs)
}

// finish assembles the report and runs any configured validation.
func (e *Engine) finish(trades []types.Trade, curve []types.EquityCurvePoint, costs *CostModel) (*types.PerformanceReport, error) {
	mc := NewMetricsCalculator(e.config.RiskFreeRate)
	report := mc.Calculate(trades, curve, e.config.InitialCapital)
	execCosts := costs.Costs()
	report.ExecutionCosts = &execCosts

	e.logger.Info("backtest complete",
		zap.String("id", e.config.ID),
		zap.Int("trades", report.TotalTrades),
		zap.Float64("total_return", report.TotalReturn),
		zap.Float64("sharpe", report.SharpeRatio),
		zap.Float64("max_drawdown", report.MaxDrawdown),
	)
	return report, nil
}

// Validate runs the configured statistical validation against a finished
// report and attaches nothing to it; callers combine the results.
func (e *Engine) Validate(report *types.PerformanceReport) (*types.PermutationResult, *types.MonteCarloResult) {
	var perm *types.PermutationResult
	var monte *types.MonteCarloResult

	if e.config.Validation.Permutation.Enabled {
		perm = NewPermutationTester(e.logger, e.config.Validation.Permutation).Run(BarReturns(report.EquityCurve))
	}
	if e.config.Validation.MonteCarlo.Enabled {
		capital, _ := e.config.InitialCapital.Float64()
		monte = NewMonteCarloSimulator(e.logger, e.config.Validation.MonteCarlo).Run(TradeReturns(report.Trades, capital))
	}
	return perm, monte
}

// openShort records a short leg as a negative-quantity position. The
// negative quantity credits the sale proceeds through the ledger while the
// commission still debits.
func openShort(p *Portfolio, symbol string, quantity, price, commission decimal.Decimal, bar int, at time.Time) {
	p.Buy(symbol, quantity.Neg(), price, commission, bar, at)
}

// coverShort buys back a negative position, returning the realized PnL.
func coverShort(p *Portfolio, symbol string, quantity, price, commission decimal.Decimal) decimal.Decimal {
	pos := p.Position(symbol)
	if pos == nil {
		return decimal.Zero
	}
	// Entry credited price*qty; covering debits at the current price.
	pnl := pos.AvgPrice.Sub(price).Mul(quantity).Sub(commission)
	p.Buy(symbol, quantity, price, commission, pos.OpenedBar, pos.OpenedAt)
	return pnl
}

func barReturnsUpTo(closes []float64, i int) []float64 {
	if i < 2 {
		return nil
	}
	out := make([]float64, 0, i)
	for k := 1; k <= i; k++ {
		if closes[k-1] != 0 {
			out = append(out, closes[k]/closes[k-1]-1)
		}
	}
	return out
}

func firstReason(reasons []string, fallback string) string {
	if len(reasons) > 0 {
		return reasons[0]
	}
	return fallback
}

func sideFor(action types.SignalAction) types.OrderSide {
	if action == types.ActionSell {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

func legSymbol(bars []types.OHLCV, fallback string) string {
	if len(bars) > 0 && bars[0].Symbol != "" {
		return bars[0].Symbol
	}
	return fallback
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
