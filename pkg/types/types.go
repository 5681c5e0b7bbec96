// Package types provides shared type definitions for the quant core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SignalAction is the direction a strategy wants to trade
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// OHLCV represents a single candlestick. Bars are immutable once produced;
// ordered bar sequences are the only external input to the core.
type OHLCV struct {
	Symbol    string          `json:"symbol,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Closes extracts the close series as float64 for statistical routines.
func Closes(bars []OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// Signal is a strategy's verdict for the current bar. It is a pure function
// of its inputs: identical inputs must produce an identical Signal.
type Signal struct {
	Symbol     string       `json:"symbol,omitempty"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"` // 0-1
	ZScore     float64      `json:"zScore"`
	HedgeRatio float64      `json:"hedgeRatio,omitempty"`
	Reasons    []string     `json:"reasons,omitempty"`
}

// Hold returns a HOLD signal carrying an explanatory reason.
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reasons: []string{reason}}
}

// Trade represents an executed fill. Created on fill and immutable after;
// PnL, DurationBars and ExitReason are set only when a position closes.
type Trade struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`         // intended price
	RealizedPrice decimal.Decimal `json:"realizedPrice"` // after slippage
	Fee           decimal.Decimal `json:"fee"`
	PnL           decimal.Decimal `json:"pnl,omitempty"`
	DurationBars  int             `json:"durationBars,omitempty"`
	ExitReason    string          `json:"exitReason,omitempty"`
	ExecutedAt    time.Time       `json:"executedAt"`
}

// EquityCurvePoint represents a point on the equity curve
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  float64         `json:"drawdown"`
}

// CointegrationReport holds the result of one pair evaluation. Produced fresh
// per call and never mutated; a new evaluation replaces it wholesale.
type CointegrationReport struct {
	ADFStatistic   float64  `json:"adfStatistic"`
	ADFPValue      float64  `json:"adfPValue"`
	IsStationary   bool     `json:"isStationary"`
	HurstExponent  *float64 `json:"hurstExponent,omitempty"`
	HalfLifeBars   *float64 `json:"halfLifeBars,omitempty"` // nil when not mean-reverting
	JohansenRank   int      `json:"johansenRank"`
	IsCointegrated bool     `json:"isCointegrated"`
	HedgeRatio     float64  `json:"hedgeRatio"`
	Intercept      float64  `json:"intercept"`
	RSquared       float64  `json:"rSquared"`
	Reasons        []string `json:"reasons,omitempty"`
}

// PairScore ranks one candidate pair from a universe scan.
type PairScore struct {
	SymbolA     string               `json:"symbolA"`
	SymbolB     string               `json:"symbolB"`
	Correlation float64              `json:"correlation"`
	Score       float64              `json:"score"`
	Report      *CointegrationReport `json:"report,omitempty"`
}

// SizingDecision is a position-sizing result. Method is an ordered tag trail
// (e.g. "kelly+regime+dd_adjusted+cvar") recording every adjustment applied.
type SizingDecision struct {
	Quantity      decimal.Decimal `json:"quantity"`
	NotionalValue decimal.Decimal `json:"notionalValue"`
	Method        string          `json:"method"`
	PositionPct   float64         `json:"positionPct"`
	Reason        string          `json:"reason,omitempty"`
}

// PerformanceReport is the output of a backtest run. Ratio metrics are
// float64 so that Calmar and profit factor can carry +Inf where defined.
type PerformanceReport struct {
	TotalPnL       decimal.Decimal    `json:"totalPnl"`
	TotalReturn    float64            `json:"totalReturn"`
	TotalTrades    int                `json:"totalTrades"`
	WinRate        float64            `json:"winRate"`
	SharpeRatio    float64            `json:"sharpeRatio"`
	SortinoRatio   float64            `json:"sortinoRatio"`
	CalmarRatio    float64            `json:"calmarRatio"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	ProfitFactor   float64            `json:"profitFactor"`
	ExecutionCosts *ExecutionCosts    `json:"executionCosts,omitempty"`
	EquityCurve    []EquityCurvePoint `json:"equityCurve"`
	Trades         []Trade            `json:"trades"`
}

// ExecutionCosts accumulates slippage and commission paid during a run.
type ExecutionCosts struct {
	TotalSlippage   decimal.Decimal `json:"totalSlippage"`
	TotalCommission decimal.Decimal `json:"totalCommission"`
	Fills           int             `json:"fills"`
}

// PermutationResult reports the Monte Carlo permutation significance test.
type PermutationResult struct {
	Samples        int     `json:"samples"`
	ObservedSharpe float64 `json:"observedSharpe"`
	PValue         float64 `json:"pValue"`     // fraction of shuffles beating observed
	Percentile     float64 `json:"percentile"` // rank of observed Sharpe, 0-100
}

// MonteCarloResult reports trade-resampling simulation statistics.
type MonteCarloResult struct {
	Iterations      int     `json:"iterations"`
	MedianReturn    float64 `json:"medianReturn"`
	P5Return        float64 `json:"p5Return"`
	P95Return       float64 `json:"p95Return"`
	ProbabilityRuin float64 `json:"probabilityRuin"`
	MaxDrawdownP95  float64 `json:"maxDrawdownP95"`
}
