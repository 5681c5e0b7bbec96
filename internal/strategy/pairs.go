package strategy

import (
	"github.com/keplerlabs/quant-core/internal/pairs"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// PairsStrategy generates signals over two legs instead of one. The signal
// is expressed in spread terms: BUY means long the spread (long leg A,
// short hedgeRatio of leg B), SELL the reverse.
type PairsStrategy interface {
	Name() string
	Description() string
	GenerateSignal(closesA, closesB []float64) types.Signal
}

// SpreadReversion adapts the pairs analyzer's z-score state machine to the
// strategy interface the backtester drives.
type SpreadReversion struct {
	analyzer *pairs.Analyzer
}

// NewSpreadReversion wraps an analyzer as a pairs strategy.
func NewSpreadReversion(analyzer *pairs.Analyzer) *SpreadReversion {
	return &SpreadReversion{analyzer: analyzer}
}

func (s *SpreadReversion) Name() string { return "spread_reversion" }
func (s *SpreadReversion) Description() string {
	return "mean-reverts the cointegration spread between two legs"
}

func (s *SpreadReversion) GenerateSignal(closesA, closesB []float64) types.Signal {
	return s.analyzer.Signal(closesA, closesB)
}
