package pairs

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/internal/workers"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// Composite score weights. Half-life quality peaks near targetHalfLife bars.
const (
	scoreWeightADF      = 0.35
	scoreWeightHurst    = 0.25
	scoreWeightHalfLife = 0.25
	scoreWeightJohansen = 0.15
	targetHalfLife      = 10.0
)

// ScannerConfig configures the universe scan.
type ScannerConfig struct {
	MinCorrelation float64 // pre-filter before the expensive test battery
	Workers        int     // 0 means one worker per CPU
}

// DefaultScannerConfig returns the standard pre-filter threshold.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{MinCorrelation: 0.6}
}

// Scanner applies the cointegration battery across all pairs in a candidate
// universe and ranks them by composite score.
type Scanner struct {
	logger   *zap.Logger
	analyzer *Analyzer
	config   ScannerConfig
}

// NewScanner creates a scanner over the given analyzer.
func NewScanner(logger *zap.Logger, analyzer *Analyzer, config ScannerConfig) *Scanner {
	if config.MinCorrelation <= 0 {
		config.MinCorrelation = 0.6
	}
	return &Scanner{logger: logger, analyzer: analyzer, config: config}
}

// Scan evaluates every unordered pair in the universe. Pairs failing the
// cheap correlation pre-filter skip the expensive battery. Evaluations run
// in parallel; each task owns its inputs and result slot, so no state is
// shared beyond the guarded result slice.
func (s *Scanner) Scan(universe map[string][]float64) []types.PairScore {
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	poolCfg := workers.DefaultPoolConfig("pair-scan")
	if s.config.Workers > 0 {
		poolCfg.NumWorkers = s.config.Workers
	}
	pool := workers.NewPool(s.logger, poolCfg)
	pool.Start()
	defer pool.Stop()

	var (
		mu      sync.Mutex
		results []types.PairScore
		wg      sync.WaitGroup
	)

	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			symA, symB := symbols[i], symbols[j]
			pricesA, pricesB := universe[symA], universe[symB]

			corr := stats.Pearson(pricesA, pricesB)
			if corr == nil || math.Abs(*corr) < s.config.MinCorrelation {
				continue
			}
			correlation := *corr

			wg.Add(1)
			task := func() error {
				defer wg.Done()
				report := s.analyzer.Evaluate(pricesA, pricesB)
				score := compositeScore(report)

				mu.Lock()
				results = append(results, types.PairScore{
					SymbolA:     symA,
					SymbolB:     symB,
					Correlation: correlation,
					Score:       score,
					Report:      report,
				})
				mu.Unlock()
				return nil
			}
			if err := pool.SubmitFunc(task); err != nil {
				// Queue saturated: evaluate inline rather than dropping the pair.
				task()
			}
		}
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SymbolA != results[j].SymbolA {
			return results[i].SymbolA < results[j].SymbolA
		}
		return results[i].SymbolB < results[j].SymbolB
	})

	s.logger.Info("pair universe scan complete",
		zap.Int("symbols", len(symbols)),
		zap.Int("candidates", len(results)),
	)

	return results
}

// compositeScore blends ADF strength, Hurst quality, half-life proximity to
// the target and a Johansen bonus into a single ranking value.
func compositeScore(r *types.CointegrationReport) float64 {
	var adfScore float64
	if r.IsStationary {
		// More negative statistics reject the unit root harder.
		adfScore = clamp01((-2.89 - r.ADFStatistic) / 2.0)
		if adfScore == 0 {
			adfScore = 0.1 // stationary at exactly the 5% boundary
		}
	}

	var hurstScore float64
	if h := r.HurstExponent; h != nil {
		switch {
		case *h < stats.HurstMeanReverting:
			hurstScore = clamp01((stats.HurstMeanReverting - *h) * 2)
		case *h < stats.HurstTrending:
			hurstScore = 0.1
		}
	}

	var hlScore float64
	if hl := r.HalfLifeBars; hl != nil && *hl > 0 {
		hlScore = math.Exp(-math.Abs(*hl-targetHalfLife) / targetHalfLife)
	}

	var johansenScore float64
	if r.JohansenRank >= 1 {
		johansenScore = 1
	}

	return scoreWeightADF*adfScore +
		scoreWeightHurst*hurstScore +
		scoreWeightHalfLife*hlScore +
		scoreWeightJohansen*johansenScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
