package pairs

import (
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/pkg/types"
)

// deterministicPair builds a pair a = 1.5*b + s where b is linear and the
// spread s is a small alternating series plus caller-chosen spikes. Two
// balancing spikes at bars 159 and 179 keep s orthogonal to the trailing
// 60-bar hedge window, so the regression recovers the 1.5 ratio exactly and
// the reconstructed spread equals s bar for bar.
func deterministicPair(n int, c float64, spikes map[int]float64) (a, b []float64) {
	s := make([]float64, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = c
		} else {
			s[i] = -c
		}
	}
	for i, v := range spikes {
		s[i] += v
	}

	// Zero the spread's sum and index-weighted sum over the window
	// [n-60, n) so the OLS fit there is unaffected.
	var sumS, sumKS float64
	for k := 0; k < 60; k++ {
		sumS += s[n-60+k]
		sumKS += float64(k) * s[n-60+k]
	}
	y := (19*sumS - sumKS) / 20
	x := -sumS - y
	s[n-60+19] += x
	s[n-60+39] += y

	a = make([]float64, n)
	b = make([]float64, n)
	for i := range b {
		b[i] = 100 + 0.5*float64(i)
		a[i] = 1.5*b[i] + s[i]
	}
	return a, b
}

func ouSeries(n int, rho, noise float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	v := 0.0
	for i := range out {
		v = rho*v + noise*rng.NormFloat64()
		out[i] = v
	}
	return out
}

func cointegratedPair(n int, seed int64) (a, b []float64) {
	rng := rand.New(rand.NewSource(seed))
	a = make([]float64, n)
	walk := 100.0
	for i := range a {
		walk += rng.NormFloat64()
		a[i] = walk
	}
	spread := ouSeries(n, 0.2, 0.5, seed+1)
	b = make([]float64, n)
	for i := range a {
		b[i] = (a[i] - spread[i]) / 1.5
	}
	return a, b
}

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(zap.NewNop(), types.DefaultPairsConfig())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewAnalyzerRejectsBadThresholds(t *testing.T) {
	cfg := types.DefaultPairsConfig()
	cfg.EntryZScore = 0.4 // below the exit threshold
	if _, err := NewAnalyzer(zap.NewNop(), cfg); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestBuildSpreadRecoversHedgeRatio(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	a, b := deterministicPair(200, 0.01, nil)

	spread := analyzer.BuildSpread(a, b)
	if spread == nil {
		t.Fatal("expected a spread")
	}
	if math.Abs(spread.HedgeRatio-1.5) > 1e-9 {
		t.Errorf("hedge ratio = %f, want 1.5", spread.HedgeRatio)
	}
	if math.Abs(spread.Intercept) > 1e-6 {
		t.Errorf("intercept = %f, want 0", spread.Intercept)
	}
	if len(spread.Values) != 200 {
		t.Fatalf("spread length = %d, want 200", len(spread.Values))
	}
	// The ratio comes from the trailing window but applies to every bar.
	for _, i := range []int{0, 1, 100, 199} {
		want := a[i] - 1.5*b[i]
		if math.Abs(spread.Values[i]-want) > 1e-9 {
			t.Errorf("spread[%d] = %f, want %f", i, spread.Values[i], want)
		}
	}
}

func TestBuildSpreadDegenerateInput(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	if s := analyzer.BuildSpread([]float64{1, 2}, []float64{1, 2}); s != nil {
		t.Error("expected nil for fewer than three bars")
	}
	flat := make([]float64, 100)
	rising := make([]float64, 100)
	for i := range flat {
		flat[i] = 50
		rising[i] = float64(i)
	}
	if s := analyzer.BuildSpread(rising, flat); s != nil {
		t.Error("expected nil when the hedge leg has no variance")
	}
}

func TestEvaluateCointegratedPair(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	a, b := cointegratedPair(400, 17)

	report := analyzer.Evaluate(a, b)
	if !report.IsCointegrated {
		t.Fatalf("expected cointegration, reasons: %v", report.Reasons)
	}
	if !report.IsStationary {
		t.Error("spread should be stationary")
	}
	if report.JohansenRank < 1 {
		t.Errorf("johansen rank = %d, want >= 1", report.JohansenRank)
	}
	if report.HedgeRatio < 1.2 || report.HedgeRatio > 1.8 {
		t.Errorf("hedge ratio = %f, want near 1.5", report.HedgeRatio)
	}
}

func TestEvaluateDegradedInput(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	report := analyzer.Evaluate([]float64{1, 2}, []float64{1, 2})
	if report.IsCointegrated {
		t.Error("two bars cannot be cointegrated")
	}
	if len(report.Reasons) == 0 {
		t.Error("degraded report should carry a reason")
	}
}

func TestSignalEntrySell(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	// Two positive spikes on the final bars lift the spread roughly three
	// z-scores above its rolling mean: rich spread, sell it.
	a, b := deterministicPair(200, 0.01, map[int]float64{198: 1, 199: 1})

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionSell {
		t.Fatalf("action = %s (z %f, reasons %v), want SELL", sig.Action, sig.ZScore, sig.Reasons)
	}
	if sig.ZScore < 2.5 || sig.ZScore > 3.2 {
		t.Errorf("z-score = %f, want ~2.9", sig.ZScore)
	}
	if sig.Confidence < 0.7 || sig.Confidence > 0.9 {
		t.Errorf("confidence = %f, want ~0.8", sig.Confidence)
	}
	if math.Abs(sig.HedgeRatio-1.5) > 1e-9 {
		t.Errorf("hedge ratio = %f, want 1.5", sig.HedgeRatio)
	}
}

func TestSignalEntryBuy(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	a, b := deterministicPair(200, 0.01, map[int]float64{198: -1, 199: -1})

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s (z %f, reasons %v), want BUY", sig.Action, sig.ZScore, sig.Reasons)
	}
	if sig.ZScore > -2.5 || sig.ZScore < -3.2 {
		t.Errorf("z-score = %f, want ~-2.9", sig.ZScore)
	}
}

func TestSignalStopOnExtremeZScore(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	// A lone spike on the final bar pushes |z| past the stop threshold.
	a, b := deterministicPair(200, 0.01, map[int]float64{199: 1})

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	if sig.ZScore < 3.5 {
		t.Errorf("z-score = %f, want >= stop threshold 3.5", sig.ZScore)
	}
	if !hasReason(sig.Reasons, "stop") {
		t.Errorf("reasons = %v, want a stop explanation", sig.Reasons)
	}
}

func TestSignalExitNearMean(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	// Offsetting spikes inflate window variance while the last bar sits on
	// the mean, so the spread reads as reverted.
	a, b := deterministicPair(200, 0.01, map[int]float64{197: 1, 198: -1})

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	if math.Abs(sig.ZScore) > 0.5 {
		t.Errorf("z-score = %f, want inside exit band", sig.ZScore)
	}
	if !hasReason(sig.Reasons, "reverted") {
		t.Errorf("reasons = %v, want a reversion explanation", sig.Reasons)
	}
}

func TestSignalInsideEntryBand(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	a, b := deterministicPair(200, 0.01, nil)

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	z := math.Abs(sig.ZScore)
	if z <= 0.5 || z >= 2.0 {
		t.Errorf("|z| = %f, want between exit and entry thresholds", z)
	}
}

func TestSignalInsufficientHistory(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	sig := analyzer.Signal(make([]float64, 10), make([]float64, 10))
	if sig.Action != types.ActionHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	if !hasReason(sig.Reasons, "insufficient") {
		t.Errorf("reasons = %v, want an insufficient-history explanation", sig.Reasons)
	}
}

func TestSignalFlatSpread(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	// Variance early in the series, none in the z-score window.
	spikes := make(map[int]float64)
	for i := 180; i < 200; i++ {
		if i%2 == 0 {
			spikes[i] = -0.01 // cancel the alternation
		} else {
			spikes[i] = 0.01
		}
	}
	a, b := deterministicPair(200, 0.01, spikes)

	sig := analyzer.Signal(a, b)
	if sig.Action != types.ActionHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	if !hasReason(sig.Reasons, "zero variance") {
		t.Errorf("reasons = %v, want a zero-variance explanation", sig.Reasons)
	}
}

func TestSignalIdempotent(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	a, b := deterministicPair(200, 0.01, map[int]float64{198: 1, 199: 1})

	first := analyzer.Signal(a, b)
	second := analyzer.Signal(a, b)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("signal is not idempotent: %+v vs %+v", first, second)
	}
}

func TestScanRanksAndIsDeterministic(t *testing.T) {
	logger := zap.NewNop()
	analyzer := newTestAnalyzer(t)
	scanner := NewScanner(logger, analyzer, ScannerConfig{MinCorrelation: 0.6, Workers: 2})

	a, b := cointegratedPair(400, 17)
	c := make([]float64, len(a))
	for i := range a {
		c[i] = 2*a[i] + 5
	}
	universe := map[string][]float64{"AAA": a, "BBB": b, "CCC": c}

	first := scanner.Scan(universe)
	second := scanner.Scan(universe)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("scan results differ between identical runs")
	}
	if len(first) == 0 {
		t.Fatal("expected at least one candidate pair")
	}

	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Errorf("results not sorted by score: %f after %f", first[i].Score, first[i-1].Score)
		}
	}

	var found bool
	for _, ps := range first {
		if math.Abs(ps.Correlation) < 0.6 {
			t.Errorf("pair %s/%s passed the filter with correlation %f", ps.SymbolA, ps.SymbolB, ps.Correlation)
		}
		if ps.SymbolA == "AAA" && ps.SymbolB == "BBB" {
			found = true
			if ps.Report == nil || !ps.Report.IsCointegrated {
				t.Error("AAA/BBB should be reported cointegrated")
			}
		}
	}
	if !found {
		t.Error("AAA/BBB missing from scan results")
	}
}

func hasReason(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
