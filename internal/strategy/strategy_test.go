package strategy

import (
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/pairs"
	"github.com/keplerlabs/quant-core/pkg/types"
)

func reasonContains(sig types.Signal, substr string) bool {
	for _, r := range sig.Reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

// flatWithLast returns n closes at base with the final close overridden.
func flatWithLast(n int, base, last float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base
	}
	closes[n-1] = last
	return closes
}

func TestMomentumSignals(t *testing.T) {
	strat := NewMomentum(DefaultMomentumConfig())

	tests := []struct {
		name       string
		closes     []float64
		action     types.SignalAction
		confidence float64
	}{
		{"strong rally buys", flatWithLast(15, 100, 103), types.ActionBuy, 0.75},
		{"strong drop sells", flatWithLast(15, 100, 97), types.ActionSell, 0.75},
		{"confidence caps at one", flatWithLast(15, 100, 105), types.ActionBuy, 1},
		{"inside threshold holds", flatWithLast(15, 100, 101), types.ActionHold, 0},
		{"too little history holds", flatWithLast(14, 100, 103), types.ActionHold, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := strat.GenerateSignal(tt.closes, nil)
			if sig.Action != tt.action {
				t.Fatalf("action = %s, want %s", sig.Action, tt.action)
			}
			if math.Abs(sig.Confidence-tt.confidence) > 1e-12 {
				t.Errorf("confidence = %f, want %f", sig.Confidence, tt.confidence)
			}
		})
	}
}

func TestMomentumDegeneratePrice(t *testing.T) {
	strat := NewMomentum(MomentumConfig{Period: 3, Threshold: 0.02})
	sig := strat.GenerateSignal([]float64{0, 100, 101, 102}, nil)
	if sig.Action != types.ActionHold || !reasonContains(sig, "degenerate") {
		t.Errorf("signal = %+v, want hold on a zero base price", sig)
	}
}

func TestNewMomentumFallsBackToDefaults(t *testing.T) {
	strat := NewMomentum(MomentumConfig{})
	if strat.config.Period != 14 || strat.config.Threshold != 0.02 {
		t.Errorf("config = %+v, want defaults", strat.config)
	}
}

func alternatingCloses(n int, lo, hi float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = lo
		} else {
			closes[i] = hi
		}
	}
	return closes
}

func TestMeanReversionSignals(t *testing.T) {
	strat := NewMeanReversion(DefaultMeanReversionConfig())

	dip := alternatingCloses(20, 99.9, 100.1)
	dip[19] = 98
	sig := strat.GenerateSignal(dip, nil)
	if sig.Action != types.ActionBuy {
		t.Fatalf("action = %s, want buy on a deep dip", sig.Action)
	}
	if sig.ZScore >= -2 {
		t.Errorf("z-score = %f, want at or beyond the -2 band", sig.ZScore)
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		t.Errorf("confidence = %f, want within (0,1]", sig.Confidence)
	}

	spike := alternatingCloses(20, 99.9, 100.1)
	spike[19] = 102
	sig = strat.GenerateSignal(spike, nil)
	if sig.Action != types.ActionSell {
		t.Errorf("action = %s, want sell on a spike", sig.Action)
	}
	if sig.ZScore <= 2 {
		t.Errorf("z-score = %f, want beyond the +2 band", sig.ZScore)
	}
}

func TestMeanReversionHolds(t *testing.T) {
	strat := NewMeanReversion(DefaultMeanReversionConfig())

	tests := []struct {
		name   string
		closes []float64
		reason string
	}{
		{"too little history", alternatingCloses(19, 99.9, 100.1), "insufficient history"},
		{"flat window", flatWithLast(20, 100, 100), "zero variance"},
		{"inside band", alternatingCloses(20, 99.9, 100.1), "inside reversion band"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := strat.GenerateSignal(tt.closes, nil)
			if sig.Action != types.ActionHold {
				t.Fatalf("action = %s, want hold", sig.Action)
			}
			if !reasonContains(sig, tt.reason) {
				t.Errorf("reasons = %v, want one containing %q", sig.Reasons, tt.reason)
			}
		})
	}
}

// stubStrategy returns a fixed signal, for exercising the ensemble vote.
type stubStrategy struct {
	name string
	sig  types.Signal
}

func (s stubStrategy) Name() string        { return s.name }
func (s stubStrategy) Description() string { return "stub" }
func (s stubStrategy) GenerateSignal(_ []float64, _ []types.OHLCV) types.Signal {
	return s.sig
}

func TestEnsembleVote(t *testing.T) {
	buy := func(conf float64) types.Signal {
		return types.Signal{Action: types.ActionBuy, Confidence: conf, Reasons: []string{"up"}}
	}
	sell := func(conf float64) types.Signal {
		return types.Signal{Action: types.ActionSell, Confidence: conf, Reasons: []string{"down"}}
	}

	tests := []struct {
		name       string
		members    []Strategy
		action     types.SignalAction
		confidence float64
	}{
		{
			"agreement buys",
			[]Strategy{stubStrategy{"a", buy(0.4)}, stubStrategy{"b", buy(0.4)}},
			types.ActionBuy, 0.4,
		},
		{
			"dominant seller wins",
			[]Strategy{stubStrategy{"a", sell(0.9)}, stubStrategy{"b", types.Hold("quiet")}},
			types.ActionSell, 0.45,
		},
		{
			"split vote holds",
			[]Strategy{stubStrategy{"a", buy(0.6)}, stubStrategy{"b", sell(0.5)}},
			types.ActionHold, 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := NewEnsemble(tt.members...).GenerateSignal(nil, nil)
			if sig.Action != tt.action {
				t.Fatalf("action = %s, want %s", sig.Action, tt.action)
			}
			if math.Abs(sig.Confidence-tt.confidence) > 1e-12 {
				t.Errorf("confidence = %f, want %f", sig.Confidence, tt.confidence)
			}
		})
	}
}

func TestEnsembleCollectsMemberReasons(t *testing.T) {
	sig := NewEnsemble(
		stubStrategy{"alpha", types.Signal{Action: types.ActionBuy, Confidence: 0.8, Reasons: []string{"up"}}},
	).GenerateSignal(nil, nil)

	if !reasonContains(sig, "alpha: up") {
		t.Errorf("reasons = %v, want the member name prefixed", sig.Reasons)
	}
}

func TestEnsembleNoMembers(t *testing.T) {
	sig := NewEnsemble().GenerateSignal(nil, nil)
	if sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold with no members", sig.Action)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	names := registry.List()
	want := map[string]bool{"momentum": false, "mean_reversion": false, "ensemble": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("List() is missing %q", n)
		}
	}

	strat, ok := registry.Create("momentum")
	if !ok || strat.Name() != "momentum" {
		t.Errorf("Create(momentum) = %v, %v", strat, ok)
	}
	if _, ok := registry.Create("no_such_strategy"); ok {
		t.Error("Create should fail for unknown names")
	}

	registry.Register("custom", func() Strategy { return stubStrategy{"custom", types.Hold("noop")} })
	if strat, ok := registry.Create("custom"); !ok || strat.Name() != "custom" {
		t.Error("registered factories should be creatable")
	}
}

func TestSpreadReversionWrapsAnalyzer(t *testing.T) {
	analyzer, err := pairs.NewAnalyzer(zap.NewNop(), types.DefaultPairsConfig())
	if err != nil {
		t.Fatal(err)
	}
	strat := NewSpreadReversion(analyzer)

	if strat.Name() != "spread_reversion" {
		t.Errorf("name = %q, want spread_reversion", strat.Name())
	}
	sig := strat.GenerateSignal([]float64{100, 101}, []float64{50, 51})
	if sig.Action != types.ActionHold {
		t.Errorf("action = %s, want hold with two bars of history", sig.Action)
	}
}
