// Package strategy provides the signal generators the backtester drives.
// Strategies are stateless over their inputs: GenerateSignal sees the full
// history up to the current bar and returns the verdict for the latest one,
// so replaying the same series always reproduces the same signals.
package strategy

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// Strategy is the interface all signal generators implement.
type Strategy interface {
	Name() string
	Description() string
	// GenerateSignal evaluates the series up to and including the latest
	// bar. Closes is the float view of candles; both cover the same range.
	GenerateSignal(closes []float64, candles []types.OHLCV) types.Signal
}

// Registry manages available strategies by name.
type Registry struct {
	logger    *zap.Logger
	factories map[string]func() Strategy
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]func() Strategy),
	}

	r.Register("momentum", func() Strategy { return NewMomentum(DefaultMomentumConfig()) })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversion(DefaultMeanReversionConfig()) })
	r.Register("ensemble", func() Strategy {
		return NewEnsemble(
			NewMomentum(DefaultMomentumConfig()),
			NewMeanReversion(DefaultMeanReversionConfig()),
		)
	})

	return r
}

// Register registers a strategy factory under a name.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a fresh strategy by name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// MomentumConfig parameterizes the momentum strategy.
type MomentumConfig struct {
	Period    int     // lookback for the momentum calculation
	Threshold float64 // minimum absolute return to act on
}

// DefaultMomentumConfig returns the standard parameters.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{Period: 14, Threshold: 0.02}
}

// Momentum buys strength and sells weakness over a lookback period.
type Momentum struct {
	config MomentumConfig
}

// NewMomentum creates a momentum strategy.
func NewMomentum(config MomentumConfig) *Momentum {
	if config.Period <= 0 {
		config = DefaultMomentumConfig()
	}
	return &Momentum{config: config}
}

func (s *Momentum) Name() string        { return "momentum" }
func (s *Momentum) Description() string { return "trades price momentum over a lookback period" }

func (s *Momentum) GenerateSignal(closes []float64, _ []types.OHLCV) types.Signal {
	if len(closes) <= s.config.Period {
		return types.Hold("insufficient history for momentum lookback")
	}

	past := closes[len(closes)-1-s.config.Period]
	if past == 0 {
		return types.Hold("degenerate price history")
	}
	momentum := (closes[len(closes)-1] - past) / past

	if math.Abs(momentum) < s.config.Threshold {
		return types.Hold("momentum inside threshold")
	}

	confidence := math.Abs(momentum) / s.config.Threshold / 2
	if confidence > 1 {
		confidence = 1
	}

	sig := types.Signal{Confidence: confidence}
	if momentum > 0 {
		sig.Action = types.ActionBuy
		sig.Reasons = []string{"positive momentum beyond threshold"}
	} else {
		sig.Action = types.ActionSell
		sig.Reasons = []string{"negative momentum beyond threshold"}
	}
	return sig
}

// MeanReversionConfig parameterizes the mean-reversion strategy.
type MeanReversionConfig struct {
	Period     int     // trailing window for the mean and deviation
	EntryBands float64 // deviations from the mean required to enter
}

// DefaultMeanReversionConfig returns the standard parameters.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{Period: 20, EntryBands: 2.0}
}

// MeanReversion fades moves beyond a band around the trailing mean.
type MeanReversion struct {
	config MeanReversionConfig
}

// NewMeanReversion creates a mean-reversion strategy.
func NewMeanReversion(config MeanReversionConfig) *MeanReversion {
	if config.Period <= 0 {
		config = DefaultMeanReversionConfig()
	}
	return &MeanReversion{config: config}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }
func (s *MeanReversion) Description() string {
	return "fades deviations beyond a band around the trailing mean"
}

func (s *MeanReversion) GenerateSignal(closes []float64, _ []types.OHLCV) types.Signal {
	if len(closes) < s.config.Period {
		return types.Hold("insufficient history for reversion window")
	}

	window := closes[len(closes)-s.config.Period:]
	mean, std := stats.MeanStd(window)
	if std == 0 {
		return types.Hold("flat price window, zero variance")
	}

	z := (closes[len(closes)-1] - mean) / std
	if math.Abs(z) < s.config.EntryBands {
		return types.Hold("price inside reversion band")
	}

	confidence := math.Abs(z) / s.config.EntryBands / 2
	if confidence > 1 {
		confidence = 1
	}

	sig := types.Signal{Confidence: confidence, ZScore: z}
	if z > 0 {
		sig.Action = types.ActionSell
		sig.Reasons = []string{"price stretched above trailing mean"}
	} else {
		sig.Action = types.ActionBuy
		sig.Reasons = []string{"price stretched below trailing mean"}
	}
	return sig
}

// Ensemble blends member strategies with a confidence-weighted vote. BUY
// and SELL confidences pull against each other; the ensemble acts only when
// the net vote is decisive.
type Ensemble struct {
	members []Strategy
}

// NewEnsemble creates an ensemble over the given members.
func NewEnsemble(members ...Strategy) *Ensemble {
	return &Ensemble{members: members}
}

func (s *Ensemble) Name() string        { return "ensemble" }
func (s *Ensemble) Description() string { return "confidence-weighted vote across member strategies" }

func (s *Ensemble) GenerateSignal(closes []float64, candles []types.OHLCV) types.Signal {
	if len(s.members) == 0 {
		return types.Hold("no member strategies")
	}

	var buyVote, sellVote float64
	reasons := make([]string, 0, len(s.members))
	for _, m := range s.members {
		sig := m.GenerateSignal(closes, candles)
		switch sig.Action {
		case types.ActionBuy:
			buyVote += sig.Confidence
		case types.ActionSell:
			sellVote += sig.Confidence
		}
		if len(sig.Reasons) > 0 && sig.Action != types.ActionHold {
			reasons = append(reasons, m.Name()+": "+sig.Reasons[0])
		}
	}

	net := buyVote - sellVote
	threshold := 0.5
	if math.Abs(net) < threshold {
		return types.Hold("member vote indecisive")
	}

	confidence := math.Abs(net) / float64(len(s.members))
	if confidence > 1 {
		confidence = 1
	}

	sig := types.Signal{Confidence: confidence, Reasons: reasons}
	if net > 0 {
		sig.Action = types.ActionBuy
	} else {
		sig.Action = types.ActionSell
	}
	return sig
}
