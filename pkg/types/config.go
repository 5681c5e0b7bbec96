// Package types provides configuration types for the quant core.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a backtest run
type BacktestConfig struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	InitialCapital decimal.Decimal  `json:"initialCapital"`
	CommissionBps  float64          `json:"commissionBps"`
	Slippage       SlippageConfig   `json:"slippage"`
	RiskFreeRate   float64          `json:"riskFreeRate"` // annualized
	Validation     ValidationConfig `json:"validation"`
}

// Validate checks the configuration at construction time.
func (c *BacktestConfig) Validate() error {
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("backtest config: initial capital must be positive, got %s", c.InitialCapital)
	}
	if c.CommissionBps < 0 {
		return fmt.Errorf("backtest config: commission bps must be non-negative, got %f", c.CommissionBps)
	}
	return c.Slippage.Validate()
}

// SlippageConfig represents slippage model configuration
type SlippageConfig struct {
	Model       string  `json:"model"` // "fixed", "volume", "volatility"
	Bps         float64 `json:"bps"`
	ImpactCoeff float64 `json:"impactCoeff,omitempty"` // volume model
	VolWindow   int     `json:"volWindow,omitempty"`   // volatility model lookback
}

// Validate checks slippage parameters.
func (c *SlippageConfig) Validate() error {
	switch c.Model {
	case "", "fixed", "volume", "volatility":
	default:
		return fmt.Errorf("slippage config: unknown model %q", c.Model)
	}
	if c.Bps < 0 {
		return fmt.Errorf("slippage config: bps must be non-negative, got %f", c.Bps)
	}
	return nil
}

// ValidationConfig represents statistical validation settings
type ValidationConfig struct {
	Permutation PermutationConfig `json:"permutation,omitempty"`
	MonteCarlo  MonteCarloConfig  `json:"monteCarlo,omitempty"`
}

// PermutationConfig configures the return-shuffle significance test
type PermutationConfig struct {
	Enabled bool  `json:"enabled"`
	Samples int   `json:"samples"`
	Seed    int64 `json:"seed,omitempty"` // 0 means non-deterministic
}

// MonteCarloConfig configures trade-resampling simulation
type MonteCarloConfig struct {
	Enabled    bool  `json:"enabled"`
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed,omitempty"`
}

// PairsConfig configures spread construction and the signal state machine.
type PairsConfig struct {
	HedgeLookback   int     `json:"hedgeLookback"`   // trailing window for hedge ratio
	ZScoreWindow    int     `json:"zScoreWindow"`    // rolling window for z-score
	EntryZScore     float64 `json:"entryZScore"`     // |z| to open
	ExitZScore      float64 `json:"exitZScore"`      // |z| to flatten
	StopZScore      float64 `json:"stopZScore"`      // |z| beyond which cointegration is assumed broken
	MaxHurstLag     int     `json:"maxHurstLag"`     // Hurst lag grid upper bound
	MinObservations int     `json:"minObservations"` // Johansen minimum
	UseKalman       bool    `json:"useKalman"`       // time-varying hedge ratio
}

// DefaultPairsConfig returns the standard thresholds.
func DefaultPairsConfig() PairsConfig {
	return PairsConfig{
		HedgeLookback:   60,
		ZScoreWindow:    20,
		EntryZScore:     2.0,
		ExitZScore:      0.5,
		StopZScore:      3.5,
		MaxHurstLag:     20,
		MinObservations: 40,
	}
}

// Validate checks state-machine thresholds for consistency.
func (c *PairsConfig) Validate() error {
	if c.EntryZScore <= c.ExitZScore {
		return fmt.Errorf("pairs config: entry z-score %f must exceed exit z-score %f", c.EntryZScore, c.ExitZScore)
	}
	if c.StopZScore <= c.EntryZScore {
		return fmt.Errorf("pairs config: stop z-score %f must exceed entry z-score %f", c.StopZScore, c.EntryZScore)
	}
	if c.HedgeLookback < 3 {
		return fmt.Errorf("pairs config: hedge lookback %d too small", c.HedgeLookback)
	}
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
}
