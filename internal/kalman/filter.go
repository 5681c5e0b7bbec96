// Package kalman provides a recursive estimator for a time-varying hedge
// ratio. The filter tracks the single regression coefficient beta in
// y = beta*x (no intercept) with a scalar state covariance.
package kalman

import "fmt"

// Default noise parameters.
const (
	DefaultDelta    = 1e-4 // process noise
	DefaultVe       = 1e-3 // observation noise
	DefaultInitialP = 1.0
)

// Filter is the sole mutable state of the hedge-ratio estimator. It is
// updated exactly once per observation pair and is monotonic in time; use
// Reset before replaying a series to keep backtests deterministic.
type Filter struct {
	beta     float64
	p        float64
	delta    float64
	ve       float64
	initialP float64
	updates  int
}

// New creates a filter with the given process noise delta and observation
// noise ve. Non-positive parameters are a configuration error.
func New(delta, ve, initialP float64) (*Filter, error) {
	if delta <= 0 || ve <= 0 || initialP <= 0 {
		return nil, fmt.Errorf("kalman: delta, ve and initialP must be positive (got %g, %g, %g)", delta, ve, initialP)
	}
	return &Filter{delta: delta, ve: ve, initialP: initialP, p: initialP}, nil
}

// NewDefault creates a filter with the standard noise parameters.
func NewDefault() *Filter {
	f, _ := New(DefaultDelta, DefaultVe, DefaultInitialP)
	return f
}

// Update runs one predict/update step for the observation pair (x, y) where
// y is the dependent price and x the hedge leg. Returns the posterior beta.
func (f *Filter) Update(x, y float64) float64 {
	pPred := f.p + f.delta

	innovation := y - f.beta*x
	s := x*x*pPred + f.ve
	k := x * pPred / s

	f.beta += k * innovation
	f.p = (1 - k*x) * pPred
	f.updates++

	return f.beta
}

// Beta returns the current hedge-ratio estimate.
func (f *Filter) Beta() float64 { return f.beta }

// Covariance returns the current state covariance P.
func (f *Filter) Covariance() float64 { return f.p }

// Updates returns the number of observations consumed since the last reset.
func (f *Filter) Updates() int { return f.updates }

// Reset restores the filter to a fresh (beta=0, P=initialP) state.
func (f *Filter) Reset() {
	f.beta = 0
	f.p = f.initialP
	f.updates = 0
}

// FitSeries resets the filter and replays two aligned price series, returning
// the per-bar beta path. Series shorter than two observations return nil.
func (f *Filter) FitSeries(y, x []float64) []float64 {
	n := len(y)
	if len(x) < n {
		n = len(x)
	}
	if n < 2 {
		return nil
	}

	f.Reset()
	betas := make([]float64, n)
	for i := 0; i < n; i++ {
		betas[i] = f.Update(x[i], y[i])
	}
	return betas
}
