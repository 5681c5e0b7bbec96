package pairs

import (
	"math"

	"github.com/keplerlabs/quant-core/internal/stats"
	"github.com/keplerlabs/quant-core/pkg/types"
)

// Signal runs the z-score state machine over the pair and returns the
// verdict for the latest bar. The machine is stateless across calls:
// identical inputs always yield an identical signal.
//
// Entry when |z| >= EntryZScore, exit when |z| <= ExitZScore, forced flat
// when |z| >= StopZScore (cointegration assumed broken). Confidence scales
// linearly from 0.5 at the entry threshold to 1.0 at the stop threshold and
// is halved when the Hurst exponent is borderline. A non-stationary spread
// or a trending Hurst result short-circuits to HOLD with confidence 0.
func (a *Analyzer) Signal(priceA, priceB []float64) types.Signal {
	n := len(priceA)
	if len(priceB) < n {
		n = len(priceB)
	}
	if n < a.config.ZScoreWindow+1 {
		return types.Hold("insufficient history for z-score window")
	}

	var spreadValues []float64
	var hedgeRatio float64
	if a.config.UseKalman {
		betas := a.KalmanHedgePath(priceA[:n], priceB[:n])
		if betas == nil {
			return types.Hold("insufficient history for kalman filter")
		}
		hedgeRatio = betas[n-1]
		spreadValues = make([]float64, n)
		for i := 0; i < n; i++ {
			spreadValues[i] = priceA[i] - betas[i]*priceB[i]
		}
	} else {
		spread := a.BuildSpread(priceA[:n], priceB[:n])
		if spread == nil {
			return types.Hold("cannot fit hedge regression")
		}
		hedgeRatio = spread.HedgeRatio
		spreadValues = spread.Values
	}

	adf := stats.ADF(spreadValues)
	if adf == nil || !adf.IsStationary {
		return types.Signal{
			Action:     types.ActionHold,
			HedgeRatio: hedgeRatio,
			Reasons:    []string{"spread is not stationary"},
		}
	}

	hurstPenalty := 1.0
	if h := stats.Hurst(spreadValues, a.config.MaxHurstLag); h != nil {
		switch {
		case *h >= stats.HurstTrending:
			return types.Signal{
				Action:     types.ActionHold,
				HedgeRatio: hedgeRatio,
				Reasons:    []string{"spread is trending, not mean-reverting"},
			}
		case *h >= stats.HurstMeanReverting:
			hurstPenalty = 0.5
		}
	}

	window := spreadValues[len(spreadValues)-a.config.ZScoreWindow:]
	mean, std := stats.MeanStd(window)
	if std == 0 {
		return types.Signal{
			Action:     types.ActionHold,
			HedgeRatio: hedgeRatio,
			Reasons:    []string{"flat spread, zero variance"},
		}
	}
	z := (spreadValues[len(spreadValues)-1] - mean) / std

	sig := types.Signal{
		Action:     types.ActionHold,
		ZScore:     z,
		HedgeRatio: hedgeRatio,
	}

	absZ := math.Abs(z)
	switch {
	case absZ >= a.config.StopZScore:
		sig.Reasons = []string{"z-score beyond stop, cointegration assumed broken"}

	case absZ >= a.config.EntryZScore:
		if z > 0 {
			sig.Action = types.ActionSell
			sig.Reasons = []string{"spread rich: sell the spread"}
		} else {
			sig.Action = types.ActionBuy
			sig.Reasons = []string{"spread cheap: buy the spread"}
		}
		span := a.config.StopZScore - a.config.EntryZScore
		sig.Confidence = (0.5 + 0.5*(absZ-a.config.EntryZScore)/span) * hurstPenalty
		if sig.Confidence > 1 {
			sig.Confidence = 1
		}

	case absZ <= a.config.ExitZScore:
		sig.Reasons = []string{"spread reverted to mean"}

	default:
		sig.Reasons = []string{"z-score inside entry band"}
	}

	return sig
}
