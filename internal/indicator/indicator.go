// Package indicator computes the secondary series the divergence detector
// correlates against price: RSI, MACD, and volume.
//
// Two forms are provided. Series functions recompute from a full bar
// sequence and are the correctness baseline; they return NaN for indices
// before the warm-up length so callers can skip the undefined prefix.
// Incremental types update in O(1) per bar for streaming use.
package indicator

import "altregime/internal/model"

// Standard periods. The detector uses these; they are not configurable
// per-call because every published reference value assumes them.
const (
	RSIPeriod  = 14
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// Incremental is the interface for O(1)-per-bar indicators.
type Incremental interface {
	// Name returns the indicator name (e.g. "RSI_14").
	Name() string

	// Update feeds the next bar in ts order and recalculates.
	Update(bar model.Bar)

	// Value returns the current value. Undefined (0) before Ready.
	Value() float64

	// Ready reports whether enough bars have been accumulated.
	Ready() bool
}

// MACDValues bundles the three MACD output series.
type MACDValues struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// Computed holds every derived series for one bar sequence. It is a pure
// function of the input: same bars, same output.
type Computed struct {
	RSI    []float64
	MACD   MACDValues
	Volume []float64
}

// Compute derives all series the detector needs from an ordered bar
// sequence. Indices before each indicator's warm-up are NaN.
func Compute(bars []model.Bar) Computed {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return Computed{
		RSI:    RSISeries(closes, RSIPeriod),
		MACD:   MACDSeries(closes, MACDFast, MACDSlow, MACDSignal),
		Volume: VolumeSeries(bars),
	}
}
