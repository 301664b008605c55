// Package divergence correlates price pivots with indicator pivots and
// drives the resulting signals through their lifecycle:
// active → confirmed (soft|hard) or active → invalid, terminal either way.
package divergence

import (
	"math"

	"altregime/config"
	"altregime/internal/implication"
	"altregime/internal/indicator"
	"altregime/internal/model"
	"altregime/internal/pivot"
)

// Detector finds divergence candidates in bar series. It holds only
// tunables — all per-key state lives in the divergence store, so one
// Detector serves every (metric, timeframe) key.
type Detector struct {
	settings config.Settings
}

// New creates a Detector with the given tunables.
func New(settings config.Settings) *Detector {
	return &Detector{settings: settings}
}

// Detect returns divergence candidates for one (metric, timeframe) bar
// series, ordered oldest-pair first. Bars must be sorted by ts ascending.
// Fewer than 2×(pivot windows) bars is the normal insufficient-data steady
// state: no candidates, no error.
func (d *Detector) Detect(metric model.Metric, tf model.Timeframe, bars []model.Bar) []model.Divergence {
	return d.DetectComputed(metric, tf, bars, indicator.Compute(bars))
}

// DetectComputed is Detect with the indicator series already derived.
// Callers that maintain the series incrementally (the ingest path) pass
// them in; computed must align index-for-index with bars.
func (d *Detector) DetectComputed(metric model.Metric, tf model.Timeframe, bars []model.Bar, computed indicator.Computed) []model.Divergence {
	if len(bars) < d.settings.MinBars() {
		return nil
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	var out []model.Divergence
	out = append(out, d.detectOscillator(metric, tf, bars, highs, lows, model.IndRSI, computed.RSI)...)
	out = append(out, d.detectOscillator(metric, tf, bars, highs, lows, model.IndMACD, computed.MACD.Line)...)
	out = append(out, d.detectVolume(metric, tf, bars, highs, lows, computed.Volume)...)
	return out
}

// detectOscillator applies the pairing rule against an oscillator series:
// bullish when price prints a lower swing low while the indicator prints a
// higher low at pivots within MaxPairDistance bars; bearish symmetric on
// highs.
func (d *Detector) detectOscillator(metric model.Metric, tf model.Timeframe, bars []model.Bar, highs, lows []float64, ind model.Indicator, series []float64) []model.Divergence {
	left, right := d.settings.PivotLeft, d.settings.PivotRight
	indPoints := pivot.Find(series, left, right)
	if indPoints == nil {
		return nil
	}

	var out []model.Divergence

	if pL, pR, ok := pivot.LastTwo(pivot.Lows(lows, left, right), pivot.Low); ok && pR.Value < pL.Value {
		iL, okL := pivot.Nearest(indPoints, pivot.Low, pL.Index, d.settings.MaxPairDistance)
		iR, okR := pivot.Nearest(indPoints, pivot.Low, pR.Index, d.settings.MaxPairDistance)
		if okL && okR && iL.Index < iR.Index && iR.Value > iL.Value {
			out = append(out, d.candidate(metric, tf, ind, model.SideBullish, bars, pL, pR, iL, iR, series))
		}
	}

	if pL, pR, ok := pivot.LastTwo(pivot.Highs(highs, left, right), pivot.High); ok && pR.Value > pL.Value {
		iL, okL := pivot.Nearest(indPoints, pivot.High, pL.Index, d.settings.MaxPairDistance)
		iR, okR := pivot.Nearest(indPoints, pivot.High, pR.Index, d.settings.MaxPairDistance)
		if okL && okR && iL.Index < iR.Index && iR.Value < iL.Value {
			out = append(out, d.candidate(metric, tf, ind, model.SideBearish, bars, pL, pR, iL, iR, series))
		}
	}

	return out
}

// detectVolume flags moves printed on shrinking volume: a higher high or a
// lower low whose pivot bar traded less than the previous pivot bar.
// Volume has no pivots of its own — it is compared at the price pivot
// indices, as the source signal tables do.
func (d *Detector) detectVolume(metric model.Metric, tf model.Timeframe, bars []model.Bar, highs, lows []float64, volume []float64) []model.Divergence {
	left, right := d.settings.PivotLeft, d.settings.PivotRight

	var out []model.Divergence

	if pL, pR, ok := pivot.LastTwo(pivot.Lows(lows, left, right), pivot.Low); ok && pR.Value < pL.Value {
		vL, vR := volume[pL.Index], volume[pR.Index]
		if !math.IsNaN(vL) && !math.IsNaN(vR) && vR < vL {
			iL := pivot.Point{Index: pL.Index, Value: vL, Kind: pivot.Low}
			iR := pivot.Point{Index: pR.Index, Value: vR, Kind: pivot.Low}
			out = append(out, d.candidate(metric, tf, model.IndVolume, model.SideBullish, bars, pL, pR, iL, iR, volume))
		}
	}

	if pL, pR, ok := pivot.LastTwo(pivot.Highs(highs, left, right), pivot.High); ok && pR.Value > pL.Value {
		vL, vR := volume[pL.Index], volume[pR.Index]
		if !math.IsNaN(vL) && !math.IsNaN(vR) && vR < vL {
			iL := pivot.Point{Index: pL.Index, Value: vL, Kind: pivot.High}
			iR := pivot.Point{Index: pR.Index, Value: vR, Kind: pivot.High}
			out = append(out, d.candidate(metric, tf, model.IndVolume, model.SideBearish, bars, pL, pR, iL, iR, volume))
		}
	}

	return out
}

func (d *Detector) candidate(metric model.Metric, tf model.Timeframe, ind model.Indicator, side model.Side, bars []model.Bar, pL, pR, iL, iR pivot.Point, series []float64) model.Divergence {
	lastIdx := len(bars) - 1
	return model.Divergence{
		Metric:      metric,
		Timeframe:   tf,
		Indicator:   ind,
		Side:        side,
		Text:        candidateText(ind, side),
		Implication: implication.ForSide(metric, side),
		PivotL:      &model.Pivot{TS: bars[pL.Index].TS, Value: pL.Value},
		PivotR:      &model.Pivot{TS: bars[pR.Index].TS, Value: pR.Value},
		DetectedTS:  bars[lastIdx].TS,
		Status:      model.StatusActive,
		Score:       score(series, iL, iR, lastIdx, d.settings),
	}
}

func candidateText(ind model.Indicator, side model.Side) string {
	if ind == model.IndVolume {
		if side == model.SideBullish {
			return "Bullish divergence (Volume): LL on lower volume"
		}
		return "Bearish divergence (Volume): HH on lower volume"
	}
	name := string(ind)
	if side == model.SideBullish {
		return "Bullish divergence (" + name + "): price LL, " + name + " higher"
	}
	return "Bearish divergence (" + name + "): price HH, " + name + " lower"
}
