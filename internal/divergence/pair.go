package divergence

import (
	"altregime/internal/model"
)

// pairRelation relates two metrics for cross-metric divergence checks.
type pairRelation struct {
	A, B    model.Metric
	Inverse bool // B is expected to mirror A's extremes when true
}

// pairRelations is the fixed relation table: TOTAL3 should be confirmed
// directly by BTC and TOTAL2 and inversely by the dominance metrics;
// ETHBTC strength should pull BTC.D down.
var pairRelations = []pairRelation{
	{A: model.MetricTOTAL3, B: model.MetricUSDTD, Inverse: true},
	{A: model.MetricTOTAL3, B: model.MetricBTCD, Inverse: true},
	{A: model.MetricTOTAL3, B: model.MetricBTC},
	{A: model.MetricTOTAL3, B: model.MetricTOTAL2},
	{A: model.MetricETHBTC, B: model.MetricBTCD, Inverse: true},
}

// DetectPairs finds cross-metric divergences on one timeframe: metric A
// printing a (near-)extreme that its related metric B fails to confirm.
// These are snapshot observations over the latest window — they carry no
// pivots and no confirm lifecycle, and are recomputed on demand rather
// than persisted.
func (d *Detector) DetectPairs(tf model.Timeframe, series map[model.Metric][]model.Bar) []model.Divergence {
	win := d.settings.PairWindow[tf]
	if win <= 0 {
		win = 60
	}

	var out []model.Divergence
	for _, rel := range pairRelations {
		a, b := series[rel.A], series[rel.B]
		if len(a) < win || len(b) < win {
			continue
		}
		aVals := closeTail(a, win)
		bVals := closeTail(b, win)
		aHi, aLo := d.nearExtreme(aVals)
		bHi, bLo := d.nearExtreme(bVals)

		lastTS := a[len(a)-1].TS
		if rel.Inverse {
			if aHi && !bLo {
				out = append(out, pairDivergence(tf, rel, model.SideBearish, lastTS,
					"Inverse divergence: "+string(rel.A)+" HH, "+string(rel.B)+" not making LL"))
			}
			if aLo && !bHi {
				out = append(out, pairDivergence(tf, rel, model.SideBullish, lastTS,
					"Inverse divergence: "+string(rel.A)+" LL, "+string(rel.B)+" not making HH"))
			}
		} else {
			if aHi && !bHi {
				out = append(out, pairDivergence(tf, rel, model.SideBearish, lastTS,
					"Direct divergence: "+string(rel.A)+" HH unconfirmed by "+string(rel.B)))
			}
			if aLo && !bLo {
				out = append(out, pairDivergence(tf, rel, model.SideBullish, lastTS,
					"Direct divergence: "+string(rel.A)+" LL unconfirmed by "+string(rel.B)))
			}
		}
	}
	return out
}

// nearExtreme reports whether the last value is a (near-)high or
// (near-)low of the window: within PairTolerance of the prior extreme and
// still moving that way.
func (d *Detector) nearExtreme(vals []float64) (hi, lo bool) {
	if len(vals) < 3 {
		return false, false
	}
	last := vals[len(vals)-1]
	prev := vals[len(vals)-2]
	mx, mn := vals[0], vals[0]
	for _, v := range vals[:len(vals)-1] {
		if v > mx {
			mx = v
		}
		if v < mn {
			mn = v
		}
	}
	tol := d.settings.PairTolerance
	hi = last >= mx*(1-tol) && last > prev
	lo = last <= mn*(1+tol) && last < prev
	return hi, lo
}

func pairDivergence(tf model.Timeframe, rel pairRelation, side model.Side, ts int64, text string) model.Divergence {
	// Unconfirmed extremes on the alt-side aggregates read on alts
	// directly; signals led by other metrics stay neutral.
	impl := model.Neutral
	if rel.A == model.MetricTOTAL3 || rel.A == model.MetricTOTAL2 || rel.A == model.MetricETHBTC {
		if side == model.SideBullish {
			impl = model.BullishAlts
		} else {
			impl = model.BearishAlts
		}
	}
	return model.Divergence{
		Timeframe:   tf,
		Indicator:   model.IndPair,
		Side:        side,
		Text:        text,
		Implication: impl,
		DetectedTS:  ts,
		Status:      model.StatusActive,
	}
}

func closeTail(bars []model.Bar, n int) []float64 {
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
