package divergence

import "altregime/internal/model"

// Decision is the lifecycle verdict for an active divergence after new
// price action.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionConfirmSoft
	DecisionConfirmHard
	DecisionInvalid
)

// Judge evaluates an active divergence against the latest bar.
// Invalidation is checked first: price extending beyond the right pivot in
// the original direction negates the reversal before any confirmation.
// Otherwise the bar's close is tested against the trendline through the
// two price pivots — a break in the implied direction confirms, hard when
// it clears the buffer.
//
// Divergences without both pivots (PAIR signals) and bars at or before the
// right pivot yield DecisionNone.
func (d *Detector) Judge(div model.Divergence, last model.Bar) Decision {
	if div.Status != model.StatusActive || div.PivotL == nil || div.PivotR == nil {
		return DecisionNone
	}
	if last.TS <= div.PivotR.TS {
		return DecisionNone
	}

	switch div.Side {
	case model.SideBullish:
		// A fresh lower low beyond the right pivot kills the signal.
		if last.Low < div.PivotR.Value {
			return DecisionInvalid
		}
		line := trendlineAt(div, last.TS)
		if last.Close > line*(1+d.settings.ConfirmBuffer) {
			return DecisionConfirmHard
		}
		if last.Close > line {
			return DecisionConfirmSoft
		}
	case model.SideBearish:
		if last.High > div.PivotR.Value {
			return DecisionInvalid
		}
		line := trendlineAt(div, last.TS)
		if last.Close < line*(1-d.settings.ConfirmBuffer) {
			return DecisionConfirmHard
		}
		if last.Close < line {
			return DecisionConfirmSoft
		}
	}
	return DecisionNone
}

// trendlineAt extends the line through the two price pivots to ts.
func trendlineAt(div model.Divergence, ts int64) float64 {
	l, r := div.PivotL, div.PivotR
	if r.TS == l.TS {
		return r.Value
	}
	slope := (r.Value - l.Value) / float64(r.TS-l.TS)
	return r.Value + slope*float64(ts-r.TS)
}
