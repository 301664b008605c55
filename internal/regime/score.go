package regime

import "altregime/internal/model"

// arrowWeights are the per-metric contributions to the cross-metric risk
// score. TOTAL3 is the purest alt read and counts double; dominance
// metrics count double with inverted sign (rising dominance drains alts).
var arrowWeights = map[model.Metric]float64{
	model.MetricTOTAL3: 2,
	model.MetricTOTAL2: 1,
	model.MetricBTC:    1,
	model.MetricUSDTD:  -2,
	model.MetricBTCD:   -2,
	model.MetricETHBTC: 1,
}

// Grade bonuses stack on top of a confirmed divergence's base ±1
// contribution, signed by its implication.
const (
	softBonus = 0.5
	hardBonus = 1.0
)

// divCap bounds the total divergence contribution so a burst of
// correlated signals cannot swamp the directional read.
const divCap = 2.0

// Score computes the cross-metric risk score for one timeframe from the
// per-metric trend directions and the live divergences on that timeframe,
// and buckets it into a label.
func Score(tf model.Timeframe, asOf int64, arrows map[model.Metric]model.Direction, divs []model.Divergence) model.MarketRegime {
	score := 0.0
	for metric, w := range arrowWeights {
		switch arrows[metric] {
		case model.DirUp:
			score += w
		case model.DirDown:
			score -= w
		}
	}

	divAdj := 0.0
	for _, d := range divs {
		if d.Timeframe != tf {
			continue
		}
		sign := 0.0
		switch d.Implication {
		case model.BullishAlts:
			sign = 1
		case model.BearishAlts:
			sign = -1
		default:
			continue
		}
		divAdj += sign
		if d.Status == model.StatusConfirmed {
			switch d.Grade {
			case model.GradeSoft:
				divAdj += sign * softBonus
			case model.GradeHard:
				divAdj += sign * hardBonus
			}
		}
	}
	if divAdj > divCap {
		divAdj = divCap
	}
	if divAdj < -divCap {
		divAdj = -divCap
	}
	score += divAdj

	return model.MarketRegime{
		Timeframe: tf,
		AsOf:      asOf,
		Arrows:    arrows,
		Score:     score,
		Label:     labelFor(score),
	}
}

func labelFor(score float64) string {
	switch {
	case score >= 5:
		return "Strong Risk-ON"
	case score >= 2:
		return "Risk-ON"
	case score <= -5:
		return "Strong Risk-OFF"
	case score <= -2:
		return "Risk-OFF"
	default:
		return "Neutral"
	}
}
