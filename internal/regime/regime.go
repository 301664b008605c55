// Package regime folds per-timeframe directional reads into the two
// aggregate views downstream consumers render: the per-metric
// multi-timeframe summary and the cross-metric risk score.
package regime

import (
	"strings"

	"altregime/internal/implication"
	"altregime/internal/model"
)

// trendEpsRel scales the flat threshold for trend slopes by the last
// price, so BTC at 60k and ETHBTC at 0.05 flatten on comparable relative
// moves.
const trendEpsRel = 0.0005

// majorityTimeframes is the minimum count of agreeing timeframes (out of
// the four) for a non-mixed risk mode.
const majorityTimeframes = 3

// TrendDirection reads the direction of a close series as the sign of an
// ordinary least-squares slope over the last window bars, flattened by a
// relative threshold on the latest price. The threshold never drops below
// model.DirectionEps, so a series hovering near zero still flattens
// instead of flapping on float noise. Fewer than 3 closes (or a
// degenerate fit) fall back to the last bar's delta.
func TrendDirection(closes []float64, window int) model.Direction {
	if len(closes) < 2 {
		return model.DirFlat
	}
	eps := abs(closes[len(closes)-1]) * trendEpsRel
	if eps < model.DirectionEps {
		eps = model.DirectionEps
	}
	if len(closes) < 3 {
		return model.DirectionFromDelta(closes[len(closes)-1]-closes[len(closes)-2], eps)
	}

	y := closes
	if window >= 3 && len(y) > window {
		y = y[len(y)-window:]
	}
	n := float64(len(y))
	var sx, sy, sxx, sxy float64
	for i, v := range y {
		x := float64(i)
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return model.DirectionFromDelta(closes[len(closes)-1]-closes[len(closes)-2], eps)
	}
	slope := (n*sxy - sx*sy) / denom
	return model.DirectionFromDelta(slope, eps)
}

// Aggregate builds the per-metric regime summary from the latest known
// direction on each timeframe. Timeframes missing from dirs read as flat.
// risk_on requires at least 3 of the 4 timeframes to imply bullish_alts
// for this metric; risk_off symmetric; anything else is mixed.
func Aggregate(metric model.Metric, dirs map[model.Timeframe]model.Direction, asOf int64) model.RegimeSummary {
	out := model.RegimeSummary{
		Metric:     metric,
		AsOf:       asOf,
		Directions: make([]model.TFDirection, 0, len(model.Timeframes)),
	}

	bullish, bearish := 0, 0
	parts := make([]string, 0, len(model.Timeframes))
	for _, tf := range model.Timeframes {
		dir, ok := dirs[tf]
		if !ok {
			dir = model.DirFlat
		}
		out.Directions = append(out.Directions, model.TFDirection{Timeframe: tf, Direction: dir})
		parts = append(parts, string(tf)+" "+dir.Arrow())

		switch implication.ForDirection(metric, dir) {
		case model.BullishAlts:
			bullish++
		case model.BearishAlts:
			bearish++
		}
	}
	out.Summary = strings.Join(parts, " · ")

	switch {
	case bullish >= majorityTimeframes:
		out.RiskMode = model.RiskOn
	case bearish >= majorityTimeframes:
		out.RiskMode = model.RiskOff
	default:
		out.RiskMode = model.RiskMixed
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
