// Package implication maps a metric's directional move to its effect on
// altcoin risk appetite using a fixed polarity table.
//
// Dominance metrics (USDT.D, BTC.D) invert: rising dominance drains the
// altcoin share, so up is bearish for alts. TOTAL2/TOTAL3/ETHBTC are
// direct. BTC direction alone says nothing about rotation into alts, so it
// maps to neutral. flat is always neutral.
package implication

import "altregime/internal/model"

var table = map[model.Metric]map[model.Direction]model.Implication{
	model.MetricUSDTD:  {model.DirUp: model.BearishAlts, model.DirDown: model.BullishAlts, model.DirFlat: model.Neutral},
	model.MetricBTCD:   {model.DirUp: model.BearishAlts, model.DirDown: model.BullishAlts, model.DirFlat: model.Neutral},
	model.MetricTOTAL2: {model.DirUp: model.BullishAlts, model.DirDown: model.BearishAlts, model.DirFlat: model.Neutral},
	model.MetricTOTAL3: {model.DirUp: model.BullishAlts, model.DirDown: model.BearishAlts, model.DirFlat: model.Neutral},
	model.MetricETHBTC: {model.DirUp: model.BullishAlts, model.DirDown: model.BearishAlts, model.DirFlat: model.Neutral},
	model.MetricBTC:    {model.DirUp: model.Neutral, model.DirDown: model.Neutral, model.DirFlat: model.Neutral},
}

// ForDirection returns the altcoin implication of a metric moving in the
// given direction. The metric set is closed and validated at ingestion, so
// an unknown metric is a caller bug and panics.
func ForDirection(metric model.Metric, dir model.Direction) model.Implication {
	row, ok := table[metric]
	if !ok {
		panic("implication: unknown metric " + string(metric))
	}
	impl, ok := row[dir]
	if !ok {
		panic("implication: unknown direction " + string(dir))
	}
	return impl
}

// ForSide returns the implication of a divergence signal on a metric.
// Unlike ForDirection, a bullish BTC divergence is bullish for alts: a
// reversal signal on the market leader lifts the whole board, while mere
// BTC direction says nothing about rotation.
func ForSide(metric model.Metric, side model.Side) model.Implication {
	bullish := side == model.SideBullish
	if metric == model.MetricUSDTD || metric == model.MetricBTCD {
		if bullish {
			return model.BearishAlts
		}
		return model.BullishAlts
	}
	if !model.ValidMetric(metric) {
		panic("implication: unknown metric " + string(metric))
	}
	if bullish {
		return model.BullishAlts
	}
	return model.BearishAlts
}
