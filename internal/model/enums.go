package model

// Metric identifies one of the tracked market-wide series.
// The set is closed: adding a metric requires a polarity table entry
// in internal/implication.
type Metric string

const (
	MetricBTC    Metric = "BTC"
	MetricUSDTD  Metric = "USDT.D"
	MetricBTCD   Metric = "BTC.D"
	MetricTOTAL2 Metric = "TOTAL2"
	MetricTOTAL3 Metric = "TOTAL3"
	MetricETHBTC Metric = "ETHBTC"
)

// Metrics lists all tracked metrics in report order.
var Metrics = []Metric{MetricBTC, MetricUSDTD, MetricBTCD, MetricTOTAL2, MetricTOTAL3, MetricETHBTC}

// ValidMetric reports whether m is a member of the closed metric set.
func ValidMetric(m Metric) bool {
	switch m {
	case MetricBTC, MetricUSDTD, MetricBTCD, MetricTOTAL2, MetricTOTAL3, MetricETHBTC:
		return true
	}
	return false
}

// Timeframe is a bar interval. The set is closed.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists all timeframes ordered shortest first. Regime summaries
// concatenate per-timeframe directions in this order.
var Timeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d}

var tfMillis = map[Timeframe]int64{
	TF15m: 15 * 60 * 1000,
	TF1h:  60 * 60 * 1000,
	TF4h:  4 * 60 * 60 * 1000,
	TF1d:  24 * 60 * 60 * 1000,
}

// ValidTimeframe reports whether tf is a member of the closed timeframe set.
func ValidTimeframe(tf Timeframe) bool {
	_, ok := tfMillis[tf]
	return ok
}

// Millis returns the timeframe duration in milliseconds.
// Panics on an unknown timeframe: the set is closed and validated at
// ingestion, so an unknown value here is a caller bug.
func (tf Timeframe) Millis() int64 {
	ms, ok := tfMillis[tf]
	if !ok {
		panic("model: unknown timeframe " + string(tf))
	}
	return ms
}

// Direction is the sign of a metric's recent movement.
type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
	DirFlat Direction = "flat"
)

// DirectionEps is the absolute floor on the flat threshold: deltas and
// slopes smaller than this read as flat whatever the price scale.
const DirectionEps = 1e-6

// DirectionFromDelta normalizes a delta to up/down/flat with the eps
// threshold.
func DirectionFromDelta(delta, eps float64) Direction {
	if delta > eps {
		return DirUp
	}
	if delta < -eps {
		return DirDown
	}
	return DirFlat
}

// Arrow returns the display arrow for a direction.
func (d Direction) Arrow() string {
	switch d {
	case DirUp:
		return "⬆"
	case DirDown:
		return "⬇"
	default:
		return "→"
	}
}

// Implication is the mapped effect of a metric's move on altcoin risk
// appetite.
type Implication string

const (
	BullishAlts Implication = "bullish_alts"
	BearishAlts Implication = "bearish_alts"
	Neutral     Implication = "neutral"
)
