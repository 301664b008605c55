package model

import (
	"encoding/json"
	"strconv"
)

// Indicator names the secondary series a divergence was detected against.
type Indicator string

const (
	IndRSI    Indicator = "RSI"
	IndMACD   Indicator = "MACD"
	IndVolume Indicator = "VOLUME"
	IndPair   Indicator = "PAIR"
)

// Side is the price-action side of a divergence.
type Side string

const (
	SideBullish Side = "bullish"
	SideBearish Side = "bearish"
)

// DivStatus is the lifecycle state of a divergence. Transitions are
// monotonic: active → confirmed or active → invalid, never back.
type DivStatus string

const (
	StatusActive    DivStatus = "active"
	StatusConfirmed DivStatus = "confirmed"
	StatusInvalid   DivStatus = "invalid"
)

// ConfirmGrade distinguishes how decisively price broke the pivot
// trendline on confirmation.
type ConfirmGrade string

const (
	GradeSoft ConfirmGrade = "soft"
	GradeHard ConfirmGrade = "hard"
)

// Pivot is a local extremum in a price or indicator series. Pivots are not
// persisted independently; a Divergence owns its left and right pivots.
type Pivot struct {
	TS    int64   `json:"ts"` // unix ms
	Value float64 `json:"value"`
}

// Divergence is a price-vs-indicator disagreement signal with a tracked
// lifecycle. It is owned and mutated exclusively by the divergence
// detector; everything else reads it.
//
// Metric is empty for PAIR divergences, which relate two metrics and carry
// the relation in Text.
type Divergence struct {
	ID          int64        `json:"id,omitempty"`
	Metric      Metric       `json:"metric,omitempty"`
	Timeframe   Timeframe    `json:"timeframe"`
	Indicator   Indicator    `json:"indicator"`
	Side        Side         `json:"side"`
	Text        string       `json:"text"`
	Implication Implication  `json:"implication"`
	PivotL      *Pivot       `json:"pivot_l,omitempty"` // price level at the left swing
	PivotR      *Pivot       `json:"pivot_r,omitempty"` // price level at the right swing
	DetectedTS  int64        `json:"detected_ts"`
	Status      DivStatus    `json:"status"`
	ConfirmTS   int64        `json:"confirm_ts,omitempty"`
	Grade       ConfirmGrade `json:"confirm_grade,omitempty"`
	InvalidTS   int64        `json:"invalid_ts,omitempty"`
	Score       float64      `json:"score"` // quality in [0,1]
}

// UniqKey returns the idempotency key for upserts: the same pivot pair for
// the same (metric, timeframe, indicator, side) is the same divergence no
// matter how many times recomputation rediscovers it.
func (d *Divergence) UniqKey() string {
	var lts, rts int64
	if d.PivotL != nil {
		lts = d.PivotL.TS
	}
	if d.PivotR != nil {
		rts = d.PivotR.TS
	}
	return string(d.Metric) + "|" + string(d.Timeframe) + "|" + string(d.Indicator) + "|" +
		string(d.Side) + "|" + strconv.FormatInt(lts, 10) + "|" + strconv.FormatInt(rts, 10)
}

// JSON returns the JSON-encoded divergence.
func (d *Divergence) JSON() []byte {
	data, _ := json.Marshal(d)
	return data
}

// EventChannel returns the PubSub channel for lifecycle events:
// "pub:div:{timeframe}:{metric}".
func (d *Divergence) EventChannel() string {
	m := string(d.Metric)
	if m == "" {
		m = "pair"
	}
	return "pub:div:" + string(d.Timeframe) + ":" + m
}
