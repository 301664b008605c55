package model

import "encoding/json"

// RiskMode classifies a regime summary.
type RiskMode string

const (
	RiskOn    RiskMode = "risk_on"
	RiskOff   RiskMode = "risk_off"
	RiskMixed RiskMode = "mixed"
)

// TFDirection pairs a timeframe with the metric's latest direction on it.
type TFDirection struct {
	Timeframe Timeframe `json:"timeframe"`
	Direction Direction `json:"direction"`
}

// RegimeSummary is the per-metric multi-timeframe regime view. It is
// derived state: recomputed on demand from bar series, cached at most, and
// never the source of truth.
type RegimeSummary struct {
	Metric     Metric        `json:"metric"`
	AsOf       int64         `json:"as_of"` // unix ms of newest bar considered
	Directions []TFDirection `json:"directions"`
	Summary    string        `json:"summary"` // e.g. "15m ⬆ · 1h ⬆ · 4h → · 1d ⬇"
	RiskMode   RiskMode      `json:"risk_mode"`
	Forecast   *float64      `json:"forecast,omitempty"` // optional model estimate
}

// JSON returns the JSON-encoded summary.
func (r *RegimeSummary) JSON() []byte {
	data, _ := json.Marshal(r)
	return data
}

// MarketRegime is the cross-metric risk view for one timeframe: a weighted
// score of per-metric directions plus divergence contributions.
type MarketRegime struct {
	Timeframe Timeframe            `json:"timeframe"`
	AsOf      int64                `json:"as_of"`
	Arrows    map[Metric]Direction `json:"arrows"`
	Score     float64              `json:"score"`
	Label     string               `json:"label"` // "Strong Risk-ON" … "Strong Risk-OFF"
}
