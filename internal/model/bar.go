package model

import "encoding/json"

// Bar represents one OHLCV candle for a metric and timeframe.
// TS is the bar close time in unix milliseconds. Volume is optional:
// index-style metrics (USDT.D, BTC.D, TOTAL2/3) publish no volume.
type Bar struct {
	Metric    Metric    `json:"metric"`
	Timeframe Timeframe `json:"timeframe"`
	TS        int64     `json:"ts"` // unix ms, close time
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    *float64  `json:"v,omitempty"`
}

// Key returns the bar's identity key: "metric:timeframe". Bars with equal
// Key and TS replace one another on ingest.
func (b *Bar) Key() string {
	return string(b.Metric) + ":" + string(b.Timeframe)
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// ValidOHLC reports whether the bar satisfies
// low ≤ min(open,close) ≤ max(open,close) ≤ high and volume ≥ 0.
func (b *Bar) ValidOHLC() bool {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if !(b.Low <= lo && hi <= b.High) {
		return false
	}
	if b.Volume != nil && *b.Volume < 0 {
		return false
	}
	return true
}

// Aligned reports whether TS sits on the timeframe's close-time grid.
func (b *Bar) Aligned() bool {
	return b.TS%b.Timeframe.Millis() == 0
}
