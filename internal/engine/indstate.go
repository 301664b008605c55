package engine

import (
	"math"

	"altregime/internal/indicator"
	"altregime/internal/model"
)

// indicatorState carries a key's incremental indicators plus the derived
// series aligned index-for-index with the stored bar window. recompute
// reads and mutates it under the key's lock; only the map lookup needs
// the engine mutex.
type indicatorState struct {
	lastTS int64
	rsi    *indicator.RSI
	macd   *indicator.MACD
	comp   indicator.Computed
}

// indicatorSeries returns the derived series for the key's current bar
// window. A pure tail append — exactly one new bar, previous tail
// untouched — advances the incremental indicators in O(1). Anything else
// (a replaced or backfilled bar, warm-up still in progress, first sight of
// the key) rebuilds from the full window.
func (e *Engine) indicatorSeries(key string, series []model.Bar) indicator.Computed {
	e.mu.Lock()
	st := e.ind[key]
	if st == nil {
		st = &indicatorState{}
		e.ind[key] = st
	}
	e.mu.Unlock()

	if st.canAppend(series) {
		last := series[len(series)-1]
		st.rsi.Update(last)
		st.macd.Update(last)
		if st.rsi.Ready() && st.macd.Ready() {
			st.appendTail(last, len(series) == len(st.comp.Volume))
			return st.comp
		}
	}
	st.rebuild(series)
	return st.comp
}

// canAppend reports whether series is the previous window plus one newer
// tail bar. The window head may have slid by one when the lookback cap is
// reached; that still appends, with the oldest derived values dropped.
func (st *indicatorState) canAppend(series []model.Bar) bool {
	n := len(series)
	if st.rsi == nil || n < 2 {
		return false
	}
	if series[n-1].TS <= st.lastTS || series[n-2].TS != st.lastTS {
		return false
	}
	prev := len(st.comp.Volume)
	return n == prev+1 || n == prev
}

func (st *indicatorState) appendTail(bar model.Bar, shifted bool) {
	vol := math.NaN()
	if bar.Volume != nil {
		vol = *bar.Volume
	}
	st.comp.RSI = append(st.comp.RSI, st.rsi.Value())
	st.comp.MACD.Line = append(st.comp.MACD.Line, st.macd.Line())
	st.comp.MACD.Signal = append(st.comp.MACD.Signal, st.macd.Signal())
	st.comp.MACD.Hist = append(st.comp.MACD.Hist, st.macd.Hist())
	st.comp.Volume = append(st.comp.Volume, vol)
	if shifted {
		st.comp.RSI = st.comp.RSI[1:]
		st.comp.MACD.Line = st.comp.MACD.Line[1:]
		st.comp.MACD.Signal = st.comp.MACD.Signal[1:]
		st.comp.MACD.Hist = st.comp.MACD.Hist[1:]
		st.comp.Volume = st.comp.Volume[1:]
	}
	st.lastTS = bar.TS
}

// rebuild resets the incremental indicators by replaying the window and
// takes the derived series from the batch functions, so warm-up NaN
// prefixes stay exactly as the detector expects them.
func (st *indicatorState) rebuild(series []model.Bar) {
	st.rsi = indicator.NewRSI(indicator.RSIPeriod)
	st.macd = indicator.NewMACD(indicator.MACDFast, indicator.MACDSlow, indicator.MACDSignal)
	for _, b := range series {
		st.rsi.Update(b)
		st.macd.Update(b)
	}
	st.comp = indicator.Compute(series)
	st.lastTS = series[len(series)-1].TS
}
