package engine

import (
	"math"
	"testing"

	"altregime/internal/indicator"
	"altregime/internal/model"
)

func indBars(n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		c := 100 + 8*math.Sin(0.35*float64(i)) + 0.3*float64(i%7)
		v := 1000 + 50*float64(i%11)
		out[i] = model.Bar{
			Metric: model.MetricBTC, Timeframe: model.TF1h,
			TS:   int64(i+1) * model.TF1h.Millis(),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: &v,
		}
	}
	return out
}

func sameSeries(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if math.IsNaN(want[i]) != math.IsNaN(got[i]) {
			t.Fatalf("%s[%d]: got %f, want %f", name, i, got[i], want[i])
		}
		if !math.IsNaN(want[i]) && math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("%s[%d]: got %.12f, want %.12f", name, i, got[i], want[i])
		}
	}
}

func sameComputed(t *testing.T, got, want indicator.Computed) {
	t.Helper()
	sameSeries(t, "rsi", got.RSI, want.RSI)
	sameSeries(t, "macd line", got.MACD.Line, want.MACD.Line)
	sameSeries(t, "macd signal", got.MACD.Signal, want.MACD.Signal)
	sameSeries(t, "macd hist", got.MACD.Hist, want.MACD.Hist)
	sameSeries(t, "volume", got.Volume, want.Volume)
}

func TestIndicatorSeries_TailAppendsMatchFullDerivation(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	bars := indBars(80)

	got := e.indicatorSeries("BTC:1h", bars[:40])
	sameComputed(t, got, indicator.Compute(bars[:40]))

	// Every further bar lands on the tail; the appended values must be
	// indistinguishable from deriving the whole window again.
	for n := 41; n <= 80; n++ {
		got = e.indicatorSeries("BTC:1h", bars[:n])
		sameComputed(t, got, indicator.Compute(bars[:n]))
	}
}

func TestIndicatorSeries_ReplacedBarForcesRebuild(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	bars := indBars(80)
	e.indicatorSeries("BTC:1h", bars)

	// Rewrite a mid-window close: the cached series is stale from that
	// index on and must be rebuilt, not served as-is.
	bars[50].Close += 25
	got := e.indicatorSeries("BTC:1h", bars)
	sameComputed(t, got, indicator.Compute(bars))
}

func TestIndicatorSeries_WarmupStaysBatchDerived(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	bars := indBars(indicator.MACDSlow + 2)

	// Inside MACD warm-up the append path must defer to the batch
	// functions so the NaN prefixes keep their exact shape.
	for n := 10; n <= len(bars); n++ {
		got := e.indicatorSeries("BTC:1h", bars[:n])
		sameComputed(t, got, indicator.Compute(bars[:n]))
	}
}

func TestIndicatorSeries_SlidingWindowKeepsIndicatorContinuity(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	bars := indBars(61)

	e.indicatorSeries("BTC:1h", bars[:60])
	got := e.indicatorSeries("BTC:1h", bars[1:61])

	if len(got.RSI) != 60 {
		t.Fatalf("window length: got %d, want 60", len(got.RSI))
	}

	// The appended tail continues the indicators over the full history
	// seen so far, not a restart from the slid window's head.
	rsi := indicator.NewRSI(indicator.RSIPeriod)
	macd := indicator.NewMACD(indicator.MACDFast, indicator.MACDSlow, indicator.MACDSignal)
	for _, b := range bars {
		rsi.Update(b)
		macd.Update(b)
	}
	lastIdx := len(got.RSI) - 1
	if got.RSI[lastIdx] != rsi.Value() {
		t.Errorf("tail rsi: got %.12f, want %.12f", got.RSI[lastIdx], rsi.Value())
	}
	if got.MACD.Line[lastIdx] != macd.Line() {
		t.Errorf("tail macd: got %.12f, want %.12f", got.MACD.Line[lastIdx], macd.Line())
	}
	if got.Volume[lastIdx] != *bars[60].Volume {
		t.Errorf("tail volume: got %f, want %f", got.Volume[lastIdx], *bars[60].Volume)
	}
}
