package divergence

import (
	"math"
	"testing"

	"altregime/config"
	"altregime/internal/model"
	"altregime/internal/pivot"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

const hourMs = int64(3_600_000)

// barsFromCloses builds an hourly series with lows/highs half a point
// around the close and the given per-bar volumes (nil for no volume).
func barsFromCloses(metric model.Metric, closes []float64, volumes []float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		b := model.Bar{
			Metric:    metric,
			Timeframe: model.TF1h,
			TS:        int64(i) * hourMs,
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
		}
		if volumes != nil {
			v := volumes[i]
			b.Volume = &v
		}
		out[i] = b
	}
	return out
}

// doubleBottom is a series whose second swing low undercuts the first in
// price while RSI holds a higher low: rally, steep selloff, bounce, then
// a gentler slide to a marginal lower low. Swing lows land on bars 16
// and 26, both past RSI warm-up.
func doubleBottom() []float64 {
	closes := make([]float64, 0, 30)
	for i := 0; i < 10; i++ {
		closes = append(closes, 100+float64(i))
	}
	closes = append(closes, 105, 101, 97.5, 95.5, 94.8, 94.5, 94.2)
	closes = append(closes, 96, 98, 100, 101.5)
	closes = append(closes, 100.8, 100, 99, 97.5, 95.5, 94.0)
	closes = append(closes, 95.5, 97, 98.5)
	return closes
}

// confirmedBottom is the same shape with the selloff momentum matched on
// the second leg, so RSI undercuts its first low along with price and no
// divergence exists.
func confirmedBottom() []float64 {
	closes := make([]float64, 0, 30)
	for i := 0; i < 10; i++ {
		closes = append(closes, 100+float64(i))
	}
	closes = append(closes, 107, 105, 103, 101, 99, 97, 95.5)
	closes = append(closes, 97.5, 99.5, 101, 102.5)
	closes = append(closes, 101.5, 100.5, 99.5, 98, 96.5, 95)
	closes = append(closes, 96, 97, 98)
	return closes
}

func risingVolumes(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1000 + 10*float64(i)
	}
	return out
}

func fallingVolumes(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 2000 - 10*float64(i)
	}
	return out
}

func findDiv(divs []model.Divergence, ind model.Indicator, side model.Side) (model.Divergence, bool) {
	for _, d := range divs {
		if d.Indicator == ind && d.Side == side {
			return d, true
		}
	}
	return model.Divergence{}, false
}

// ────────────────────────────────────────────────────────────
// Detection
// ────────────────────────────────────────────────────────────

func TestDetect_BullishRSIDivergence(t *testing.T) {
	d := New(config.DefaultSettings())
	bars := barsFromCloses(model.MetricBTC, doubleBottom(), risingVolumes(30))

	divs := d.Detect(model.MetricBTC, model.TF1h, bars)
	if len(divs) != 1 {
		t.Fatalf("expected exactly 1 divergence, got %d: %+v", len(divs), divs)
	}
	div := divs[0]
	if div.Indicator != model.IndRSI || div.Side != model.SideBullish {
		t.Fatalf("expected bullish RSI divergence, got %s/%s", div.Indicator, div.Side)
	}
	if div.Status != model.StatusActive {
		t.Errorf("fresh candidate status: got %s, want %s", div.Status, model.StatusActive)
	}
	if div.Implication != model.BullishAlts {
		t.Errorf("implication for bullish BTC divergence: got %s", div.Implication)
	}
	if div.PivotL == nil || div.PivotR == nil {
		t.Fatal("oscillator divergence must carry both price pivots")
	}
	if div.PivotL.TS != 16*hourMs || div.PivotR.TS != 26*hourMs {
		t.Errorf("pivot timestamps: got %d/%d, want bars 16 and 26", div.PivotL.TS, div.PivotR.TS)
	}
	assertClose(t, "left pivot low", div.PivotL.Value, 93.7, 1e-9)
	assertClose(t, "right pivot low", div.PivotR.Value, 93.5, 1e-9)
	if div.DetectedTS != bars[len(bars)-1].TS {
		t.Errorf("detected_ts: got %d, want last bar %d", div.DetectedTS, bars[len(bars)-1].TS)
	}
	assertClose(t, "score", div.Score, 0.5240744169, 1e-6)
}

func TestDetect_VolumeDivergenceOnShrinkingVolume(t *testing.T) {
	d := New(config.DefaultSettings())
	bars := barsFromCloses(model.MetricBTC, doubleBottom(), fallingVolumes(30))

	divs := d.Detect(model.MetricBTC, model.TF1h, bars)
	vol, ok := findDiv(divs, model.IndVolume, model.SideBullish)
	if !ok {
		t.Fatalf("expected a bullish volume divergence, got %+v", divs)
	}
	if vol.PivotL == nil || vol.PivotR == nil {
		t.Fatal("volume divergence must carry price pivots")
	}
	assertClose(t, "right pivot low", vol.PivotR.Value, 93.5, 1e-9)
	// The RSI divergence is still there alongside.
	if _, ok := findDiv(divs, model.IndRSI, model.SideBullish); !ok {
		t.Error("RSI divergence should coexist with the volume divergence")
	}
}

func TestDetect_NoSignalWhenIndicatorConfirms(t *testing.T) {
	d := New(config.DefaultSettings())
	bars := barsFromCloses(model.MetricBTC, confirmedBottom(), risingVolumes(30))

	divs := d.Detect(model.MetricBTC, model.TF1h, bars)
	if len(divs) != 0 {
		t.Fatalf("RSI lower low confirms price: expected no divergences, got %+v", divs)
	}
}

func TestDetect_InsufficientHistory(t *testing.T) {
	d := New(config.DefaultSettings())
	bars := barsFromCloses(model.MetricBTC, []float64{100, 101, 99, 102, 98}, nil)

	if divs := d.Detect(model.MetricBTC, model.TF1h, bars); divs != nil {
		t.Fatalf("short history must yield nil, got %+v", divs)
	}
}

func TestDetectOscillator_MaxPairDistanceDiscards(t *testing.T) {
	d := New(config.DefaultSettings())
	closes := doubleBottom()
	bars := barsFromCloses(model.MetricBTC, closes, nil)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i] = b.High, b.Low
	}

	// Synthetic oscillator: low pivots at 10 and 26 — bar 10 is more
	// than MaxPairDistance away from the price pivot at 16.
	osc := make([]float64, len(bars))
	for i := range osc {
		osc[i] = 50
	}
	osc[10], osc[26] = 30, 35
	for i := range osc { // break flat ties around the pivots
		if i != 10 && i != 26 {
			osc[i] = 50 + 0.01*float64(i)
		}
	}

	divs := d.detectOscillator(model.MetricBTC, model.TF1h, bars, highs, lows, model.IndRSI, osc)
	if len(divs) != 0 {
		t.Fatalf("unpairable indicator pivot must be discarded, got %+v", divs)
	}
}

// ────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────

func activeBullish() model.Divergence {
	return model.Divergence{
		Metric:    model.MetricBTC,
		Timeframe: model.TF1h,
		Indicator: model.IndRSI,
		Side:      model.SideBullish,
		Status:    model.StatusActive,
		PivotL:    &model.Pivot{TS: 0, Value: 95.0},
		PivotR:    &model.Pivot{TS: 10 * hourMs, Value: 94.5},
	}
}

func activeBearish() model.Divergence {
	return model.Divergence{
		Metric:    model.MetricBTC,
		Timeframe: model.TF1h,
		Indicator: model.IndRSI,
		Side:      model.SideBearish,
		Status:    model.StatusActive,
		PivotL:    &model.Pivot{TS: 0, Value: 105.0},
		PivotR:    &model.Pivot{TS: 10 * hourMs, Value: 105.5},
	}
}

func judgeBar(ts int64, close, high, low float64) model.Bar {
	return model.Bar{
		Metric: model.MetricBTC, Timeframe: model.TF1h,
		TS: ts, Open: close, High: high, Low: low, Close: close,
	}
}

func TestJudge_BullishLifecycle(t *testing.T) {
	d := New(config.DefaultSettings())
	div := activeBullish()
	// Trendline through (0h, 95.0) and (10h, 94.5) sits at 94.45 on bar 11.
	ts := 11 * hourMs

	cases := []struct {
		name string
		bar  model.Bar
		want Decision
	}{
		{"lower low invalidates", judgeBar(ts, 94.40, 94.6, 94.30), DecisionInvalid},
		{"invalidation beats confirmation", judgeBar(ts, 94.70, 94.8, 94.40), DecisionInvalid},
		{"close above line is soft", judgeBar(ts, 94.55, 94.7, 94.50), DecisionConfirmSoft},
		{"close beyond buffer is hard", judgeBar(ts, 95.00, 95.1, 94.60), DecisionConfirmHard},
		{"bar at right pivot is none", judgeBar(10*hourMs, 96.0, 96.1, 95.9), DecisionNone},
	}
	for _, tc := range cases {
		if got := d.Judge(div, tc.bar); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJudge_BearishLifecycle(t *testing.T) {
	d := New(config.DefaultSettings())
	div := activeBearish()
	// Trendline through (0h, 105.0) and (10h, 105.5) sits at 105.55 on
	// bar 11; the hard threshold is 105.55 × 0.998 ≈ 105.3389.
	ts := 11 * hourMs

	cases := []struct {
		name string
		bar  model.Bar
		want Decision
	}{
		{"higher high invalidates", judgeBar(ts, 105.60, 105.70, 105.40), DecisionInvalid},
		{"close below line is soft", judgeBar(ts, 105.45, 105.50, 105.30), DecisionConfirmSoft},
		{"close beyond buffer is hard", judgeBar(ts, 105.00, 105.30, 104.90), DecisionConfirmHard},
	}
	for _, tc := range cases {
		if got := d.Judge(div, tc.bar); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJudge_TerminalAndPairSignalsAreInert(t *testing.T) {
	d := New(config.DefaultSettings())
	bar := judgeBar(11*hourMs, 95.0, 95.1, 94.6)

	confirmed := activeBullish()
	confirmed.Status = model.StatusConfirmed
	if got := d.Judge(confirmed, bar); got != DecisionNone {
		t.Errorf("confirmed divergence: got %v, want DecisionNone", got)
	}

	invalid := activeBullish()
	invalid.Status = model.StatusInvalid
	if got := d.Judge(invalid, bar); got != DecisionNone {
		t.Errorf("invalid divergence: got %v, want DecisionNone", got)
	}

	pair := activeBullish()
	pair.Indicator = model.IndPair
	pair.PivotL, pair.PivotR = nil, nil
	if got := d.Judge(pair, bar); got != DecisionNone {
		t.Errorf("pivotless pair signal: got %v, want DecisionNone", got)
	}
}

// ────────────────────────────────────────────────────────────
// Scoring
// ────────────────────────────────────────────────────────────

func TestScore_MonotonicInMagnitude(t *testing.T) {
	s := config.DefaultSettings()
	series := []float64{40, 45, 50, 55, 60, 48, 52, 47, 53}
	iL := pivot.Point{Index: 2, Value: 50, Kind: pivot.Low}

	prev := -1.0
	for gap := 0.0; gap <= 20; gap += 0.5 {
		iR := pivot.Point{Index: 6, Value: 50 + gap, Kind: pivot.Low}
		got := score(series, iL, iR, 8, s)
		if got < prev {
			t.Fatalf("score fell from %f to %f as gap grew to %f", prev, got, gap)
		}
		if got < 0 || got > 1 {
			t.Fatalf("score %f out of [0,1]", got)
		}
		prev = got
	}
}

func TestScore_FresherPivotScoresHigher(t *testing.T) {
	s := config.DefaultSettings()
	series := []float64{40, 45, 50, 55, 60, 48, 52, 47, 53}
	iL := pivot.Point{Index: 1, Value: 45, Kind: pivot.Low}

	old := score(series, iL, pivot.Point{Index: 3, Value: 48, Kind: pivot.Low}, 8, s)
	fresh := score(series, iL, pivot.Point{Index: 6, Value: 48, Kind: pivot.Low}, 8, s)
	if fresh <= old {
		t.Errorf("fresher right pivot should score higher: old=%f fresh=%f", old, fresh)
	}
}

func TestScore_ZeroStddevSeries(t *testing.T) {
	s := config.DefaultSettings()
	series := []float64{50, 50, 50, 50}
	got := score(series, pivot.Point{Index: 0, Value: 50}, pivot.Point{Index: 2, Value: 50}, 3, s)
	// Magnitude collapses to zero; only recency remains.
	if got < 0 || got > 0.5 {
		t.Errorf("flat series score: got %f, want within [0, 0.5]", got)
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.9f, want %.9f (tol=%g)", label, got, want, tol)
	}
}
