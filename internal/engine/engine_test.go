package engine

import (
	"context"
	"errors"
	"sort"
	"testing"

	"altregime/config"
	"altregime/internal/model"
)

// ────────────────────────────────────────────────────────────
// In-memory fakes
// ────────────────────────────────────────────────────────────

type memBars struct {
	m map[string]map[int64]model.Bar
}

func newMemBars() *memBars { return &memBars{m: make(map[string]map[int64]model.Bar)} }

func (s *memBars) UpsertBar(_ context.Context, bar model.Bar) (bool, error) {
	key := bar.Key()
	if s.m[key] == nil {
		s.m[key] = make(map[int64]model.Bar)
	}
	_, replaced := s.m[key][bar.TS]
	s.m[key][bar.TS] = bar
	return replaced, nil
}

func (s *memBars) GetSeries(_ context.Context, metric model.Metric, tf model.Timeframe, limit int) ([]model.Bar, error) {
	key := string(metric) + ":" + string(tf)
	bars := make([]model.Bar, 0, len(s.m[key]))
	for _, b := range s.m[key] {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS < bars[j].TS })
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (s *memBars) count() int {
	n := 0
	for _, bars := range s.m {
		n += len(bars)
	}
	return n
}

type memDivs struct {
	rows   []model.Divergence
	nextID int64
}

func (s *memDivs) InsertDivergence(_ context.Context, d model.Divergence) (bool, error) {
	for _, row := range s.rows {
		if row.UniqKey() == d.UniqKey() {
			return false, nil
		}
	}
	s.nextID++
	d.ID = s.nextID
	s.rows = append(s.rows, d)
	return true, nil
}

func (s *memDivs) ListDivergences(_ context.Context, f model.DivergenceFilter) ([]model.Divergence, error) {
	var out []model.Divergence
	for _, d := range s.rows {
		if f.Metric != "" && d.Metric != f.Metric {
			continue
		}
		if f.Timeframe != "" && d.Timeframe != f.Timeframe {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *memDivs) ConfirmDivergence(_ context.Context, id int64, grade model.ConfirmGrade, ts int64) error {
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].Status == model.StatusActive {
			s.rows[i].Status = model.StatusConfirmed
			s.rows[i].Grade = grade
			s.rows[i].ConfirmTS = ts
		}
	}
	return nil
}

func (s *memDivs) InvalidateDivergence(_ context.Context, id int64, ts int64) error {
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].Status == model.StatusActive {
			s.rows[i].Status = model.StatusInvalid
			s.rows[i].InvalidTS = ts
		}
	}
	return nil
}

type recordingPublisher struct {
	events      []string
	cached      []model.RegimeSummary
	invalidated []model.Metric
	serve       *model.RegimeSummary // snapshot returned by CachedRegime
	lookups     int
}

func (p *recordingPublisher) PublishDivergence(_ context.Context, _ model.Divergence, event string) {
	p.events = append(p.events, event)
}

func (p *recordingPublisher) CacheRegime(_ context.Context, s model.RegimeSummary) {
	p.cached = append(p.cached, s)
}

func (p *recordingPublisher) InvalidateRegime(_ context.Context, m model.Metric) {
	p.invalidated = append(p.invalidated, m)
	p.serve = nil
}

func (p *recordingPublisher) CachedRegime(_ context.Context, _ model.Metric) *model.RegimeSummary {
	p.lookups++
	return p.serve
}

type recordingNotifier struct {
	divs []model.Divergence
}

func (n *recordingNotifier) NotifyDivergence(_ context.Context, d model.Divergence) {
	n.divs = append(n.divs, d)
}

type fixedForecast struct{ v float64 }

func (f fixedForecast) Predict(context.Context, model.Metric, int) (float64, error) {
	return f.v, nil
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

const hourMs = int64(3_600_000)

func hourBar(i int, close float64) model.Bar {
	vol := 1000.0 + 10*float64(i)
	return model.Bar{
		Metric: model.MetricBTC, Timeframe: model.TF1h,
		TS: int64(i) * hourMs,
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: &vol,
	}
}

// divergentBottom prints a lower price low at bar 26 against a higher RSI
// low, after the first swing low at bar 16.
func divergentBottom() []float64 {
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

func newTestEngine(bars *memBars, divs *memDivs, opts Options) *Engine {
	return New(bars, divs, config.DefaultSettings(), opts)
}

// ────────────────────────────────────────────────────────────
// Validation
// ────────────────────────────────────────────────────────────

func TestIngest_RejectsHighBelowLow(t *testing.T) {
	bars := newMemBars()
	e := newTestEngine(bars, &memDivs{}, Options{})

	bad := model.Bar{
		Metric: model.MetricBTC, Timeframe: model.TF1h, TS: hourMs,
		Open: 100, High: 99, Low: 101, Close: 100,
	}
	res, err := e.Ingest(context.Background(), bad)
	if !errors.Is(err, model.ErrInvalidBar) {
		t.Fatalf("want ErrInvalidBar, got %v", err)
	}
	if res.Accepted {
		t.Error("rejected bar must not report accepted")
	}
	if bars.count() != 0 {
		t.Errorf("rejected bar leaked into store: %d bars", bars.count())
	}
}

func TestIngest_RejectsOffGridTimestamp(t *testing.T) {
	bars := newMemBars()
	e := newTestEngine(bars, &memDivs{}, Options{})

	bad := hourBar(1, 100)
	bad.TS += 1234
	_, err := e.Ingest(context.Background(), bad)
	if !errors.Is(err, model.ErrInvalidBar) {
		t.Fatalf("want ErrInvalidBar for off-grid ts, got %v", err)
	}
	if bars.count() != 0 {
		t.Error("off-grid bar leaked into store")
	}
}

func TestIngest_PanicsOnUnknownMetric(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	defer func() {
		if recover() == nil {
			t.Error("unknown metric must panic (closed-set contract)")
		}
	}()
	e.Ingest(context.Background(), model.Bar{Metric: "DOGE", Timeframe: model.TF1h})
}

// ────────────────────────────────────────────────────────────
// Upsert semantics
// ────────────────────────────────────────────────────────────

func TestIngest_ReplaceOnDuplicateKey(t *testing.T) {
	bars := newMemBars()
	e := newTestEngine(bars, &memDivs{}, Options{})
	ctx := context.Background()

	res, err := e.Ingest(ctx, hourBar(1, 100))
	if err != nil || !res.Accepted || res.Replaced {
		t.Fatalf("first ingest: res=%+v err=%v", res, err)
	}

	res, err = e.Ingest(ctx, hourBar(1, 101))
	if err != nil || !res.Accepted || !res.Replaced {
		t.Fatalf("duplicate-key ingest must replace: res=%+v err=%v", res, err)
	}
	if bars.count() != 1 {
		t.Errorf("replace grew the store to %d bars", bars.count())
	}
}

// ────────────────────────────────────────────────────────────
// Detection through the pipeline
// ────────────────────────────────────────────────────────────

func TestIngest_DetectsAndHardConfirms(t *testing.T) {
	bars := newMemBars()
	divs := &memDivs{}
	pub := &recordingPublisher{}
	notif := &recordingNotifier{}
	e := newTestEngine(bars, divs, Options{Publisher: pub, Notifier: notif})
	ctx := context.Background()

	for i, c := range divergentBottom() {
		if _, err := e.Ingest(ctx, hourBar(i, c)); err != nil {
			t.Fatalf("ingest bar %d: %v", i, err)
		}
	}

	rows, _ := divs.ListDivergences(ctx, model.DivergenceFilter{})
	if len(rows) != 1 {
		t.Fatalf("want exactly 1 divergence, got %d: %+v", len(rows), rows)
	}
	got := rows[0]
	if got.Indicator != model.IndRSI || got.Side != model.SideBullish {
		t.Fatalf("want bullish RSI divergence, got %s/%s", got.Indicator, got.Side)
	}
	if got.Implication != model.BullishAlts {
		t.Errorf("implication: got %s", got.Implication)
	}
	// The right pivot confirms two bars after it prints; the recovery bar
	// that completes detection already closes above the descending pivot
	// line by more than the buffer.
	if got.Status != model.StatusConfirmed || got.Grade != model.GradeHard {
		t.Errorf("want hard confirmation, got status=%s grade=%s", got.Status, got.Grade)
	}
	if got.ConfirmTS != 28*hourMs {
		t.Errorf("confirm_ts: got %d, want bar 28", got.ConfirmTS)
	}

	if len(pub.events) != 2 || pub.events[0] != "detected" || pub.events[1] != "confirmed" {
		t.Errorf("events: got %v, want [detected confirmed]", pub.events)
	}
	if len(notif.divs) != 1 {
		t.Errorf("hard confirmation must notify exactly once, got %d", len(notif.divs))
	}
	if len(pub.invalidated) != len(divergentBottom()) {
		t.Errorf("every accepted bar must invalidate the regime cache: got %d", len(pub.invalidated))
	}
}

func TestIngest_RecomputeIsIdempotent(t *testing.T) {
	bars := newMemBars()
	divs := &memDivs{}
	e := newTestEngine(bars, divs, Options{})
	ctx := context.Background()

	series := divergentBottom()
	for i, c := range series {
		if _, err := e.Ingest(ctx, hourBar(i, c)); err != nil {
			t.Fatalf("ingest bar %d: %v", i, err)
		}
	}
	before, _ := divs.ListDivergences(ctx, model.DivergenceFilter{})

	// Re-deliver the last bar unchanged: replaced, derived state stable.
	res, err := e.Ingest(ctx, hourBar(len(series)-1, series[len(series)-1]))
	if err != nil || !res.Replaced {
		t.Fatalf("re-delivery: res=%+v err=%v", res, err)
	}
	after, _ := divs.ListDivergences(ctx, model.DivergenceFilter{})
	if len(after) != len(before) {
		t.Fatalf("recompute not idempotent: %d rows before, %d after", len(before), len(after))
	}
	for i := range after {
		if after[i].Status != before[i].Status || after[i].UniqKey() != before[i].UniqKey() {
			t.Fatalf("row %d mutated by idempotent recompute", i)
		}
	}
}

func TestIngest_InvalidatesOnNewExtreme(t *testing.T) {
	bars := newMemBars()
	divs := &memDivs{}
	pub := &recordingPublisher{}
	e := newTestEngine(bars, divs, Options{Publisher: pub})
	ctx := context.Background()

	// A live signal whose right pivot sits at 94.5.
	divs.InsertDivergence(ctx, model.Divergence{
		Metric: model.MetricBTC, Timeframe: model.TF1h,
		Indicator: model.IndRSI, Side: model.SideBullish,
		Implication: model.BullishAlts,
		PivotL:      &model.Pivot{TS: 0, Value: 95.0},
		PivotR:      &model.Pivot{TS: 10 * hourMs, Value: 94.5},
		DetectedTS:  12 * hourMs,
		Status:      model.StatusActive,
	})

	// Price undercuts the right pivot: the reversal thesis is dead.
	bar := model.Bar{
		Metric: model.MetricBTC, Timeframe: model.TF1h, TS: 13 * hourMs,
		Open: 94.2, High: 94.3, Low: 93.9, Close: 94.0,
	}
	if _, err := e.Ingest(ctx, bar); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	rows, _ := divs.ListDivergences(ctx, model.DivergenceFilter{})
	if rows[0].Status != model.StatusInvalid {
		t.Fatalf("want invalid, got %s", rows[0].Status)
	}
	if rows[0].InvalidTS != 13*hourMs {
		t.Errorf("invalid_ts: got %d", rows[0].InvalidTS)
	}
	if len(pub.events) != 1 || pub.events[0] != "invalidated" {
		t.Errorf("events: got %v", pub.events)
	}
}

// ────────────────────────────────────────────────────────────
// Queries
// ────────────────────────────────────────────────────────────

func TestRegime_RisingTotal3IsRiskOn(t *testing.T) {
	bars := newMemBars()
	pub := &recordingPublisher{}
	e := newTestEngine(bars, &memDivs{}, Options{Publisher: pub, Forecast: fixedForecast{v: 123.45}})
	ctx := context.Background()

	for _, tf := range model.Timeframes {
		step := tf.Millis()
		for i := 0; i < 12; i++ {
			c := 100 + float64(i)
			bar := model.Bar{
				Metric: model.MetricTOTAL3, Timeframe: tf, TS: int64(i+1) * step,
				Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
			}
			if _, err := e.Ingest(ctx, bar); err != nil {
				t.Fatalf("ingest %s bar %d: %v", tf, i, err)
			}
		}
	}

	sum, err := e.Regime(ctx, model.MetricTOTAL3, 0)
	if err != nil {
		t.Fatalf("regime: %v", err)
	}
	if sum.RiskMode != model.RiskOn {
		t.Errorf("risk mode: got %s, want risk_on", sum.RiskMode)
	}
	if sum.Forecast == nil || *sum.Forecast != 123.45 {
		t.Errorf("forecast not attached: %+v", sum.Forecast)
	}
	if len(pub.cached) == 0 {
		t.Error("regime summary must be cached through the publisher")
	}
	if sum.AsOf != 12*model.TF1d.Millis() {
		t.Errorf("as_of: got %d, want newest 1d bar", sum.AsOf)
	}

	// As-of view cuts the series to what was known then and skips the cache.
	cachedBefore := len(pub.cached)
	past, err := e.Regime(ctx, model.MetricTOTAL3, 6*model.TF1d.Millis())
	if err != nil {
		t.Fatalf("as-of regime: %v", err)
	}
	if past.AsOf != 6*model.TF1d.Millis() {
		t.Errorf("as-of: got %d, want the 6th 1d bar", past.AsOf)
	}
	if len(pub.cached) != cachedBefore {
		t.Error("historic regime views must not overwrite the cache")
	}
}

func TestRegime_LatestViewServedFromCache(t *testing.T) {
	bars := newMemBars()
	pub := &recordingPublisher{}
	e := newTestEngine(bars, &memDivs{}, Options{Publisher: pub})
	ctx := context.Background()

	step := model.TF1h.Millis()
	for i := 0; i < 4; i++ {
		c := 50 + float64(i)
		bar := model.Bar{
			Metric: model.MetricBTC, Timeframe: model.TF1h, TS: int64(i+1) * step,
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
		}
		if _, err := e.Ingest(ctx, bar); err != nil {
			t.Fatalf("ingest bar %d: %v", i, err)
		}
	}

	snap := model.RegimeSummary{Metric: model.MetricBTC, RiskMode: model.RiskOn, AsOf: 999}
	pub.serve = &snap

	got, err := e.Regime(ctx, model.MetricBTC, 0)
	if err != nil {
		t.Fatalf("regime: %v", err)
	}
	if got.AsOf != 999 || got.RiskMode != model.RiskOn {
		t.Errorf("cached snapshot not served: %+v", got)
	}
	if pub.lookups != 1 {
		t.Errorf("cache lookups: got %d, want 1", pub.lookups)
	}
	if len(pub.cached) != 0 {
		t.Error("a cache hit must not rewrite the snapshot")
	}

	// Historic views always recompute from the stored series.
	past, err := e.Regime(ctx, model.MetricBTC, 2*step)
	if err != nil {
		t.Fatalf("as-of regime: %v", err)
	}
	if past.AsOf == 999 {
		t.Error("as-of view must bypass the cache")
	}
	if pub.lookups != 1 {
		t.Errorf("as-of view consulted the cache: %d lookups", pub.lookups)
	}

	// Ingest invalidates; the next latest read recomputes and re-caches.
	c := 54.0
	bar := model.Bar{
		Metric: model.MetricBTC, Timeframe: model.TF1h, TS: 5 * step,
		Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
	}
	if _, err := e.Ingest(ctx, bar); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	fresh, err := e.Regime(ctx, model.MetricBTC, 0)
	if err != nil {
		t.Fatalf("regime after invalidation: %v", err)
	}
	if fresh.AsOf != 5*step {
		t.Errorf("post-invalidation as_of: got %d, want %d", fresh.AsOf, 5*step)
	}
	if len(pub.cached) != 1 {
		t.Errorf("recomputed snapshot not cached: %d writes", len(pub.cached))
	}
}

func TestMarketRegime_ScoresStoredDivergences(t *testing.T) {
	divs := &memDivs{}
	e := newTestEngine(newMemBars(), divs, Options{})
	ctx := context.Background()

	divs.InsertDivergence(ctx, model.Divergence{
		Metric: model.MetricTOTAL3, Timeframe: model.TF1h,
		Indicator: model.IndRSI, Side: model.SideBullish,
		Implication: model.BullishAlts,
		PivotL:      &model.Pivot{TS: 0, Value: 1},
		PivotR:      &model.Pivot{TS: hourMs, Value: 2},
		Status:      model.StatusConfirmed, Grade: model.GradeHard,
	})

	mr, err := e.MarketRegime(ctx, model.TF1h)
	if err != nil {
		t.Fatalf("market regime: %v", err)
	}
	// No bars → all arrows flat; the hard bullish signal contributes 2.
	if mr.Score != 2 {
		t.Errorf("score: got %f, want 2", mr.Score)
	}
	if mr.Label != "Risk-ON" {
		t.Errorf("label: got %q", mr.Label)
	}
}

func TestImplication_TableReads(t *testing.T) {
	e := newTestEngine(newMemBars(), &memDivs{}, Options{})
	if got := e.Implication(model.MetricUSDTD, model.DirUp); got != model.BearishAlts {
		t.Errorf("USDT.D up: got %s, want bearish_alts", got)
	}
	if got := e.Implication(model.MetricTOTAL3, model.DirUp); got != model.BullishAlts {
		t.Errorf("TOTAL3 up: got %s, want bullish_alts", got)
	}
}
