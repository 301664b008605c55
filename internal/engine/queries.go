package engine

import (
	"context"

	"altregime/internal/implication"
	"altregime/internal/model"
	"altregime/internal/regime"
)

// forecastHorizonBars is the horizon passed to the opaque forecast model.
const forecastHorizonBars = 1

// Divergences returns stored divergences matching the filter, newest
// first. An empty result is the normal "nothing qualifying yet" state.
func (e *Engine) Divergences(ctx context.Context, f model.DivergenceFilter) ([]model.Divergence, error) {
	return e.divs.ListDivergences(ctx, f)
}

// Regime returns the per-metric multi-timeframe regime summary. asOf > 0
// restricts the view to bars at or before that timestamp; zero means
// latest. Latest reads are served from the publisher's cache when it holds
// a snapshot — every ingest for the metric invalidates it, so a hit is
// never stale — and recomputed from the stored series otherwise.
func (e *Engine) Regime(ctx context.Context, metric model.Metric, asOf int64) (model.RegimeSummary, error) {
	if !model.ValidMetric(metric) {
		panic("engine: unknown metric " + string(metric))
	}
	if e.mets != nil {
		e.mets.RegimeQueries.Inc()
	}

	if asOf == 0 && e.pub != nil {
		if cached := e.pub.CachedRegime(ctx, metric); cached != nil {
			if e.mets != nil {
				e.mets.RegimeCacheHits.Inc()
			}
			return *cached, nil
		}
	}

	dirs := make(map[model.Timeframe]model.Direction, len(model.Timeframes))
	var newest int64
	for _, tf := range model.Timeframes {
		series, err := e.bars.GetSeries(ctx, metric, tf, e.lookback)
		if err != nil {
			return model.RegimeSummary{}, err
		}
		series = truncateAfter(series, asOf)
		dirs[tf] = regime.TrendDirection(closes(series), e.settings.TrendWindow[tf])
		if n := len(series); n > 0 && series[n-1].TS > newest {
			newest = series[n-1].TS
		}
	}

	summary := regime.Aggregate(metric, dirs, newest)
	if e.forecast != nil {
		if est, err := e.forecast.Predict(ctx, metric, forecastHorizonBars); err == nil {
			summary.Forecast = &est
		}
	}
	if asOf == 0 && e.pub != nil {
		e.pub.CacheRegime(ctx, summary)
	}
	return summary, nil
}

// truncateAfter drops bars newer than asOf; asOf <= 0 keeps everything.
// Series arrive ts-ascending.
func truncateAfter(series []model.Bar, asOf int64) []model.Bar {
	if asOf <= 0 {
		return series
	}
	for i := len(series); i > 0; i-- {
		if series[i-1].TS <= asOf {
			return series[:i]
		}
	}
	return nil
}

// MarketRegime computes the cross-metric risk score for one timeframe:
// per-metric trend arrows plus the live (non-invalid) divergences on that
// timeframe, pair signals included.
func (e *Engine) MarketRegime(ctx context.Context, tf model.Timeframe) (model.MarketRegime, error) {
	if !model.ValidTimeframe(tf) {
		panic("engine: unknown timeframe " + string(tf))
	}

	arrows := make(map[model.Metric]model.Direction, len(model.Metrics))
	seriesByMetric := make(map[model.Metric][]model.Bar, len(model.Metrics))
	var asOf int64
	for _, metric := range model.Metrics {
		series, err := e.bars.GetSeries(ctx, metric, tf, e.lookback)
		if err != nil {
			return model.MarketRegime{}, err
		}
		seriesByMetric[metric] = series
		arrows[metric] = regime.TrendDirection(closes(series), e.settings.TrendWindow[tf])
		if n := len(series); n > 0 && series[n-1].TS > asOf {
			asOf = series[n-1].TS
		}
	}

	stored, err := e.divs.ListDivergences(ctx, model.DivergenceFilter{Timeframe: tf})
	if err != nil {
		return model.MarketRegime{}, err
	}
	live := stored[:0:0]
	for _, d := range stored {
		if d.Status != model.StatusInvalid {
			live = append(live, d)
		}
	}
	live = append(live, e.det.DetectPairs(tf, seriesByMetric)...)

	return regime.Score(tf, asOf, arrows, live), nil
}

// PairDivergences recomputes the cross-metric snapshot signals for one
// timeframe. They carry no lifecycle and are never persisted.
func (e *Engine) PairDivergences(ctx context.Context, tf model.Timeframe) ([]model.Divergence, error) {
	if !model.ValidTimeframe(tf) {
		panic("engine: unknown timeframe " + string(tf))
	}
	seriesByMetric := make(map[model.Metric][]model.Bar, len(model.Metrics))
	for _, metric := range model.Metrics {
		series, err := e.bars.GetSeries(ctx, metric, tf, e.lookback)
		if err != nil {
			return nil, err
		}
		seriesByMetric[metric] = series
	}
	return e.det.DetectPairs(tf, seriesByMetric), nil
}

// Implication returns the polarity-table read for a metric moving in a
// direction. Pure; panics on inputs outside the closed sets.
func (e *Engine) Implication(metric model.Metric, dir model.Direction) model.Implication {
	return implication.ForDirection(metric, dir)
}

func closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
