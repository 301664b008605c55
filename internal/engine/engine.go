// Package engine is the ingestion pipeline: it validates incoming bars,
// owns the write path into the bar store, and drives divergence
// recomputation for the affected (metric, timeframe) key. Writes for one
// key are serialized; different keys proceed in parallel.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"altregime/config"
	"altregime/internal/divergence"
	"altregime/internal/logger"
	"altregime/internal/metrics"
	"altregime/internal/model"
)

// Notifier receives divergences worth alerting on (hard confirmations).
// Implementations must not block the ingest path.
type Notifier interface {
	NotifyDivergence(ctx context.Context, d model.Divergence)
}

// Result reports what an accepted ingest did.
type Result struct {
	Accepted bool
	Replaced bool // an existing bar with the same key was rewritten
}

// Options are the optional collaborators. Nil fields disable the feature.
type Options struct {
	Publisher model.SignalPublisher
	Notifier  Notifier
	Forecast  model.ForecastModel
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// LookbackBars bounds the series length loaded per recompute.
	LookbackBars int
}

// Engine wires the stores, the detector and the downstream sinks.
type Engine struct {
	bars     model.BarStore
	divs     model.DivergenceStore
	det      *divergence.Detector
	settings config.Settings

	pub      model.SignalPublisher
	notifier Notifier
	forecast model.ForecastModel
	mets     *metrics.Metrics
	log      *slog.Logger
	lookback int

	mu    sync.Mutex
	locks map[string]*sync.Mutex     // per (metric, timeframe) key
	ind   map[string]*indicatorState // per-key incremental indicator series
}

// New creates an Engine over the given stores.
func New(bars model.BarStore, divs model.DivergenceStore, settings config.Settings, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lookback := opts.LookbackBars
	if lookback <= 0 {
		lookback = 320
	}
	return &Engine{
		bars:     bars,
		divs:     divs,
		det:      divergence.New(settings),
		settings: settings,
		pub:      opts.Publisher,
		notifier: opts.Notifier,
		forecast: opts.Forecast,
		mets:     opts.Metrics,
		log:      logger,
		lookback: lookback,
		locks:    make(map[string]*sync.Mutex),
		ind:      make(map[string]*indicatorState),
	}
}

// Ingest validates a bar, upserts it by (metric, timeframe, ts) and
// recomputes divergences for the key, all under the key's lock so readers
// never observe a bar write without its derived-state refresh.
//
// Unknown metrics or timeframes are a caller bug — the transport layer
// whitelists both — and panic. Validation failures return
// model.ErrInvalidBar with nothing written.
func (e *Engine) Ingest(ctx context.Context, bar model.Bar) (Result, error) {
	start := time.Now()

	if !model.ValidMetric(bar.Metric) {
		panic("engine: unknown metric " + string(bar.Metric))
	}
	if !model.ValidTimeframe(bar.Timeframe) {
		panic("engine: unknown timeframe " + string(bar.Timeframe))
	}
	if !bar.ValidOHLC() {
		e.countRejected("ohlc")
		return Result{}, fmt.Errorf("%w: ohlc invariant violated (o=%g h=%g l=%g c=%g)",
			model.ErrInvalidBar, bar.Open, bar.High, bar.Low, bar.Close)
	}
	if !bar.Aligned() {
		e.countRejected("grid")
		return Result{}, fmt.Errorf("%w: ts %d off the %s grid", model.ErrInvalidBar, bar.TS, bar.Timeframe)
	}

	unlock := e.lockKey(bar.Key())
	defer unlock()

	replaced, err := e.bars.UpsertBar(ctx, bar)
	if err != nil {
		return Result{}, err
	}
	if e.pub != nil {
		e.pub.InvalidateRegime(ctx, bar.Metric)
	}
	if e.mets != nil {
		e.mets.BarsIngested.Inc()
		if replaced {
			e.mets.BarsReplaced.Inc()
		}
	}

	if err := e.recompute(ctx, bar.Metric, bar.Timeframe); err != nil {
		return Result{Accepted: true, Replaced: replaced}, err
	}

	if e.mets != nil {
		e.mets.IngestDur.Observe(time.Since(start).Seconds())
	}
	args := []any{
		slog.String("metric", string(bar.Metric)),
		slog.String("timeframe", string(bar.Timeframe)),
		slog.Int64("ts", bar.TS),
		slog.Bool("replaced", replaced),
	}
	e.log.Debug("bar ingested", append(args, logger.LogWithTrace(ctx)...)...)
	return Result{Accepted: true, Replaced: replaced}, nil
}

// recompute refreshes divergence state for one key from the stored series:
// new candidates are inserted (idempotently), live ones are judged against
// the latest bar. Running it twice with no new data changes nothing.
// Indicator series come from the per-key incremental state, so the common
// case — one fresh bar on the tail — skips the full derivation.
func (e *Engine) recompute(ctx context.Context, metric model.Metric, tf model.Timeframe) error {
	start := time.Now()

	series, err := e.bars.GetSeries(ctx, metric, tf, e.lookback)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return nil
	}
	last := series[len(series)-1]

	derived := e.indicatorSeries(string(metric)+":"+string(tf), series)
	for _, cand := range e.det.DetectComputed(metric, tf, series, derived) {
		inserted, err := e.divs.InsertDivergence(ctx, cand)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		if e.mets != nil {
			e.mets.DivergencesDetected.WithLabelValues(string(cand.Indicator)).Inc()
		}
		e.publish(ctx, cand, "detected")
		e.log.Info("divergence detected",
			slog.String("metric", string(metric)),
			slog.String("timeframe", string(tf)),
			slog.String("indicator", string(cand.Indicator)),
			slog.String("side", string(cand.Side)),
			slog.Float64("score", cand.Score),
		)
	}

	actives, err := e.divs.ListDivergences(ctx, model.DivergenceFilter{
		Metric: metric, Timeframe: tf, Status: model.StatusActive,
	})
	if err != nil {
		return err
	}
	for _, d := range actives {
		switch e.det.Judge(d, last) {
		case divergence.DecisionConfirmSoft:
			if err := e.confirm(ctx, d, model.GradeSoft, last.TS); err != nil {
				return err
			}
		case divergence.DecisionConfirmHard:
			if err := e.confirm(ctx, d, model.GradeHard, last.TS); err != nil {
				return err
			}
		case divergence.DecisionInvalid:
			if err := e.divs.InvalidateDivergence(ctx, d.ID, last.TS); err != nil {
				return err
			}
			d.Status = model.StatusInvalid
			d.InvalidTS = last.TS
			if e.mets != nil {
				e.mets.DivergencesInvalidated.Inc()
			}
			e.publish(ctx, d, "invalidated")
		}
	}

	if e.mets != nil {
		e.mets.RecomputeDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Engine) confirm(ctx context.Context, d model.Divergence, grade model.ConfirmGrade, ts int64) error {
	if err := e.divs.ConfirmDivergence(ctx, d.ID, grade, ts); err != nil {
		return err
	}
	d.Status = model.StatusConfirmed
	d.Grade = grade
	d.ConfirmTS = ts
	if e.mets != nil {
		e.mets.DivergencesConfirmed.WithLabelValues(string(grade)).Inc()
	}
	e.publish(ctx, d, "confirmed")
	e.log.Info("divergence confirmed",
		slog.String("metric", string(d.Metric)),
		slog.String("timeframe", string(d.Timeframe)),
		slog.String("indicator", string(d.Indicator)),
		slog.String("grade", string(grade)),
	)
	if grade == model.GradeHard && e.notifier != nil {
		e.notifier.NotifyDivergence(ctx, d)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, d model.Divergence, event string) {
	if e.pub != nil {
		e.pub.PublishDivergence(ctx, d, event)
	}
}

func (e *Engine) countRejected(reason string) {
	if e.mets != nil {
		e.mets.BarsRejected.WithLabelValues(reason).Inc()
	}
}

// lockKey serializes work per (metric, timeframe). The returned func
// releases the lock.
func (e *Engine) lockKey(key string) func() {
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
