package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete storage. The SQLite
// store satisfies both; tests use in-memory fakes.

// BarStore is the only storage surface the core requires for bars.
type BarStore interface {
	// UpsertBar writes a bar by its (metric, timeframe, ts) key, replacing
	// any existing bar with the same key. Returns true if a bar was
	// replaced.
	UpsertBar(ctx context.Context, bar Bar) (replaced bool, err error)

	// GetSeries returns up to limit bars for the key, ordered by ts
	// ascending (oldest first). limit <= 0 means no limit.
	GetSeries(ctx context.Context, metric Metric, tf Timeframe, limit int) ([]Bar, error)
}

// DivergenceStore owns divergence persistence. Lifecycle mutations go
// through status-guarded updates so terminal states stay terminal.
type DivergenceStore interface {
	// InsertDivergence inserts a divergence if its UniqKey is new.
	// Returns true if a row was inserted.
	InsertDivergence(ctx context.Context, d Divergence) (inserted bool, err error)

	// ListDivergences returns divergences matching the non-zero filter
	// fields, newest detection first.
	ListDivergences(ctx context.Context, f DivergenceFilter) ([]Divergence, error)

	// ConfirmDivergence moves an active divergence to confirmed. No-op if
	// the divergence is no longer active.
	ConfirmDivergence(ctx context.Context, id int64, grade ConfirmGrade, ts int64) error

	// InvalidateDivergence moves an active divergence to invalid. No-op if
	// the divergence is no longer active.
	InvalidateDivergence(ctx context.Context, id int64, ts int64) error
}

// DivergenceFilter selects divergences; zero-value fields match all.
type DivergenceFilter struct {
	Metric    Metric
	Timeframe Timeframe
	Status    DivStatus
}

// ForecastModel is the trained price-forecast collaborator, consumed as a
// black box. The engine neither trains nor validates it.
type ForecastModel interface {
	// Predict returns a price estimate for the metric at the given horizon
	// in bars.
	Predict(ctx context.Context, metric Metric, horizon int) (float64, error)
}

// SignalPublisher pushes divergence lifecycle events and regime snapshots
// to downstream consumers (PubSub, cache). Failures are logged, never
// propagated into the ingest path.
type SignalPublisher interface {
	PublishDivergence(ctx context.Context, d Divergence, event string)
	CacheRegime(ctx context.Context, summary RegimeSummary)
	InvalidateRegime(ctx context.Context, metric Metric)

	// CachedRegime returns the cached snapshot for a metric, or nil when
	// the cache is cold or unreachable. Callers recompute on nil.
	CachedRegime(ctx context.Context, metric Metric) *RegimeSummary
}
