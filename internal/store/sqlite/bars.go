package sqlite

import (
	"context"
	"database/sql"

	"altregime/internal/model"
)

// UpsertBar writes a bar by its (metric, timeframe, ts) key, replacing any
// existing row. The replaced flag tells the caller an out-of-order
// re-delivery or corrected bar just rewrote history.
func (s *Store) UpsertBar(ctx context.Context, bar model.Bar) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin", err)
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM bars WHERE metric = ? AND timeframe = ? AND ts = ?`,
		bar.Metric, bar.Timeframe, bar.TS,
	).Scan(&one)
	replaced := err == nil
	if err != nil && err != sql.ErrNoRows {
		tx.Rollback()
		return false, storageErr("bar lookup", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO bars (metric, timeframe, ts, o, h, l, c, v)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, bar.Metric, bar.Timeframe, bar.TS, bar.Open, bar.High, bar.Low, bar.Close, nullFloat(bar.Volume))
	if err != nil {
		tx.Rollback()
		return false, storageErr("upsert bar", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit", err)
	}
	return replaced, nil
}

// GetSeries returns up to limit most-recent bars for the key, ordered by
// ts ascending. limit <= 0 returns the whole series.
func (s *Store) GetSeries(ctx context.Context, metric model.Metric, tf model.Timeframe, limit int) ([]model.Bar, error) {
	q := `SELECT ts, o, h, l, c, v FROM bars WHERE metric = ? AND timeframe = ? ORDER BY ts DESC`
	args := []any{metric, tf}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query bars", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Metric: metric, Timeframe: tf}
		var v sql.NullFloat64
		if err := rows.Scan(&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &v); err != nil {
			return nil, storageErr("scan bar", err)
		}
		if v.Valid {
			vol := v.Float64
			b.Volume = &vol
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate bars", err)
	}

	// Newest-first query for the LIMIT, oldest-first for the callers.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
