package sqlite

import (
	"context"
	"database/sql"

	"altregime/internal/model"
)

// InsertDivergence inserts a divergence unless its idempotency key already
// exists, so recomputation can rediscover the same pivot pair any number
// of times without duplicating rows.
func (s *Store) InsertDivergence(ctx context.Context, d model.Divergence) (bool, error) {
	var lts, rts sql.NullInt64
	var lval, rval sql.NullFloat64
	if d.PivotL != nil {
		lts = sql.NullInt64{Int64: d.PivotL.TS, Valid: true}
		lval = sql.NullFloat64{Float64: d.PivotL.Value, Valid: true}
	}
	if d.PivotR != nil {
		rts = sql.NullInt64{Int64: d.PivotR.TS, Valid: true}
		rval = sql.NullFloat64{Float64: d.PivotR.Value, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO divs
			(metric, timeframe, indicator, side, text, implication,
			 pivot_l_ts, pivot_l_val, pivot_r_ts, pivot_r_val,
			 detected_ts, status, score, uniq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Metric, d.Timeframe, d.Indicator, d.Side, d.Text, d.Implication,
		lts, lval, rts, rval, d.DetectedTS, d.Status, d.Score, d.UniqKey())
	if err != nil {
		return false, storageErr("insert divergence", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert divergence", err)
	}
	return n > 0, nil
}

// ListDivergences returns divergences matching the non-zero filter fields,
// newest detection first.
func (s *Store) ListDivergences(ctx context.Context, f model.DivergenceFilter) ([]model.Divergence, error) {
	q := `SELECT id, metric, timeframe, indicator, side, text, implication,
			pivot_l_ts, pivot_l_val, pivot_r_ts, pivot_r_val,
			detected_ts, status, confirm_ts, confirm_grade, invalid_ts, score
		FROM divs WHERE 1=1`
	var args []any
	if f.Metric != "" {
		q += ` AND metric = ?`
		args = append(args, f.Metric)
	}
	if f.Timeframe != "" {
		q += ` AND timeframe = ?`
		args = append(args, f.Timeframe)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY detected_ts DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query divergences", err)
	}
	defer rows.Close()

	var out []model.Divergence
	for rows.Next() {
		var d model.Divergence
		var lts, rts, confirmTS, invalidTS sql.NullInt64
		var lval, rval sql.NullFloat64
		var grade sql.NullString
		if err := rows.Scan(&d.ID, &d.Metric, &d.Timeframe, &d.Indicator, &d.Side,
			&d.Text, &d.Implication, &lts, &lval, &rts, &rval,
			&d.DetectedTS, &d.Status, &confirmTS, &grade, &invalidTS, &d.Score); err != nil {
			return nil, storageErr("scan divergence", err)
		}
		if lts.Valid {
			d.PivotL = &model.Pivot{TS: lts.Int64, Value: lval.Float64}
		}
		if rts.Valid {
			d.PivotR = &model.Pivot{TS: rts.Int64, Value: rval.Float64}
		}
		d.ConfirmTS = confirmTS.Int64
		d.InvalidTS = invalidTS.Int64
		if grade.Valid {
			d.Grade = model.ConfirmGrade(grade.String)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate divergences", err)
	}
	return out, nil
}

// ConfirmDivergence moves an active divergence to confirmed. The status
// guard keeps terminal states terminal: confirming an already-resolved
// divergence is a silent no-op.
func (s *Store) ConfirmDivergence(ctx context.Context, id int64, grade model.ConfirmGrade, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE divs SET status = ?, confirm_ts = ?, confirm_grade = ?
		WHERE id = ? AND status = ?
	`, model.StatusConfirmed, ts, grade, id, model.StatusActive)
	if err != nil {
		return storageErr("confirm divergence", err)
	}
	return nil
}

// InvalidateDivergence moves an active divergence to invalid, with the
// same status guard as ConfirmDivergence.
func (s *Store) InvalidateDivergence(ctx context.Context, id int64, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE divs SET status = ?, invalid_ts = ?
		WHERE id = ? AND status = ?
	`, model.StatusInvalid, ts, id, model.StatusActive)
	if err != nil {
		return storageErr("invalidate divergence", err)
	}
	return nil
}
