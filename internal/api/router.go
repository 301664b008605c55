// Package api exposes the read-only HTTP query surface: stored
// divergences, per-metric regime summaries and the cross-metric risk
// score. Writes only ever arrive through the webhook.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"altregime/internal/engine"
	"altregime/internal/model"
)

type handler struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewRouter mounts the query endpoints on a fresh mux.
func NewRouter(eng *engine.Engine, log *slog.Logger) *http.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{engine: eng, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", h.health)
	mux.HandleFunc("/api/v1/divergences", h.divergences)
	mux.HandleFunc("/api/v1/regime", h.regime)
	mux.HandleFunc("/api/v1/market", h.market)
	mux.HandleFunc("/api/v1/pairs", h.pairs)
	mux.HandleFunc("/api/v1/implication", h.implication)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/divergences?metric=BTC&timeframe=1h&status=active
// All three filters are optional; omitted fields match everything.
func (h *handler) divergences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var f model.DivergenceFilter
	q := r.URL.Query()
	if raw := q.Get("metric"); raw != "" {
		m := model.Metric(raw)
		if !model.ValidMetric(m) {
			writeError(w, http.StatusBadRequest, "unknown metric")
			return
		}
		f.Metric = m
	}
	if raw := q.Get("timeframe"); raw != "" {
		tf := model.Timeframe(raw)
		if !model.ValidTimeframe(tf) {
			writeError(w, http.StatusBadRequest, "unknown timeframe")
			return
		}
		f.Timeframe = tf
	}
	if raw := q.Get("status"); raw != "" {
		switch s := model.DivStatus(raw); s {
		case model.StatusActive, model.StatusConfirmed, model.StatusInvalid:
			f.Status = s
		default:
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	divs, err := h.engine.Divergences(r.Context(), f)
	if err != nil {
		h.serverError(w, "list divergences", err)
		return
	}
	if divs == nil {
		divs = []model.Divergence{}
	}
	writeJSON(w, http.StatusOK, divs)
}

// GET /api/v1/regime?metric=TOTAL3&as_of=1700000000000
// as_of (unix ms) is optional; omitted means latest.
func (h *handler) regime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	m := model.Metric(r.URL.Query().Get("metric"))
	if !model.ValidMetric(m) {
		writeError(w, http.StatusBadRequest, "unknown metric")
		return
	}
	var asOf int64
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid as_of")
			return
		}
		asOf = parsed
	}

	summary, err := h.engine.Regime(r.Context(), m, asOf)
	if err != nil {
		h.serverError(w, "regime", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /api/v1/market?timeframe=4h
func (h *handler) market(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tf := model.Timeframe(r.URL.Query().Get("timeframe"))
	if !model.ValidTimeframe(tf) {
		writeError(w, http.StatusBadRequest, "unknown timeframe")
		return
	}

	regime, err := h.engine.MarketRegime(r.Context(), tf)
	if err != nil {
		h.serverError(w, "market regime", err)
		return
	}
	writeJSON(w, http.StatusOK, regime)
}

// GET /api/v1/pairs?timeframe=1h
func (h *handler) pairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tf := model.Timeframe(r.URL.Query().Get("timeframe"))
	if !model.ValidTimeframe(tf) {
		writeError(w, http.StatusBadRequest, "unknown timeframe")
		return
	}

	divs, err := h.engine.PairDivergences(r.Context(), tf)
	if err != nil {
		h.serverError(w, "pair divergences", err)
		return
	}
	if divs == nil {
		divs = []model.Divergence{}
	}
	writeJSON(w, http.StatusOK, divs)
}

// GET /api/v1/implication?metric=USDT.D&direction=up
func (h *handler) implication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	m := model.Metric(q.Get("metric"))
	if !model.ValidMetric(m) {
		writeError(w, http.StatusBadRequest, "unknown metric")
		return
	}
	dir := model.Direction(q.Get("direction"))
	switch dir {
	case model.DirUp, model.DirDown, model.DirFlat:
	default:
		writeError(w, http.StatusBadRequest, "unknown direction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metric":      m,
		"direction":   dir,
		"implication": h.engine.Implication(m, dir),
	})
}

func (h *handler) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error("query failed", "op", op, "error", err)
	if errors.Is(err, model.ErrStorageUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
