// Package webhook is the ingest boundary: it receives bar payloads from
// the upstream feed, authenticates them, normalizes feed quirks
// (timeframe aliases, second-resolution timestamps) and hands clean bars
// to the engine. Schema validation lives here; the OHLC invariant lives in
// the core.
package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pquerna/otp/totp"

	"altregime/internal/engine"
	"altregime/internal/logger"
	"altregime/internal/metrics"
	"altregime/internal/model"
)

// maxPayloadBytes bounds request bodies; bar payloads are tiny and
// anything bigger is a scanner or a bug.
const maxPayloadBytes = 10_000

// tsMillisFloor: timestamps below this are taken as seconds and scaled.
const tsMillisFloor = 1_000_000_000_000

// tfAliases maps the feed's timeframe spellings onto the closed set.
var tfAliases = map[string]model.Timeframe{
	"15": model.TF15m, "15m": model.TF15m,
	"60": model.TF1h, "1h": model.TF1h,
	"240": model.TF4h, "4h": model.TF4h,
	"D": model.TF1d, "1D": model.TF1d, "1d": model.TF1d, "1440": model.TF1d,
}

// NormalizeTimeframe resolves a feed timeframe spelling; ok is false for
// anything outside the closed set.
func NormalizeTimeframe(raw string) (model.Timeframe, bool) {
	tf, ok := tfAliases[strings.TrimSpace(raw)]
	return tf, ok
}

// payload is the wire shape of one incoming bar.
type payload struct {
	Secret    string   `json:"secret"`
	Token     string   `json:"token"` // rotating TOTP code, alternative to secret
	Metric    string   `json:"metric" validate:"required"`
	Timeframe string   `json:"timeframe" validate:"required"`
	TS        int64    `json:"ts" validate:"required,gt=0"` // unix ms or s
	O         float64  `json:"o"`
	H         float64  `json:"h"`
	L         float64  `json:"l"`
	C         float64  `json:"c"`
	V         *float64 `json:"v" validate:"omitempty,gte=0"`
}

// Server handles the ingest webhook.
type Server struct {
	engine     *engine.Engine
	secret     string // static shared secret; empty disables the check
	totpSecret string // TOTP seed for rotating tokens; empty disables
	validate   *validator.Validate
	mets       *metrics.Metrics
	health     *metrics.HealthStatus
	log        *slog.Logger
}

// New creates a webhook server over the engine. Either secret may be
// empty; with both empty the endpoint is open (deploy behind a private
// network only).
func New(eng *engine.Engine, secret, totpSecret string, mets *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:     eng,
		secret:     secret,
		totpSecret: totpSecret,
		validate:   validator.New(),
		mets:       mets,
		health:     health,
		log:        log,
	}
}

// ServeHTTP handles POST /webhook.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var p payload
	body := http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		s.reject(w, http.StatusBadRequest, "invalid json")
		return
	}

	if !s.authorized(p) {
		s.reject(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	if err := s.validate.Struct(p); err != nil {
		s.reject(w, http.StatusUnprocessableEntity, "invalid payload: "+err.Error())
		return
	}
	if !model.ValidMetric(model.Metric(p.Metric)) {
		s.reject(w, http.StatusUnprocessableEntity, "metric not allowed")
		return
	}
	tf, ok := NormalizeTimeframe(p.Timeframe)
	if !ok {
		s.reject(w, http.StatusUnprocessableEntity, "unsupported timeframe")
		return
	}

	ts := p.TS
	if ts < tsMillisFloor {
		ts *= 1000
	}

	bar := model.Bar{
		Metric:    model.Metric(p.Metric),
		Timeframe: tf,
		TS:        ts,
		Open:      p.O,
		High:      p.H,
		Low:       p.L,
		Close:     p.C,
		Volume:    p.V,
	}

	traceID := logger.GenerateTraceID(bar.Key(), time.Now())
	ctx := logger.WithTraceID(r.Context(), traceID)

	res, err := s.engine.Ingest(ctx, bar)
	switch {
	case errors.Is(err, model.ErrInvalidBar):
		s.reject(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.log.Error("ingest failed",
			slog.String("metric", p.Metric),
			slog.String("timeframe", string(tf)),
			slog.String("trace_id", traceID),
			slog.Any("error", err),
		)
		s.reject(w, http.StatusInternalServerError, "storage error")
		return
	}

	if s.mets != nil {
		s.mets.WebhookPayloads.WithLabelValues("accepted").Inc()
	}
	if s.health != nil {
		s.health.SetLastBarTime(time.Now())
	}
	s.log.Info("ingest ok",
		slog.String("metric", p.Metric),
		slog.String("timeframe", string(tf)),
		slog.Int64("ts", ts),
		slog.Bool("replaced", res.Replaced),
		slog.String("trace_id", traceID),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "replaced": res.Replaced})
}

// authorized checks the static secret (constant-time) or, when
// configured, a rotating TOTP token. No configured credential means open.
func (s *Server) authorized(p payload) bool {
	if s.secret == "" && s.totpSecret == "" {
		return true
	}
	if s.secret != "" && hmac.Equal([]byte(strings.TrimSpace(p.Secret)), []byte(s.secret)) {
		return true
	}
	if s.totpSecret != "" && totp.Validate(strings.TrimSpace(p.Token), s.totpSecret) {
		return true
	}
	return false
}

func (s *Server) reject(w http.ResponseWriter, code int, msg string) {
	if s.mets != nil {
		s.mets.WebhookPayloads.WithLabelValues("rejected").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
