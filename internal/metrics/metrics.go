package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the divergence engine.
type Metrics struct {
	BarsIngested prometheus.Counter
	BarsReplaced prometheus.Counter
	BarsRejected *prometheus.CounterVec // labels: reason=ohlc|grid
	IngestDur    prometheus.Histogram

	RecomputeDur           prometheus.Histogram
	DivergencesDetected    *prometheus.CounterVec // labels: indicator
	DivergencesConfirmed   *prometheus.CounterVec // labels: grade
	DivergencesInvalidated prometheus.Counter

	RegimeQueries    prometheus.Counter
	RegimeCacheHits  prometheus.Counter
	WebhookPayloads  *prometheus.CounterVec // labels: outcome=accepted|rejected
	NotificationsOut *prometheus.CounterVec // labels: backend
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altregime_bars_ingested_total",
			Help: "Bars accepted into the store",
		}),
		BarsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altregime_bars_replaced_total",
			Help: "Accepted bars that rewrote an existing (metric, timeframe, ts) key",
		}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altregime_bars_rejected_total",
			Help: "Bars rejected by validation (by reason)",
		}, []string{"reason"}),
		IngestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "altregime_ingest_duration_seconds",
			Help:    "Full ingest latency: validate, write, recompute",
			Buckets: prometheus.DefBuckets,
		}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "altregime_recompute_duration_seconds",
			Help:    "Per-key divergence recompute latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		DivergencesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altregime_divergences_detected_total",
			Help: "New divergences inserted (by indicator)",
		}, []string{"indicator"}),
		DivergencesConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altregime_divergences_confirmed_total",
			Help: "Divergences confirmed (by grade)",
		}, []string{"grade"}),
		DivergencesInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altregime_divergences_invalidated_total",
			Help: "Divergences invalidated by price action",
		}),
		RegimeQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altregime_regime_queries_total",
			Help: "Regime summary computations",
		}),
		RegimeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altregime_regime_cache_hits_total",
			Help: "Regime queries served from the Redis cache",
		}),
		WebhookPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altregime_webhook_payloads_total",
			Help: "Webhook payloads received (by outcome)",
		}, []string{"outcome"}),
		NotificationsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "altregime_notifications_total",
			Help: "Alerts pushed to notification backends",
		}, []string{"backend"}),
	}

	prometheus.MustRegister(
		m.BarsIngested,
		m.BarsReplaced,
		m.BarsRejected,
		m.IngestDur,
		m.RecomputeDur,
		m.DivergencesDetected,
		m.DivergencesConfirmed,
		m.DivergencesInvalidated,
		m.RegimeQueries,
		m.RegimeCacheHits,
		m.WebhookPayloads,
		m.NotificationsOut,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastBarTime    time.Time `json:"last_bar_time"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(ok bool) {
	h.mu.Lock()
	h.RedisConnected = ok
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(ok bool) {
	h.mu.Lock()
	h.SQLiteOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// SQLite is the source of truth; Redis only degrades fan-out.
	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.RedisConnected {
		overallStatus = "degraded"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
