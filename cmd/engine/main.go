// cmd/engine runs the full signal service: the bar-ingest webhook, the
// divergence/regime query API, the WebSocket stream gateway and the
// Prometheus metrics endpoint, over SQLite storage and optional Redis
// fan-out.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"altregime/config"
	"altregime/internal/api"
	"altregime/internal/engine"
	"altregime/internal/gateway"
	"altregime/internal/logger"
	"altregime/internal/metrics"
	"altregime/internal/notification"
	redisstore "altregime/internal/store/redis"
	sqlitestore "altregime/internal/store/sqlite"
	"altregime/internal/webhook"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("[engine] loaded .env")
	}

	cfg := config.Load()
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("[engine] settings: %v", err)
	}

	logg := logger.Init("engine", slog.LevelInfo)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	start := time.Now()

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	// ---- Redis (optional: fan-out and caching degrade without it) ----
	var pub *redisstore.Publisher
	pub, err = redisstore.NewPublisher(ctx, redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		pub = nil
		health.SetRedisConnected(false)
	} else {
		defer pub.Close()
		health.SetRedisConnected(true)
	}

	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	var backends []notification.Backend
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notification.NewTelegramBackend(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("[engine] WARNING: telegram init failed: %v", err)
		} else {
			backends = append(backends, tg)
		}
	}
	if cfg.NotifyWebhookURL != "" {
		backends = append(backends, notification.NewWebhookBackend(cfg.NotifyWebhookURL))
	}
	if len(backends) == 0 {
		backends = append(backends, notification.LogBackend{})
	}
	notifier := notification.NewDispatcher(prom, backends...)

	// ---- Engine ----
	opts := engine.Options{
		Notifier:     notifier,
		Metrics:      prom,
		Logger:       logg,
		LookbackBars: cfg.LookbackBars,
	}
	if pub != nil {
		opts.Publisher = pub
	}
	eng := engine.New(store, store, settings, opts)

	// ---- HTTP surface: query API + ingest webhook + WS gateway ----
	mux := api.NewRouter(eng, logg)
	mux.Handle("/webhook", webhook.New(eng, cfg.WebhookSecret, cfg.WebhookTOTPSecret, prom, health, logg))

	if pub != nil {
		hub := gateway.NewHub(pub.Client())
		go hub.Run(ctx)
		go hub.StartStatusBroadcast(ctx, start, 10*time.Second)
		gateway.RegisterRoutes(mux, hub, start)
	}

	srv := &http.Server{
		Addr:         cfg.WebhookAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Printf("[engine] listening on %s", cfg.WebhookAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[engine] http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[engine] shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[engine] http shutdown: %v", err)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Println("[engine] bye")
}
