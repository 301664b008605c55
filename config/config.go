package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Ingest boundary
	WebhookAddr       string
	WebhookSecret     string // shared static feed secret; empty disables the check
	WebhookTOTPSecret string // optional rotating TOTP feed token

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Detector tunables file (YAML, versioned). Empty uses built-in defaults.
	SettingsPath string

	// Notifications
	TelegramToken    string
	TelegramChatID   int64
	NotifyWebhookURL string

	// Max bars fetched per (metric, timeframe) recomputation.
	LookbackBars int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		WebhookAddr:       getEnv("WEBHOOK_ADDR", ":8080"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		WebhookTOTPSecret: getEnv("WEBHOOK_TOTP_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		SettingsPath: getEnv("SETTINGS_PATH", ""),

		TelegramToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvInt64("TELEGRAM_CHAT_ID", 0),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),

		LookbackBars: int(getEnvInt64("LOOKBACK_BARS", 320)),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
