package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	// OptimisticDelay is how long a monitoring toggle waits before flipping local state.
	OptimisticDelay time.Duration
	// LockTTL bounds how long a toggle protects its target state from pushed updates.
	LockTTL time.Duration

	CheckSchedule    string
	NotificationURLs []string
	// ManualCheckRate is the number of manual checks allowed per monitor per minute. Zero disables the limit.
	ManualCheckRate float64
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:   getEnv("UW_ENV", "development"),
		HTTPPort:      getEnv("UW_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("UW_DB_PATH", filepath.Join("data", "uptime.db")),
		LogDir:        getEnv("UW_LOG_DIR", filepath.Join("data", "logs")),
		CheckSchedule: getEnv("UW_CHECK_SCHEDULE", "@every 30s"),
	}

	var err error
	if cfg.Debug, err = getBool("UW_DEBUG", cfg.Environment == "development"); err != nil {
		return Config{}, err
	}
	if cfg.OptimisticDelay, err = getDuration("UW_OPTIMISTIC_DELAY", 50*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = getDuration("UW_LOCK_TTL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ManualCheckRate, err = getFloat("UW_MANUAL_CHECK_RATE", 6); err != nil {
		return Config{}, err
	}
	if cfg.OptimisticDelay < 0 || cfg.LockTTL <= 0 {
		return Config{}, fmt.Errorf("UW_OPTIMISTIC_DELAY must be >= 0 and UW_LOCK_TTL > 0")
	}

	for _, u := range strings.Split(os.Getenv("UW_NOTIFY_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.NotificationURLs = append(cfg.NotificationURLs, u)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}
