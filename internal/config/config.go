// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Zone database for images without one.
)

// Config holds the application configuration.
type Config struct {
	// TelegramBotToken enables the registration bot when set.
	TelegramBotToken string
	DatabaseDriver   string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	FeedURLTemplate string
	CalendarURL     string
	Timezone        string
	Location        *time.Location

	BatchSize    int
	Workers      int
	MaxPages     int
	FetchTimeout time.Duration
	FetchRPS     float64
	PollInterval time.Duration

	// MetricsAddr is the ops listener address. An explicitly empty
	// METRICS_ADDR disables it.
	MetricsAddr   string
	ExtraPatterns []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseDriver:   envOrDefault("DATABASE_DRIVER", "sqlite"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/calendar.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		FeedURLTemplate:  envOrDefault("FEED_URL_TEMPLATE", "https://github.com/%s.atom?page=%d"),
		CalendarURL:      strings.TrimRight(envOrDefault("CALENDAR_URL", "https://calendaraboutnothing.com"), "/"),
		Timezone:         envOrDefault("TIMEZONE", "UTC"),
		MetricsAddr:      ":9090",
	}

	if cfg.DatabaseDriver != "sqlite" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(addr)
	}

	if cfg.AllowedUsers, err = parseUserIDs(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	cfg.ExtraPatterns = splitList(os.Getenv("EXTRA_PATTERNS"))

	for _, v := range []struct {
		key string
		dst *int
		def int
	}{
		{"BATCH_SIZE", &cfg.BatchSize, 15},
		{"WORKERS", &cfg.Workers, 4},
		{"MAX_PAGES", &cfg.MaxPages, 50},
	} {
		if *v.dst, err = positiveInt(v.key, v.def); err != nil {
			return nil, err
		}
	}

	for _, v := range []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"FETCH_TIMEOUT", &cfg.FetchTimeout, 30 * time.Second},
		{"POLL_INTERVAL", &cfg.PollInterval, time.Hour},
	} {
		if *v.dst, err = positiveDuration(v.key, v.def); err != nil {
			return nil, err
		}
	}

	cfg.FetchRPS = 1
	if raw := os.Getenv("FETCH_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("invalid FETCH_RPS %q", raw)
		}
		cfg.FetchRPS = rps
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || slices.Contains(c.AllowedUsers, userID)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func positiveDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range splitList(raw) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
