package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"streak_bot/internal/bot"
	"streak_bot/internal/config"
	"streak_bot/internal/fetcher"
	"streak_bot/internal/filter"
	"streak_bot/internal/metrics"
	"streak_bot/internal/pager"
	"streak_bot/internal/reconcile"
	"streak_bot/internal/scheduler"
	"streak_bot/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("open database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	extra, err := filter.Patterns(cfg.ExtraPatterns)
	if err != nil {
		log.Error("compile EXTRA_PATTERNS", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	f := fetcher.New(&http.Client{Timeout: cfg.FetchTimeout}, fetcher.Options{
		URLTemplate:       cfg.FeedURLTemplate,
		Location:          cfg.Location,
		RequestsPerSecond: cfg.FetchRPS,
	})
	p := pager.New(f, log)
	p.SetMaxPages(cfg.MaxPages)
	p.AddPredicates(extra...)
	p.SetObserver(m)

	rec := reconcile.New(store, p, log)
	rec.SetLocation(cfg.Location)
	rec.SetFetchTimeout(cfg.FetchTimeout)
	rec.SetRecorder(m)

	sched := scheduler.New(store, rec, log)
	sched.SetTickInterval(cfg.PollInterval)
	sched.SetBatchSize(cfg.BatchSize)
	sched.SetWorkers(cfg.Workers)
	sched.SetExpiryObserver(m)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsAddr, metrics.NewRouter(reg, store), log)
		})
	}

	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, store, rec, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			b.Run(ctx)
			return nil
		})
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, registration bot disabled")
	}

	log.Info("starting", "driver", cfg.DatabaseDriver, "timezone", cfg.Timezone, "poll_interval", cfg.PollInterval)

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", "error", err)
		os.Exit(1)
	}

	log.Info("stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DatabasePath)
	case "sqlite":
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
		return storage.NewSQLite(cfg.DatabasePath)
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.DatabaseDriver)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
