package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siembridge/internal/aggregate"
	"siembridge/internal/cache"
	"siembridge/internal/config"
	"siembridge/internal/metrics"
	"siembridge/internal/scheduler"
	"siembridge/internal/server"
	"siembridge/internal/upstream"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("initialise cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	manager := upstream.NewManager(upstream.ManagerConfig{
		Host:     cfg.Wazuh.Host,
		Username: cfg.Wazuh.Username,
		Password: cfg.Wazuh.Password,
		Timeout:  time.Duration(cfg.Wazuh.TimeoutSeconds) * time.Second,
	})
	indexer := upstream.NewIndexer(upstream.IndexerConfig{
		Host:     cfg.Indexer.Host,
		Username: cfg.Indexer.Username,
		Password: cfg.Indexer.Password,
		Timeout:  time.Duration(cfg.Indexer.TimeoutSeconds) * time.Second,
	})

	aggregator := aggregate.New(manager, indexer, cfg.Indexer.AlertsIndex, cfg.Indexer.VulnIndex, cfg.FanoutLimit, logger)

	jobs := []scheduler.Job{
		{
			Name:     "agents-summary",
			CacheKey: "agents-summary",
			Interval: cfg.RefreshInterval(),
			TTL:      cfg.CacheTTL(),
			Timeout:  cfg.RunTimeout(),
			Build:    func(ctx context.Context) (any, error) { return aggregator.AgentSummaries(ctx) },
		},
		{
			Name:     "dashboard-metrics",
			CacheKey: "dashboard-metrics",
			Interval: cfg.RefreshInterval(),
			TTL:      cfg.CacheTTL(),
			Timeout:  cfg.RunTimeout(),
			Build:    func(ctx context.Context) (any, error) { return aggregator.DashboardMetrics(ctx) },
		},
		{
			Name:     "alerts",
			CacheKey: "alerts",
			Interval: cfg.RefreshInterval(),
			TTL:      cfg.CacheTTL(),
			Timeout:  cfg.RunTimeout(),
			Build:    func(ctx context.Context) (any, error) { return aggregator.AlertFeed(ctx) },
		},
	}

	recorder := metrics.NewRecorder()
	sched := scheduler.New(store, jobs, logger, recorder)
	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := server.New(addr, store, jobs, aggregator, recorder, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("siembridge listening", "addr", addr, "refresh_seconds", cfg.RefreshSeconds, "ttl_seconds", cfg.Cache.TTLSeconds)
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore picks the shared Valkey store when an address is configured and
// falls back to the in-process store for single-instance runs.
func openStore(cfg config.Config, logger *slog.Logger) (cache.Store, error) {
	if cfg.Cache.ValkeyAddress == "" {
		logger.Info("using in-process cache store")
		return cache.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := cache.NewValkeyStore(ctx, cfg.Cache.ValkeyAddress, cfg.Cache.ValkeyPassword, cfg.Cache.ValkeyDB)
	if err != nil {
		return nil, err
	}
	logger.Info("using valkey cache store", "address", cfg.Cache.ValkeyAddress)
	return store, nil
}
