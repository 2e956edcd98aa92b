package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/franchisepos/inventory/internal/app"
	"github.com/franchisepos/inventory/internal/inventory"
	jobmetrics "github.com/franchisepos/inventory/internal/jobs"
	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/observability"
	"github.com/franchisepos/inventory/internal/platform/cache"
	"github.com/franchisepos/inventory/internal/platform/db"
	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/shared"
	"github.com/franchisepos/inventory/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	registry := prometheus.NewRegistry()
	jobMetrics := jobmetrics.NewMetrics(registry)
	domainMetrics := observability.NewMetrics()

	catalog := masterdata.NewService(masterdata.NewRepository(pool), cache.NewVersioned(redisClient, "catalog", cfg.CacheTTL), nil, nil, logger)
	ledger := inventory.NewService(inventory.NewRepository(pool), catalog, inventory.ServiceConfig{
		Publisher: publisher,
		Metrics:   domainMetrics,
		Location:  cfg.ReportLocation(),
		Logger:    logger,
	})

	seedJob := jobs.NewSeedDailyJob(jobs.SeedDailyConfig{
		Seeder:      ledger,
		Locations:   catalog,
		Locker:      redislock.New(redisClient),
		Concurrency: cfg.SeedConcurrency,
		Location:    cfg.ReportLocation(),
		Logger:      logger,
		Metrics:     jobMetrics,
	})
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	seedTask, err := jobs.NewSeedDailyTask(jobs.SeedDailyPayload{})
	if err != nil {
		logger.Error("build seed task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.DefaultKeyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.ReportLocation(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventorySeedDaily, Handler: seedJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SeedCron, Task: seedTask},
			{Spec: cfg.CleanupCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{registry, domainMetrics.Gatherer()}, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.String("seed_cron", cfg.SeedCron), slog.Int("seed_concurrency", cfg.SeedConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
