package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchisepos/inventory/internal/app"
	"github.com/franchisepos/inventory/internal/inventory"
	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/observability"
	"github.com/franchisepos/inventory/internal/platform/cache"
	"github.com/franchisepos/inventory/internal/platform/db"
	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/procurement"
	"github.com/franchisepos/inventory/internal/rbac"
	"github.com/franchisepos/inventory/internal/shared"
	"github.com/franchisepos/inventory/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	if !cfg.EventsEnabled() {
		logger.Info("kafka brokers not configured, events disabled")
	}

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(rbac.NewPGStore(dbpool))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	catalogCache := cache.NewVersioned(redisClient, "catalog", cfg.CacheTTL)
	catalogService := masterdata.NewService(masterdata.NewRepository(dbpool), catalogCache, rbacService, auditLogger, logger)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), catalogService, inventory.ServiceConfig{
		Access:    rbacService,
		Audit:     auditLogger,
		Publisher: publisher,
		Metrics:   metrics,
		Location:  cfg.ReportLocation(),
		Logger:    logger,
	})

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), catalogService, procurement.ServiceConfig{
		Access:    rbacService,
		Audit:     auditLogger,
		Keys:      idempotencyStore,
		Publisher: publisher,
		Metrics:   metrics,
		Location:  cfg.ReportLocation(),
		Logger:    logger,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Sessions:           sessions,
		RBACMiddleware:     rbacMiddleware,
		MasterDataHandler:  masterdata.NewHandler(logger, catalogService, rbacMiddleware),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
