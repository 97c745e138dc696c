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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-mfg/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
	"github.com/odyssey-erp/odyssey-mfg/internal/observability"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(".env")
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Report caching is an API concern; the worker never reads reports.
	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, nil, metrics, logger)
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	stockAlerts := jobs.NewStockAlertsJob(services.Inventory, logger, jobMetrics)
	bomRefresh := jobs.NewBOMCostRefreshJob(services.Manufacturing, logger, jobMetrics)
	overdue := jobs.NewOverdueInvoicesJob(services.Sales, logger, jobMetrics)
	cleanup := jobs.NewIdempotencyCleanupJob(services.Idempotency, cfg.IdempotencyRetention, logger, jobMetrics)

	schedule := jobs.Schedule{
		StockAlerts:        cfg.AlertScanCron,
		BOMCostRefresh:     cfg.BOMRefreshCron,
		OverdueInvoices:    cfg.OverdueScanCron,
		IdempotencyCleanup: cfg.IdempotencyCleanupCron,
	}
	cron, err := schedule.Registrations()
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockAlerts, Handler: stockAlerts.Handle},
			{Type: jobs.TaskBOMCostRefresh, Handler: bomRefresh.Handle},
			{Type: jobs.TaskOverdueInvoices, Handler: overdue.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
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
	}

	logger.Info("starting worker", slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
