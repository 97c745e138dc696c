package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-mfg/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-mfg/internal/app"
	"github.com/odyssey-erp/odyssey-mfg/internal/dashboard"
	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/ledger"
	"github.com/odyssey-erp/odyssey-mfg/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-mfg/internal/observability"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/procurement"
	"github.com/odyssey-erp/odyssey-mfg/internal/sales"
	"github.com/odyssey-erp/odyssey-mfg/internal/users"
	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig(".env")
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := serve(cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		os.Exit(cli.NewMigrator(cfg.PGDSN).Run(args, os.Stdout, os.Stderr))
	case "jobs":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		code := jobsCLI.Run(context.Background(), args, os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: odyssey [serve | migrate ... | jobs ...]\n", cmd)
		os.Exit(2)
	}
}

func serve(cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient := openRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, redisClient, metrics, logger)
	if services.ReportCache != nil {
		go func() {
			if err := services.ReportCache.ListenForInvalidation(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("report cache invalidation listener", slog.Any("error", err))
			}
		}()
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Modules: []app.Mountable{
			ledger.NewHandler(logger, services.Ledger),
			inventory.NewHandler(logger, services.Inventory),
			procurement.NewHandler(logger, services.Procurement),
			manufacturing.NewHandler(logger, services.Manufacturing),
			sales.NewHandler(logger, services.Sales),
			users.NewHandler(logger, services.Users),
			dashboard.NewHandler(logger, services.Dashboard),
		},
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
		Ready:      pingPool(pool),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openRedis returns nil when Redis is unreachable so the API can run without
// the report cache.
func openRedis(ctx context.Context, cfg *app.Config, logger *slog.Logger) *redis.Client {
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		return nil
	}
	return client
}

func pingPool(pool *pgxpool.Pool) func(*http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}
