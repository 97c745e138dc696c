package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-mfg/internal/dashboard"
	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/ledger"
	"github.com/odyssey-erp/odyssey-mfg/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-mfg/internal/observability"
	"github.com/odyssey-erp/odyssey-mfg/internal/procurement"
	"github.com/odyssey-erp/odyssey-mfg/internal/sales"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
	"github.com/odyssey-erp/odyssey-mfg/internal/users"
)

// Services holds every domain service built over one pool.
type Services struct {
	Ledger        *ledger.Service
	ReportCache   *ledger.ReportCache
	Inventory     *inventory.Service
	Procurement   *procurement.Service
	Manufacturing *manufacturing.Service
	Sales         *sales.Service
	Users         *users.Service
	Dashboard     *dashboard.Service
	Idempotency   *shared.IdempotencyStore
}

// NewServices wires repositories, audit, approvals and metrics into the
// domain services. redisClient may be nil, which disables report caching.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	var reportCache *ledger.ReportCache
	if redisClient != nil {
		reportCache = ledger.NewReportCache(redisClient, cfg.ReportCacheTTL)
	}

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, reportCache, logger)
	ledgerService.WithCashPrefix(cfg.CashAccountPrefix)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency,
		inventory.ServiceConfig{RejectNegativeStock: cfg.InventoryRejectNegativeStock}, logger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), approvals, auditLogger, logger)
	manufacturingService := manufacturing.NewService(manufacturing.NewRepository(pool), approvals, auditLogger, logger)
	salesService := sales.NewService(sales.NewRepository(pool), auditLogger, logger)

	if metrics != nil {
		ledgerService.WithEvents(metrics)
		inventoryService.WithEvents(metrics)
		procurementService.WithEvents(metrics)
		manufacturingService.WithEvents(metrics)
		salesService.WithEvents(metrics)
	}

	return &Services{
		Ledger:        ledgerService,
		ReportCache:   reportCache,
		Inventory:     inventoryService,
		Procurement:   procurementService,
		Manufacturing: manufacturingService,
		Sales:         salesService,
		Users:         users.NewService(users.NewRepository(pool)),
		Dashboard:     dashboard.NewService(ledgerService, inventoryService, salesService, manufacturingService),
		Idempotency:   idempotency,
	}
}
