package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
)

// BOMRefresher recalculates BOM totals.
type BOMRefresher interface {
	RefreshBOMCosts(ctx context.Context) (int, error)
}

// BOMCostRefreshJob keeps BOM totals in line with current material prices.
type BOMCostRefreshJob struct {
	Service BOMRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBOMCostRefreshJob initialises the refresh handler.
func NewBOMCostRefreshJob(service BOMRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *BOMCostRefreshJob {
	return &BOMCostRefreshJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle recalculates every active BOM.
func (j *BOMCostRefreshJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("bom cost refresh: handler not configured")
	}
	tracker := j.Metrics.Track(TaskBOMCostRefresh)
	defer func() { err = tracker.End(err) }()

	n, err := j.Service.RefreshBOMCosts(ctx)
	if err != nil {
		loggerOrDefault(j.Logger).Error("bom cost refresh failed", slog.Int("refreshed", n), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskBOMCostRefresh, "boms", n)
	loggerOrDefault(j.Logger).Info("bom costs refreshed", slog.Int("boms", n))
	return nil
}
