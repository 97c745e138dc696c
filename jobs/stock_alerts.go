package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
)

// AlertSyncer reconciles stock alerts.
type AlertSyncer interface {
	SyncAlerts(ctx context.Context) (inventory.SyncResult, error)
}

// StockAlertsJob opens and resolves stock alerts.
type StockAlertsJob struct {
	Service AlertSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockAlertsJob initialises the alert sync handler.
func NewStockAlertsJob(service AlertSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAlertsJob {
	return &StockAlertsJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one alert sync.
func (j *StockAlertsJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("stock alerts: handler not configured")
	}
	tracker := j.Metrics.Track(TaskStockAlerts)
	defer func() { err = tracker.End(err) }()

	result, err := j.Service.SyncAlerts(ctx)
	if err != nil {
		loggerOrDefault(j.Logger).Error("stock alert sync failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskStockAlerts, "opened", result.Opened)
	j.Metrics.AddItems(TaskStockAlerts, "resolved", result.Resolved)
	loggerOrDefault(j.Logger).Info("stock alerts synced", slog.Int("opened", result.Opened), slog.Int("resolved", result.Resolved))
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
