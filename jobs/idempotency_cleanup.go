package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
)

// KeyCleaner purges idempotency keys older than the retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// IdempotencyCleanupJob bounds the idempotency table.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store KeyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle deletes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	n, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		loggerOrDefault(j.Logger).Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, "keys", int(n))
	loggerOrDefault(j.Logger).Info("idempotency keys purged", slog.Int64("keys", n), slog.Duration("retention", retention))
	return nil
}
