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

// OverdueMarker flips invoices past due.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)
}

// OverdueInvoicesJob runs the nightly receivables sweep.
type OverdueInvoicesJob struct {
	Service OverdueMarker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueInvoicesJob initialises the sweep handler.
func NewOverdueInvoicesJob(service OverdueMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueInvoicesJob {
	return &OverdueInvoicesJob{Service: service, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle marks overdue invoices as of the payload date or today.
func (j *OverdueInvoicesJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("overdue invoices: handler not configured")
	}
	var payload OverdueInvoicesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.clock()
	}
	tracker := j.Metrics.Track(TaskOverdueInvoices)
	defer func() { err = tracker.End(err) }()

	n, err := j.Service.MarkOverdue(ctx, asOf)
	if err != nil {
		loggerOrDefault(j.Logger).Error("overdue sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskOverdueInvoices, "invoices", int(n))
	loggerOrDefault(j.Logger).Info("overdue invoices marked", slog.Int64("invoices", n), slog.Time("as_of", asOf))
	return nil
}
