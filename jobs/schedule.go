package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Schedule holds the cron spec of each periodic task. An empty spec disables
// that task.
type Schedule struct {
	StockAlerts        string
	BOMCostRefresh     string
	OverdueInvoices    string
	IdempotencyCleanup string
}

// DefaultSchedule returns the production cron specs.
func DefaultSchedule() Schedule {
	return Schedule{
		StockAlerts:        "*/30 * * * *",
		BOMCostRefresh:     "0 2 * * *",
		OverdueInvoices:    "0 1 * * *",
		IdempotencyCleanup: "0 3 * * *",
	}
}

// Registrations converts the schedule into scheduler entries.
func (s Schedule) Registrations() ([]CronRegistration, error) {
	entries := []struct {
		spec  string
		build func() (*asynq.Task, error)
	}{
		{s.StockAlerts, func() (*asynq.Task, error) { return NewStockAlertsTask(time.Time{}) }},
		{s.BOMCostRefresh, func() (*asynq.Task, error) { return NewBOMCostRefreshTask(time.Time{}) }},
		{s.OverdueInvoices, func() (*asynq.Task, error) { return NewOverdueInvoicesTask(time.Time{}) }},
		{s.IdempotencyCleanup, func() (*asynq.Task, error) { return NewIdempotencyCleanupTask(0) }},
	}
	var out []CronRegistration
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		task, err := e.build()
		if err != nil {
			return nil, fmt.Errorf("jobs: build scheduled task: %w", err)
		}
		out = append(out, CronRegistration{Spec: e.spec, Task: task})
	}
	return out, nil
}
