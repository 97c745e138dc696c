package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockAlerts reconciles persisted stock alerts with current levels.
	TaskStockAlerts = "inventory:stock_alerts"
	// TaskBOMCostRefresh recalculates every active BOM against current prices.
	TaskBOMCostRefresh = "manufacturing:bom_cost_refresh"
	// TaskOverdueInvoices flips unpaid invoices past due to overdue.
	TaskOverdueInvoices = "sales:overdue_invoices"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "platform:idempotency_cleanup"
)

// RunPayload carries scheduling metadata shared by every task.
type RunPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// OverdueInvoicesPayload optionally pins the evaluation date.
type OverdueInvoicesPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// IdempotencyCleanupPayload overrides the configured retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewStockAlertsTask constructs the alert sync task.
func NewStockAlertsTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskStockAlerts, RunPayload{ScheduledFor: at})
}

// NewBOMCostRefreshTask constructs the BOM refresh task.
func NewBOMCostRefreshTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskBOMCostRefresh, RunPayload{ScheduledFor: at})
}

// NewOverdueInvoicesTask constructs the overdue sweep. A zero asOf means the
// day the task runs.
func NewOverdueInvoicesTask(asOf time.Time) (*asynq.Task, error) {
	return newTask(TaskOverdueInvoices, OverdueInvoicesPayload{AsOf: asOf})
}

// NewIdempotencyCleanupTask constructs the key purge. A zero retention falls
// back to the worker's configured retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
}

var taskBuilders = map[string]func() (*asynq.Task, error){
	TaskStockAlerts:        func() (*asynq.Task, error) { return NewStockAlertsTask(time.Time{}) },
	TaskBOMCostRefresh:     func() (*asynq.Task, error) { return NewBOMCostRefreshTask(time.Time{}) },
	TaskOverdueInvoices:    func() (*asynq.Task, error) { return NewOverdueInvoicesTask(time.Time{}) },
	TaskIdempotencyCleanup: func() (*asynq.Task, error) { return NewIdempotencyCleanupTask(0) },
}

// TaskNames lists every registered task type.
func TaskNames() []string {
	names := make([]string, 0, len(taskBuilders))
	for name := range taskBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTaskByName builds a task with default payload for on-demand runs.
func NewTaskByName(name string) (*asynq.Task, error) {
	build, ok := taskBuilders[name]
	if !ok {
		return nil, fmt.Errorf("jobs: unknown task %q", name)
	}
	return build()
}
