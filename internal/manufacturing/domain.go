package manufacturing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// OrderStatus tracks the production order workflow.
type OrderStatus string

const (
	OrderDraft           OrderStatus = "draft"
	OrderPendingApproval OrderStatus = "pending_approval"
	OrderApproved        OrderStatus = "approved"
	OrderInProgress      OrderStatus = "in_progress"
	OrderCompleted       OrderStatus = "completed"
	OrderCancelled       OrderStatus = "cancelled"
)

// Priority of a production order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Stage is one step of shoe production.
type Stage string

const (
	StageGurat     Stage = "gurat"
	StageAssembly  Stage = "assembly"
	StagePress     Stage = "press"
	StageFinishing Stage = "finishing"
)

// Stages lists every stage in production order.
var Stages = []Stage{StageGurat, StageAssembly, StagePress, StageFinishing}

// Valid reports a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// WorkOrderStatus tracks execution of one stage.
type WorkOrderStatus string

const (
	WorkPending    WorkOrderStatus = "pending"
	WorkInProgress WorkOrderStatus = "in_progress"
	WorkCompleted  WorkOrderStatus = "completed"
	WorkOnHold     WorkOrderStatus = "on_hold"
	WorkCancelled  WorkOrderStatus = "cancelled"
)

// ProductionOrder requests a quantity of one finished product.
type ProductionOrder struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	ProductID    int64           `json:"finished_product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Status       OrderStatus     `json:"status"`
	Priority     Priority        `json:"priority"`
	Notes        string          `json:"notes"`
	PlannedStart *time.Time      `json:"planned_start,omitempty"`
	PlannedEnd   *time.Time      `json:"planned_end,omitempty"`
	ActualStart  *time.Time      `json:"actual_start,omitempty"`
	ActualEnd    *time.Time      `json:"actual_end,omitempty"`
	ApprovedBy   *int64          `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CreatedBy    int64           `json:"created_by,omitempty"`
}

// Progress derives completion from the order's work orders: 100 once
// completed, completed/total × 100 while in progress, 0 otherwise.
func (o ProductionOrder) Progress(workOrders []WorkOrder) decimal.Decimal {
	switch {
	case o.Status == OrderCompleted:
		return decimal.NewFromInt(100)
	case o.Status != OrderInProgress || len(workOrders) == 0:
		return decimal.Zero
	}
	done := 0
	for _, wo := range workOrders {
		if wo.Status == WorkCompleted {
			done++
		}
	}
	return decimal.NewFromInt(int64(done)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(len(workOrders)))).
		Round(2)
}

// IsOverdue reports an approved or running order past its planned end.
func (o ProductionOrder) IsOverdue(now time.Time) bool {
	if o.PlannedEnd == nil {
		return false
	}
	if o.Status != OrderApproved && o.Status != OrderInProgress {
		return false
	}
	return now.After(*o.PlannedEnd)
}

// BOM is the bill of materials of one finished product.
type BOM struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"finished_product_id"`
	Version      string          `json:"version"`
	IsActive     bool            `json:"is_active"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Items        []BOMItem       `json:"items"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FullCost is the material total plus labor and overhead.
func (b BOM) FullCost() decimal.Decimal {
	return b.TotalCost.Add(b.LaborCost).Add(b.OverheadCost)
}

// BOMItem is one raw material line. UnitCost holds quantity × material price
// as of the last save.
type BOMItem struct {
	ID              int64           `json:"id"`
	BOMID           int64           `json:"bom_id"`
	MaterialID      int64           `json:"raw_material_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	AllocatedStages []Stage         `json:"allocated_stages"`
}

// WorkOrder executes one stage of a production order.
type WorkOrder struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	ProductionOrderID  int64           `json:"production_order_id"`
	Stage              Stage           `json:"stage"`
	Quantity           decimal.Decimal `json:"quantity"`
	Status             WorkOrderStatus `json:"status"`
	PlannedStart       time.Time       `json:"planned_start"`
	PlannedEnd         time.Time       `json:"planned_end"`
	ActualStart        *time.Time      `json:"actual_start,omitempty"`
	ActualEnd          *time.Time      `json:"actual_end,omitempty"`
	Notes              string          `json:"notes"`
	ProgressPercentage decimal.Decimal `json:"progress_percentage"`
}

// MaterialConsumption records raw material used by a work order.
type MaterialConsumption struct {
	ID              int64           `json:"id"`
	WorkOrderID     int64           `json:"work_order_id"`
	MaterialID      int64           `json:"raw_material_id"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	ActualQuantity  decimal.Decimal `json:"actual_quantity"`
	Notes           string          `json:"notes"`
	RecordedBy      int64           `json:"recorded_by,omitempty"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// Variance is actual minus planned quantity.
func (c MaterialConsumption) Variance() decimal.Decimal {
	return c.ActualQuantity.Sub(c.PlannedQuantity)
}

// ProductionProgress is one progress report on a work order.
type ProductionProgress struct {
	ID                int64           `json:"id"`
	WorkOrderID       int64           `json:"work_order_id"`
	Percentage        decimal.Decimal `json:"percentage"`
	QuantityCompleted decimal.Decimal `json:"quantity_completed"`
	Notes             string          `json:"notes"`
	RecordedBy        int64           `json:"recorded_by,omitempty"`
	RecordedAt        time.Time       `json:"recorded_at"`
}

// ProgressResult reports the cascades triggered by RecordProgress.
type ProgressResult struct {
	Progress           ProductionProgress `json:"progress"`
	WorkOrderStarted   bool               `json:"work_order_started"`
	WorkOrderCompleted bool               `json:"work_order_completed"`
	OrderCompleted     bool               `json:"production_order_completed"`
}

// CreateOrderInput describes a draft production order.
type CreateOrderInput struct {
	ProductID    int64
	Quantity     decimal.Decimal
	Priority     Priority
	Notes        string
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	ActorID      int64
}

// SaveBOMInput creates or updates the BOM header of a product.
type SaveBOMInput struct {
	ProductID    int64
	Version      string
	LaborCost    decimal.Decimal
	OverheadCost decimal.Decimal
}

// SaveBOMItemInput adds or replaces one raw material on a BOM.
type SaveBOMItemInput struct {
	BOMID           int64
	MaterialID      int64
	Quantity        decimal.Decimal
	AllocatedStages []Stage
}

// GenerateInput splits a production order into stage work orders.
type GenerateInput struct {
	ProductionOrderID int64
	StageQuantities   map[Stage]decimal.Decimal
	StartDate         time.Time
	DurationDays      int
	ActorID           int64
}

// ConsumptionInput records material used by a work order.
type ConsumptionInput struct {
	WorkOrderID     int64
	MaterialID      int64
	PlannedQuantity decimal.Decimal
	ActualQuantity  decimal.Decimal
	Notes           string
	ActorID         int64
}

// ProgressInput reports progress on a work order.
type ProgressInput struct {
	WorkOrderID       int64
	Percentage        decimal.Decimal
	QuantityCompleted decimal.Decimal
	Notes             string
	ActorID           int64
}

var (
	// ErrQuantityMismatch indicates stage quantities that do not sum to the order quantity.
	ErrQuantityMismatch = shared.Validation("manufacturing: stage quantities must sum to order quantity")
	// ErrInvalidQuantity indicates a non-positive or negative quantity.
	ErrInvalidQuantity = shared.Validation("manufacturing: invalid quantity")
	// ErrInvalidDuration indicates a stage duration under one day.
	ErrInvalidDuration = shared.Validation("manufacturing: duration must be at least one day")
	// ErrInvalidPercentage indicates progress outside 0..100.
	ErrInvalidPercentage = shared.Validation("manufacturing: percentage must be between 0 and 100")
	// ErrInvalidStage indicates an unknown stage.
	ErrInvalidStage = shared.Validation("manufacturing: unknown stage")
	// ErrActorRequired indicates a workflow step without an actor.
	ErrActorRequired = shared.Validation("manufacturing: actor required")
	// ErrInvalidState indicates a transition not allowed from the current status.
	ErrInvalidState = shared.Conflict("manufacturing: invalid status for operation")
	// ErrOrderNotFound indicates a missing production order.
	ErrOrderNotFound = shared.NotFound("manufacturing: production order not found")
	// ErrWorkOrderNotFound indicates a missing work order.
	ErrWorkOrderNotFound = shared.NotFound("manufacturing: work order not found")
	// ErrBOMNotFound indicates a missing BOM.
	ErrBOMNotFound = shared.NotFound("manufacturing: bom not found")
	// ErrMaterialNotFound indicates a BOM item referencing an unknown raw material.
	ErrMaterialNotFound = shared.NotFound("manufacturing: raw material not found")
)
