package manufacturing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort abstracts manufacturing persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (ProductionOrder, error)
	ListOrders(ctx context.Context, status OrderStatus) ([]ProductionOrder, error)
	ListWorkOrders(ctx context.Context, orderID int64) ([]WorkOrder, error)
	GetBOM(ctx context.Context, id int64) (BOM, error)
	GetBOMByProduct(ctx context.Context, productID int64) (BOM, error)
	ListActiveBOMIDs(ctx context.Context) ([]int64, error)
	ListConsumptions(ctx context.Context, workOrderID int64) ([]MaterialConsumption, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	InsertOrder(ctx context.Context, o ProductionOrder) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (ProductionOrder, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error
	SetOrderApproval(ctx context.Context, id, actorID int64, at time.Time) error
	SetOrderActualStart(ctx context.Context, id int64, day time.Time) error
	SetOrderActualEnd(ctx context.Context, id int64, day time.Time) error

	UpsertBOM(ctx context.Context, b BOM) (BOM, error)
	GetBOMForUpdate(ctx context.Context, id int64) (BOM, error)
	UpsertBOMItem(ctx context.Context, item BOMItem) (BOMItem, error)
	UpdateBOMTotal(ctx context.Context, id int64, total decimal.Decimal, at time.Time) error
	MaterialPrice(ctx context.Context, materialID int64) (decimal.Decimal, error)

	InsertWorkOrders(ctx context.Context, wos []WorkOrder) ([]WorkOrder, error)
	GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error)
	ListWorkOrdersForUpdate(ctx context.Context, orderID int64) ([]WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, wo WorkOrder) error
	InsertConsumption(ctx context.Context, c MaterialConsumption) (int64, error)
	InsertProgress(ctx context.Context, p ProductionProgress) (int64, error)

	// Stock returns the inventory mover sharing this transaction.
	Stock() StockConsumer
}

// StockConsumer debits raw material stock. Satisfied by *inventory.Mover.
type StockConsumer interface {
	Consume(ctx context.Context, ref inventory.MaterialRef, qty decimal.Decimal, reference, notes string, actorID int64) (inventory.InventoryTransaction, error)
}

// ApprovalPort records workflow history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records manufacturing events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates BOM costing and production execution.
type Service struct {
	repo      RepositoryPort
	approvals ApprovalPort
	audit     AuditPort
	events    shared.EventCounter
	logger    *slog.Logger
	now       func() time.Time
}

const approvalModule = "PRODUCTION"

// NewService constructs the manufacturing service.
func NewService(repo RepositoryPort, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, approvals: approvals, audit: audit, events: shared.NopEvents{}, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithEvents wires a domain event counter.
func (s *Service) WithEvents(events shared.EventCounter) {
	if events != nil {
		s.events = events
	}
}

// CreateOrder stores a draft production order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (ProductionOrder, error) {
	if input.ProductID == 0 {
		return ProductionOrder{}, shared.Validation("manufacturing: finished product required")
	}
	if !input.Quantity.IsPositive() {
		return ProductionOrder{}, ErrInvalidQuantity
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !input.Priority.Valid() {
		return ProductionOrder{}, shared.Validation(fmt.Sprintf("manufacturing: invalid priority %q", input.Priority))
	}
	if input.PlannedStart != nil && input.PlannedEnd != nil && input.PlannedEnd.Before(*input.PlannedStart) {
		return ProductionOrder{}, shared.Validation("manufacturing: planned end before planned start")
	}
	now := s.now()
	order := ProductionOrder{
		Number:       fmt.Sprintf("PRD-%s-%d", now.Format("20060102"), now.UnixNano()%1_000_000),
		ProductID:    input.ProductID,
		Quantity:     input.Quantity,
		Status:       OrderDraft,
		Priority:     input.Priority,
		Notes:        input.Notes,
		PlannedStart: input.PlannedStart,
		PlannedEnd:   input.PlannedEnd,
		CreatedBy:    input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		order.ID = id
		return err
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	return order, nil
}

// SubmitOrder moves a draft to pending approval.
func (s *Service) SubmitOrder(ctx context.Context, id, actorID int64) (ProductionOrder, error) {
	return s.transition(ctx, id, actorID, shared.ApprovalSubmit, func(o ProductionOrder) (OrderStatus, error) {
		if o.Status != OrderDraft {
			return "", ErrInvalidState
		}
		return OrderPendingApproval, nil
	})
}

// ApproveOrder approves a pending order.
func (s *Service) ApproveOrder(ctx context.Context, id, actorID int64) (ProductionOrder, error) {
	return s.transition(ctx, id, actorID, shared.ApprovalApprove, func(o ProductionOrder) (OrderStatus, error) {
		if o.Status != OrderPendingApproval {
			return "", ErrInvalidState
		}
		return OrderApproved, nil
	})
}

// CancelOrder cancels an order that has not completed.
func (s *Service) CancelOrder(ctx context.Context, id, actorID int64) (ProductionOrder, error) {
	return s.transition(ctx, id, actorID, shared.ApprovalCancel, func(o ProductionOrder) (OrderStatus, error) {
		if o.Status == OrderCompleted || o.Status == OrderCancelled {
			return "", ErrInvalidState
		}
		return OrderCancelled, nil
	})
}

func (s *Service) transition(ctx context.Context, id, actorID int64, action shared.ApprovalAction, next func(ProductionOrder) (OrderStatus, error)) (ProductionOrder, error) {
	if actorID == 0 {
		return ProductionOrder{}, ErrActorRequired
	}
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		status, err := next(current)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, id, status); err != nil {
			return err
		}
		if action == shared.ApprovalApprove {
			at := s.now()
			if err := tx.SetOrderApproval(ctx, id, actorID, at); err != nil {
				return err
			}
			current.ApprovedBy, current.ApprovedAt = &actorID, &at
		}
		current.Status = status
		order = current
		return nil
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   shared.ApprovalRef(approvalModule, id),
			ActorID: actorID,
			Action:  action,
			Note:    fmt.Sprintf("%s %s", order.Number, order.Status),
			At:      s.now(),
		}); err != nil {
			s.logger.WarnContext(ctx, "record production approval", slog.Int64("order_id", id), slog.Any("error", err))
		}
	}
	return order, nil
}

// SaveBOM creates or updates the BOM header of a product.
func (s *Service) SaveBOM(ctx context.Context, input SaveBOMInput) (BOM, error) {
	if input.ProductID == 0 {
		return BOM{}, shared.Validation("manufacturing: finished product required")
	}
	if input.LaborCost.IsNegative() || input.OverheadCost.IsNegative() {
		return BOM{}, shared.Validation("manufacturing: costs must not be negative")
	}
	if input.Version == "" {
		input.Version = "1.0"
	}
	var bom BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saved, err := tx.UpsertBOM(ctx, BOM{
			ProductID:    input.ProductID,
			Version:      input.Version,
			IsActive:     true,
			LaborCost:    input.LaborCost,
			OverheadCost: input.OverheadCost,
			UpdatedAt:    s.now(),
		})
		bom = saved
		return err
	})
	return bom, err
}

// SaveBOMItem stores an item with its cost computed from the current material price.
func (s *Service) SaveBOMItem(ctx context.Context, input SaveBOMItemInput) (BOMItem, error) {
	if input.BOMID == 0 || input.MaterialID == 0 {
		return BOMItem{}, shared.Validation("manufacturing: bom and raw material required")
	}
	if !input.Quantity.IsPositive() {
		return BOMItem{}, ErrInvalidQuantity
	}
	for _, st := range input.AllocatedStages {
		if !st.Valid() {
			return BOMItem{}, ErrInvalidStage
		}
	}
	var item BOMItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBOMForUpdate(ctx, input.BOMID); err != nil {
			return err
		}
		price, err := tx.MaterialPrice(ctx, input.MaterialID)
		if err != nil {
			return err
		}
		item, err = tx.UpsertBOMItem(ctx, BOMItem{
			BOMID:           input.BOMID,
			MaterialID:      input.MaterialID,
			Quantity:        input.Quantity,
			UnitCost:        ComputeBOMItemCost(input.Quantity, price),
			AllocatedStages: input.AllocatedStages,
		})
		return err
	})
	return item, err
}

// RecalculateBOMTotal re-reads material prices and persists the BOM total.
func (s *Service) RecalculateBOMTotal(ctx context.Context, bomID int64) (BOM, error) {
	var bom BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBOMForUpdate(ctx, bomID)
		if err != nil {
			return err
		}
		total, err := RecalculateBOMTotal(current.Items, func(id int64) (decimal.Decimal, error) {
			return tx.MaterialPrice(ctx, id)
		})
		if err != nil {
			return err
		}
		current.TotalCost = total
		current.UpdatedAt = s.now()
		bom = current
		return tx.UpdateBOMTotal(ctx, bomID, total, current.UpdatedAt)
	})
	return bom, err
}

// RefreshBOMCosts recalculates every active BOM, each in its own transaction,
// and returns how many were refreshed.
func (s *Service) RefreshBOMCosts(ctx context.Context) (int, error) {
	ids, err := s.repo.ListActiveBOMIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.RecalculateBOMTotal(ctx, id); err != nil {
			return i, fmt.Errorf("manufacturing: refresh bom %d: %w", id, err)
		}
	}
	return len(ids), nil
}

// GenerateWorkOrders splits an approved order into one work order per stage
// and starts the order.
func (s *Service) GenerateWorkOrders(ctx context.Context, input GenerateInput) ([]WorkOrder, error) {
	if input.StartDate.IsZero() {
		return nil, shared.Validation("manufacturing: start date required")
	}
	var created []WorkOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, input.ProductionOrderID)
		if err != nil {
			return err
		}
		plan, err := PlanWorkOrders(order, input.StageQuantities, input.StartDate, input.DurationDays, s.now())
		if err != nil {
			return err
		}
		if order.Status != OrderApproved {
			return ErrInvalidState
		}
		created, err = tx.InsertWorkOrders(ctx, plan)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, OrderInProgress); err != nil {
			return err
		}
		return tx.SetOrderActualStart(ctx, order.ID, s.today())
	})
	if err != nil {
		return nil, err
	}
	s.events.IncDomainEvent("manufacturing", "work_orders_generated")
	s.recordAudit(ctx, input.ActorID, "production.work_orders", input.ProductionOrderID, map[string]any{"count": len(created)})
	return created, nil
}

// RecordConsumption stores a consumption row and debits raw material stock by
// the actual quantity in the same transaction.
func (s *Service) RecordConsumption(ctx context.Context, input ConsumptionInput) (MaterialConsumption, error) {
	if input.WorkOrderID == 0 || input.MaterialID == 0 {
		return MaterialConsumption{}, shared.Validation("manufacturing: work order and raw material required")
	}
	if !input.ActualQuantity.IsPositive() || input.PlannedQuantity.IsNegative() {
		return MaterialConsumption{}, ErrInvalidQuantity
	}
	rec := MaterialConsumption{
		WorkOrderID:     input.WorkOrderID,
		MaterialID:      input.MaterialID,
		PlannedQuantity: input.PlannedQuantity,
		ActualQuantity:  input.ActualQuantity,
		Notes:           input.Notes,
		RecordedBy:      input.ActorID,
		RecordedAt:      s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetWorkOrderForUpdate(ctx, input.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status == WorkCancelled {
			return ErrInvalidState
		}
		id, err := tx.InsertConsumption(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		_, err = tx.Stock().Consume(ctx, inventory.RawMaterial(input.MaterialID), input.ActualQuantity,
			wo.Number, fmt.Sprintf("Material consumption for %s", wo.Number), input.ActorID)
		return err
	})
	if err != nil {
		return MaterialConsumption{}, err
	}
	s.events.IncDomainEvent("manufacturing", "material_consumed")
	return rec, nil
}

// RecordProgress appends a progress report and cascades completion to the
// work order and, once every sibling is done, to the production order.
func (s *Service) RecordProgress(ctx context.Context, input ProgressInput) (ProgressResult, error) {
	hundred := decimal.NewFromInt(100)
	if input.Percentage.IsNegative() || input.Percentage.GreaterThan(hundred) {
		return ProgressResult{}, ErrInvalidPercentage
	}
	if input.QuantityCompleted.IsNegative() {
		return ProgressResult{}, ErrInvalidQuantity
	}
	result := ProgressResult{Progress: ProductionProgress{
		WorkOrderID:       input.WorkOrderID,
		Percentage:        input.Percentage,
		QuantityCompleted: input.QuantityCompleted,
		Notes:             input.Notes,
		RecordedBy:        input.ActorID,
		RecordedAt:        s.now(),
	}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetWorkOrderForUpdate(ctx, input.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status == WorkCancelled {
			return ErrInvalidState
		}
		id, err := tx.InsertProgress(ctx, result.Progress)
		if err != nil {
			return err
		}
		result.Progress.ID = id

		today := s.today()
		wo.ProgressPercentage = input.Percentage
		switch {
		case input.Percentage.GreaterThanOrEqual(hundred):
			if wo.Status != WorkCompleted {
				wo.Status = WorkCompleted
				wo.ActualEnd = &today
				result.WorkOrderCompleted = true
			}
		case input.Percentage.IsPositive() && wo.Status == WorkPending:
			wo.Status = WorkInProgress
			wo.ActualStart = &today
			result.WorkOrderStarted = true
		}
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		if !result.WorkOrderCompleted {
			return nil
		}

		siblings, err := tx.ListWorkOrdersForUpdate(ctx, wo.ProductionOrderID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.ID != wo.ID && sib.Status != WorkCompleted {
				return nil
			}
		}
		order, err := tx.GetOrderForUpdate(ctx, wo.ProductionOrderID)
		if err != nil {
			return err
		}
		if order.Status == OrderCompleted {
			return nil
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, OrderCompleted); err != nil {
			return err
		}
		if err := tx.SetOrderActualEnd(ctx, order.ID, today); err != nil {
			return err
		}
		result.OrderCompleted = true
		return nil
	})
	if err != nil {
		return ProgressResult{}, err
	}
	if result.OrderCompleted {
		s.events.IncDomainEvent("manufacturing", "production_completed")
	}
	return result, nil
}

// GetOrder loads one production order with its work orders.
func (s *Service) GetOrder(ctx context.Context, id int64) (ProductionOrder, []WorkOrder, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return ProductionOrder{}, nil, err
	}
	wos, err := s.repo.ListWorkOrders(ctx, id)
	if err != nil {
		return ProductionOrder{}, nil, err
	}
	return order, wos, nil
}

// ListOrders lists production orders, optionally by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus) ([]ProductionOrder, error) {
	return s.repo.ListOrders(ctx, status)
}

// OverdueOrders lists approved or running orders past their planned end.
func (s *Service) OverdueOrders(ctx context.Context) ([]ProductionOrder, error) {
	all, err := s.repo.ListOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := []ProductionOrder{}
	for _, o := range all {
		if o.IsOverdue(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetBOM loads a BOM with its items.
func (s *Service) GetBOM(ctx context.Context, id int64) (BOM, error) {
	return s.repo.GetBOM(ctx, id)
}

// GetBOMByProduct loads the BOM of a finished product.
func (s *Service) GetBOMByProduct(ctx context.Context, productID int64) (BOM, error) {
	return s.repo.GetBOMByProduct(ctx, productID)
}

// ListConsumptions lists consumption rows of a work order.
func (s *Service) ListConsumptions(ctx context.Context, workOrderID int64) ([]MaterialConsumption, error) {
	return s.repo.ListConsumptions(ctx, workOrderID)
}

func (s *Service) today() time.Time {
	return dateOf(s.now())
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "manufacturing", EntityID: fmt.Sprintf("%d", entityID), Meta: meta, At: s.now()}); err != nil {
		s.logger.WarnContext(ctx, "manufacturing audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
