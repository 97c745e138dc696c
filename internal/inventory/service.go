package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMaterial(ctx context.Context, ref MaterialRef) (Material, error)
	ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	ListOpenAlerts(ctx context.Context) ([]StockAlert, error)
}

// TxRepository exposes transactional operations used by service and Mover.
type TxRepository interface {
	GetMaterialForUpdate(ctx context.Context, ref MaterialRef) (Material, error)
	UpdateStock(ctx context.Context, ref MaterialRef, stock decimal.Decimal) error
	UpdateUnitPrice(ctx context.Context, ref MaterialRef, price decimal.Decimal) error
	InsertMaterial(ctx context.Context, material Material) (int64, error)
	InsertTransaction(ctx context.Context, record InventoryTransaction) (int64, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error)
	ListOpenAlerts(ctx context.Context) ([]StockAlert, error)
	InsertAlert(ctx context.Context, alert StockAlert) (int64, error)
	ResolveAlert(ctx context.Context, id int64, at time.Time) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys. Satisfied by *shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	rejectNeg   bool
	events      shared.EventCounter
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// RejectNegativeStock makes AdjustStock fail with ErrNegativeStock instead
	// of letting a subtraction drop stock below zero.
	RejectNegativeStock bool
}

const idempotencyModule = "inventory"

// NewService builds Service. audit and idem may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		rejectNeg:   cfg.RejectNegativeStock,
		events:      shared.NopEvents{},
		logger:      logger,
		now:         time.Now,
	}
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

// Mover returns a stock mover bound to tx.
func (s *Service) Mover(tx TxRepository) *Mover {
	return NewMover(tx, s.now)
}

// RecordMovement applies in against an already open transaction.
func (s *Service) RecordMovement(ctx context.Context, tx TxRepository, in MovementInput) (InventoryTransaction, error) {
	return s.Mover(tx).Move(ctx, in)
}

// AdjustStock adds or subtracts stock and appends the matching log row in one
// transaction. An add is logged as IN, a subtract as ADJ.
func (s *Service) AdjustStock(ctx context.Context, input AdjustStockInput) (InventoryTransaction, error) {
	if err := input.Validate(); err != nil {
		return InventoryTransaction{}, err
	}
	now := s.now()
	movement := MovementInput{
		Material:       input.Material,
		Type:           TransactionTypeIn,
		Delta:          input.Quantity,
		Reference:      fmt.Sprintf("ADJ-%d-%s", input.ActorID, now.Format("20060102150405")),
		Notes:          fmt.Sprintf("Stock adjustment: %s", input.Reason),
		WarehouseID:    input.WarehouseID,
		ActorID:        input.ActorID,
		RejectNegative: s.rejectNeg,
	}
	if input.Direction == DirectionSubtract {
		movement.Type = TransactionTypeAdjust
		movement.Delta = input.Quantity.Neg()
	}

	claimed := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return InventoryTransaction{}, err
		}
		claimed = true
	}

	var record InventoryTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.WarehouseID != 0 {
			if _, err := tx.GetWarehouse(ctx, input.WarehouseID); err != nil {
				return err
			}
		}
		var err error
		record, err = s.Mover(tx).Move(ctx, movement)
		return err
	})
	if err != nil {
		if claimed {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return InventoryTransaction{}, err
	}
	s.events.IncDomainEvent("inventory", "stock_adjusted")
	s.record(ctx, input.ActorID, "inventory.adjust", "inventory_transaction", record.ID, map[string]any{
		"material":  input.Material.String(),
		"direction": string(input.Direction),
		"quantity":  input.Quantity.String(),
		"reference": record.Reference,
	})
	return record, nil
}

// Alerts recomputes shortage alerts on every call.
func (s *Service) Alerts(ctx context.Context) ([]Alert, error) {
	materials, err := s.repo.ListMaterials(ctx, "")
	if err != nil {
		return nil, err
	}
	return DeriveAlerts(materials), nil
}

// OpenAlerts lists persisted unresolved alerts.
func (s *Service) OpenAlerts(ctx context.Context) ([]StockAlert, error) {
	return s.repo.ListOpenAlerts(ctx)
}

// SyncAlerts persists newly derived alerts and resolves those whose condition
// no longer holds.
func (s *Service) SyncAlerts(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		materials, err := tx.ListMaterials(ctx, "")
		if err != nil {
			return err
		}
		open, err := tx.ListOpenAlerts(ctx)
		if err != nil {
			return err
		}
		toOpen, toResolve := planSync(deriveAll(materials), open)
		now := s.now()
		for _, a := range toOpen {
			if _, err := tx.InsertAlert(ctx, StockAlert{Material: a.Material.Ref, Type: a.Type, Message: a.Message, CreatedAt: now}); err != nil {
				return err
			}
		}
		for _, a := range toResolve {
			if err := tx.ResolveAlert(ctx, a.ID, now); err != nil {
				return err
			}
		}
		result = SyncResult{Opened: len(toOpen), Resolved: len(toResolve)}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	if result.Opened > 0 || result.Resolved > 0 {
		s.logger.InfoContext(ctx, "stock alerts synced", slog.Int("opened", result.Opened), slog.Int("resolved", result.Resolved))
	}
	return result, nil
}

// Valuation sums stock × unit price per material table.
func (s *Service) Valuation(ctx context.Context) (Valuation, error) {
	materials, err := s.repo.ListMaterials(ctx, "")
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{RawMaterials: decimal.Zero, FinishedProducts: decimal.Zero}
	for _, m := range materials {
		switch m.Ref.Kind() {
		case KindRawMaterial:
			v.RawMaterials = v.RawMaterials.Add(m.Value())
		case KindFinishedProduct:
			v.FinishedProducts = v.FinishedProducts.Add(m.Value())
		}
	}
	v.Total = v.RawMaterials.Add(v.FinishedProducts)
	return v, nil
}

// CreateRawMaterial registers a raw material with zero stock.
func (s *Service) CreateRawMaterial(ctx context.Context, input CreateRawMaterialInput) (Material, error) {
	if err := input.Validate(); err != nil {
		return Material{}, err
	}
	return s.createMaterial(ctx, Material{
		Ref:          RawMaterial(0),
		Code:         input.Code,
		Name:         input.Name,
		Unit:         input.Unit,
		MinimumStock: input.MinimumStock,
		MaximumStock: input.MaximumStock,
		UnitPrice:    input.UnitPrice,
	})
}

// CreateFinishedProduct registers a finished product with zero stock.
func (s *Service) CreateFinishedProduct(ctx context.Context, input CreateFinishedProductInput) (Material, error) {
	if err := input.Validate(); err != nil {
		return Material{}, err
	}
	return s.createMaterial(ctx, Material{
		Ref:          FinishedProduct(0),
		Code:         input.Code,
		Name:         input.Name,
		Size:         input.Size,
		Color:        input.Color,
		MinimumStock: input.MinimumStock,
		MaximumStock: input.MaximumStock,
		UnitPrice:    input.UnitPrice,
	})
}

func (s *Service) createMaterial(ctx context.Context, m Material) (Material, error) {
	m.CurrentStock = decimal.Zero
	m.IsActive = true
	m.UpdatedAt = s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMaterial(ctx, m)
		if err != nil {
			return err
		}
		m.Ref = MaterialRef{kind: m.Ref.Kind(), id: id}
		return nil
	})
	if err != nil {
		return Material{}, err
	}
	return m, nil
}

// UpdateUnitPrice changes the price used for future movement snapshots.
func (s *Service) UpdateUnitPrice(ctx context.Context, ref MaterialRef, price decimal.Decimal, actorID int64) (Material, error) {
	if ref.IsZero() {
		return Material{}, ErrMaterialRequired
	}
	if price.IsNegative() {
		return Material{}, ErrInvalidUnitPrice
	}
	var material Material
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetMaterialForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if err := tx.UpdateUnitPrice(ctx, ref, price); err != nil {
			return err
		}
		current.UnitPrice = price
		material = current
		return nil
	})
	if err != nil {
		return Material{}, err
	}
	s.record(ctx, actorID, "inventory.price", "material", ref.ID(), map[string]any{
		"material": ref.String(),
		"price":    price.String(),
	})
	return material, nil
}

// GetMaterial loads one material.
func (s *Service) GetMaterial(ctx context.Context, ref MaterialRef) (Material, error) {
	if ref.IsZero() {
		return Material{}, ErrMaterialRequired
	}
	return s.repo.GetMaterial(ctx, ref)
}

// ListMaterials lists materials of one kind, or all when kind is empty.
func (s *Service) ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error) {
	if kind != "" && kind != KindRawMaterial && kind != KindFinishedProduct {
		return nil, shared.Validation(fmt.Sprintf("inventory: unknown material type %q", kind))
	}
	return s.repo.ListMaterials(ctx, kind)
}

// ListTransactions returns the stock log.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// ListWarehouses lists stock locations.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "inventory audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
