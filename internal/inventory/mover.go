package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Mover applies stock movements against an open transaction. Procurement and
// manufacturing use it so their stock effects commit with their own writes.
type Mover struct {
	tx  TxRepository
	now func() time.Time
}

// NewMover wraps tx. A nil clock defaults to time.Now.
func NewMover(tx TxRepository, now func() time.Time) *Mover {
	if now == nil {
		now = time.Now
	}
	return &Mover{tx: tx, now: now}
}

// Move locks the material, applies Delta to its stock and appends a log row.
func (m *Mover) Move(ctx context.Context, in MovementInput) (InventoryTransaction, error) {
	if in.Material.IsZero() {
		return InventoryTransaction{}, ErrMaterialRequired
	}
	if in.Delta.IsZero() {
		return InventoryTransaction{}, ErrInvalidQuantity
	}
	if in.Type == "" {
		return InventoryTransaction{}, errors.New("inventory: movement type required")
	}
	if err := wholeUnits(in.Material, in.Delta); err != nil {
		return InventoryTransaction{}, err
	}
	material, err := m.tx.GetMaterialForUpdate(ctx, in.Material)
	if err != nil {
		return InventoryTransaction{}, err
	}
	stock := material.CurrentStock.Add(in.Delta)
	if in.RejectNegative && stock.IsNegative() {
		return InventoryTransaction{}, ErrNegativeStock
	}
	if err := m.tx.UpdateStock(ctx, in.Material, stock); err != nil {
		return InventoryTransaction{}, err
	}
	price := material.UnitPrice
	if in.UnitPrice != nil {
		price = *in.UnitPrice
	}
	record := NewTransaction(in.Type, material, in.Delta.Abs(), price)
	record.Reference = in.Reference
	record.Notes = in.Notes
	record.WarehouseID = in.WarehouseID
	record.CreatedBy = in.ActorID
	record.CreatedAt = m.now()
	id, err := m.tx.InsertTransaction(ctx, record)
	if err != nil {
		return InventoryTransaction{}, err
	}
	record.ID = id
	return record, nil
}

// Receive credits stock, used for goods receipts and finished output.
func (m *Mover) Receive(ctx context.Context, ref MaterialRef, qty decimal.Decimal, unitPrice *decimal.Decimal, reference, notes string, actorID int64) (InventoryTransaction, error) {
	if !qty.IsPositive() {
		return InventoryTransaction{}, ErrInvalidQuantity
	}
	return m.Move(ctx, MovementInput{
		Material:  ref,
		Type:      TransactionTypeIn,
		Delta:     qty,
		Reference: reference,
		Notes:     notes,
		ActorID:   actorID,
		UnitPrice: unitPrice,
	})
}

// Consume debits stock unconditionally.
func (m *Mover) Consume(ctx context.Context, ref MaterialRef, qty decimal.Decimal, reference, notes string, actorID int64) (InventoryTransaction, error) {
	if !qty.IsPositive() {
		return InventoryTransaction{}, ErrInvalidQuantity
	}
	return m.Move(ctx, MovementInput{
		Material:  ref,
		Type:      TransactionTypeOut,
		Delta:     qty.Neg(),
		Reference: reference,
		Notes:     notes,
		ActorID:   actorID,
	})
}
