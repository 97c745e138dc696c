package inventory

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// TransactionType enumerates inventory log rows.
type TransactionType string

const (
	// TransactionTypeIn represents stock entering.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents consumption or dispatch.
	TransactionTypeOut TransactionType = "OUT"
	// TransactionTypeAdjust marks manual corrections that reduce stock.
	TransactionTypeAdjust TransactionType = "ADJ"
)

// Direction of a manual adjustment.
type Direction string

const (
	DirectionAdd      Direction = "add"
	DirectionSubtract Direction = "subtract"
)

// Unit of measure for raw materials.
type Unit string

const (
	UnitKg    Unit = "kg"
	UnitMeter Unit = "m"
	UnitPcs   Unit = "pcs"
	UnitRoll  Unit = "roll"
	UnitSheet Unit = "sheet"
)

// Valid reports a supported unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitKg, UnitMeter, UnitPcs, UnitRoll, UnitSheet:
		return true
	}
	return false
}

// Color of a finished product.
type Color string

var colors = map[Color]bool{
	"black": true, "white": true, "brown": true, "blue": true, "red": true, "green": true,
	"yellow": true, "gray": true, "navy": true, "beige": true, "sands": true,
}

// Valid reports a supported colour.
func (c Color) Valid() bool { return colors[c] }

const (
	MinSize = 35
	MaxSize = 45
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,49}$`)

// StockStatus is derived from current and minimum stock.
type StockStatus string

const (
	StatusInStock    StockStatus = "in_stock"
	StatusLowStock   StockStatus = "low_stock"
	StatusOutOfStock StockStatus = "out_of_stock"
)

// StatusOf classifies a stock level.
func StatusOf(current, minimum decimal.Decimal) StockStatus {
	switch {
	case !current.IsPositive():
		return StatusOutOfStock
	case current.LessThanOrEqual(minimum):
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Material is either a raw material or a finished product. Unit applies to raw
// materials only; Size and Color to finished products only.
type Material struct {
	Ref          MaterialRef     `json:"ref"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	MaximumStock decimal.Decimal `json:"maximum_stock"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsActive     bool            `json:"is_active"`
	Unit         Unit            `json:"unit,omitempty"`
	Size         int             `json:"size,omitempty"`
	Color        Color           `json:"color,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Status returns the derived stock status.
func (m Material) Status() StockStatus { return StatusOf(m.CurrentStock, m.MinimumStock) }

// Value returns stock × unit price.
func (m Material) Value() decimal.Decimal { return m.CurrentStock.Mul(m.UnitPrice) }

// InventoryTransaction is one append-only stock log row.
type InventoryTransaction struct {
	ID           int64           `json:"id"`
	Type         TransactionType `json:"type"`
	Material     MaterialRef     `json:"material"`
	MaterialName string          `json:"material_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	Reference    string          `json:"reference"`
	Notes        string          `json:"notes"`
	WarehouseID  int64           `json:"warehouse_id,omitempty"`
	CreatedBy    int64           `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewTransaction builds a log row with TotalValue fixed at quantity × unit price.
func NewTransaction(typ TransactionType, material Material, quantity, unitPrice decimal.Decimal) InventoryTransaction {
	return InventoryTransaction{
		Type:         typ,
		Material:     material.Ref,
		MaterialName: material.Name,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		TotalValue:   quantity.Mul(unitPrice),
	}
}

// Warehouse is a stock location referenced by movements.
type Warehouse struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// AdjustStockInput describes a manual stock correction.
type AdjustStockInput struct {
	Material       MaterialRef
	Quantity       decimal.Decimal
	Direction      Direction
	WarehouseID    int64
	Reason         string
	ActorID        int64
	IdempotencyKey string
}

// Validate checks input without touching storage.
func (in AdjustStockInput) Validate() error {
	if in.Material.IsZero() {
		return ErrMaterialRequired
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.Direction != DirectionAdd && in.Direction != DirectionSubtract {
		return ErrInvalidDirection
	}
	return wholeUnits(in.Material, in.Quantity)
}

// MovementInput is a stock change made by another module inside its own
// transaction. Delta is signed.
type MovementInput struct {
	Material    MaterialRef
	Type        TransactionType
	Delta       decimal.Decimal
	Reference   string
	Notes       string
	WarehouseID int64
	ActorID     int64
	// UnitPrice overrides the material's current price snapshot when set.
	UnitPrice *decimal.Decimal
	// RejectNegative fails the movement instead of letting stock drop below zero.
	RejectNegative bool
}

// CreateRawMaterialInput describes a new raw material.
type CreateRawMaterialInput struct {
	Code         string
	Name         string
	Unit         Unit
	MinimumStock decimal.Decimal
	MaximumStock decimal.Decimal
	UnitPrice    decimal.Decimal
}

// Validate checks codes and ranges.
func (in CreateRawMaterialInput) Validate() error {
	if err := validateCommon(in.Code, in.Name, in.MinimumStock, in.MaximumStock, in.UnitPrice); err != nil {
		return err
	}
	if !in.Unit.Valid() {
		return shared.Validation(fmt.Sprintf("inventory: invalid unit %q", in.Unit))
	}
	return nil
}

// CreateFinishedProductInput describes a new finished product.
type CreateFinishedProductInput struct {
	Code         string
	Name         string
	Size         int
	Color        Color
	MinimumStock decimal.Decimal
	MaximumStock decimal.Decimal
	UnitPrice    decimal.Decimal
}

// Validate checks codes and ranges.
func (in CreateFinishedProductInput) Validate() error {
	if err := validateCommon(in.Code, in.Name, in.MinimumStock, in.MaximumStock, in.UnitPrice); err != nil {
		return err
	}
	if in.Size < MinSize || in.Size > MaxSize {
		return shared.Validation(fmt.Sprintf("inventory: size %d outside %d-%d", in.Size, MinSize, MaxSize))
	}
	if !in.Color.Valid() {
		return shared.Validation(fmt.Sprintf("inventory: invalid color %q", in.Color))
	}
	if !in.MinimumStock.IsInteger() || !in.MaximumStock.IsInteger() {
		return ErrFractionalUnits
	}
	return nil
}

func validateCommon(code, name string, minimum, maximum, price decimal.Decimal) error {
	if !codePattern.MatchString(code) {
		return shared.Validation(fmt.Sprintf("inventory: invalid code %q", code))
	}
	if name == "" {
		return shared.Validation("inventory: name required")
	}
	if minimum.IsNegative() || maximum.IsNegative() || price.IsNegative() {
		return shared.Validation("inventory: stock levels and price must not be negative")
	}
	if maximum.IsPositive() && maximum.LessThan(minimum) {
		return shared.Validation("inventory: maximum stock below minimum")
	}
	return nil
}

func wholeUnits(ref MaterialRef, qty decimal.Decimal) error {
	if ref.Kind() == KindFinishedProduct && !qty.IsInteger() {
		return ErrFractionalUnits
	}
	return nil
}

// TransactionFilter narrows the stock log.
type TransactionFilter struct {
	Material *MaterialRef
	From     time.Time
	To       time.Time
	Limit    int
}

// Valuation totals stock value per table.
type Valuation struct {
	RawMaterials     decimal.Decimal `json:"raw_materials"`
	FinishedProducts decimal.Decimal `json:"finished_products"`
	Total            decimal.Decimal `json:"total"`
}

var (
	// ErrMaterialRequired indicates an unset material ref.
	ErrMaterialRequired = shared.Validation("inventory: material required")
	// ErrInvalidQuantity indicates non-positive quantity.
	ErrInvalidQuantity = shared.Validation("inventory: quantity must be positive")
	// ErrInvalidDirection indicates neither add nor subtract.
	ErrInvalidDirection = shared.Validation("inventory: direction must be add or subtract")
	// ErrFractionalUnits indicates a non-integer finished product quantity.
	ErrFractionalUnits = shared.Validation("inventory: finished product quantities must be whole units")
	// ErrInvalidUnitPrice indicates a negative price.
	ErrInvalidUnitPrice = shared.Validation("inventory: unit price must not be negative")
	// ErrNegativeStock indicates a movement that would drop stock below zero.
	ErrNegativeStock = shared.Conflict("inventory: stock would become negative")
	// ErrDuplicateCode indicates a material code in use.
	ErrDuplicateCode = shared.Conflict("inventory: material code already exists")
	// ErrMaterialNotFound indicates a missing material.
	ErrMaterialNotFound = shared.NotFound("inventory: material not found")
	// ErrWarehouseNotFound indicates a missing warehouse.
	ErrWarehouseNotFound = shared.NotFound("inventory: warehouse not found")
)
