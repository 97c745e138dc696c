package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// POStatus tracks the purchase order lifecycle.
type POStatus string

const (
	POStatusDraft             POStatus = "draft"
	POStatusPendingApproval   POStatus = "pending_approval"
	POStatusApproved          POStatus = "approved"
	POStatusOrdered           POStatus = "ordered"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusReceived          POStatus = "received"
	POStatusCancelled         POStatus = "cancelled"
)

// Receivable reports whether goods can be received against the status.
func (s POStatus) Receivable() bool {
	return s == POStatusApproved || s == POStatusOrdered || s == POStatusPartiallyReceived
}

// Editable reports whether lines may still be replaced.
func (s POStatus) Editable() bool {
	return s == POStatusDraft || s == POStatusPendingApproval
}

// QualityStatus of a receipt line.
type QualityStatus string

const (
	QualityAccepted QualityStatus = "accepted"
	QualityRejected QualityStatus = "rejected"
	QualityPending  QualityStatus = "pending"
)

// Valid reports a known quality status.
func (q QualityStatus) Valid() bool {
	return q == QualityAccepted || q == QualityRejected || q == QualityPending
}

// Vendor supplies materials and carries delivery statistics.
type Vendor struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	IsActive         bool            `json:"is_active"`
	QualityRating    decimal.Decimal `json:"quality_rating"`
	TotalOrders      int             `json:"total_orders"`
	OnTimeDeliveries int             `json:"on_time_deliveries"`
}

// OnTimeDeliveryRate is the on-time share of orders as a percentage rounded to
// 2 places, 0 when the vendor has no orders.
func (v Vendor) OnTimeDeliveryRate() decimal.Decimal {
	if v.TotalOrders <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(v.OnTimeDeliveries)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(v.TotalOrders))).
		Round(2)
}

// PurchaseOrder groups lines ordered from a vendor.
type PurchaseOrder struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	VendorID           int64           `json:"vendor_id"`
	Status             POStatus        `json:"status"`
	OrderDate          time.Time       `json:"order_date"`
	ExpectedDate       *time.Time      `json:"expected_date,omitempty"`
	ActualDeliveryDate *time.Time      `json:"actual_delivery_date,omitempty"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Notes              string          `json:"notes"`
	ApprovedBy         *int64          `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	CreatedBy          int64           `json:"created_by,omitempty"`
	Lines              []POLine        `json:"lines"`
}

// IsOverdue reports an open order past its expected date.
func (po PurchaseOrder) IsOverdue(now time.Time) bool {
	if po.ExpectedDate == nil {
		return false
	}
	switch po.Status {
	case POStatusApproved, POStatusOrdered, POStatusPartiallyReceived:
		return now.After(*po.ExpectedDate)
	}
	return false
}

// POLine is one ordered item. MaterialID optionally links a raw material whose
// stock is credited on receipt.
type POLine struct {
	ID               int64           `json:"id"`
	POID             int64           `json:"purchase_order_id"`
	MaterialName     string          `json:"material_name"`
	Description      string          `json:"description"`
	MaterialID       *int64          `json:"raw_material_id,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
}

// RemainingQuantity is ordered minus received. It goes negative on over-receipt.
func (l POLine) RemainingQuantity() decimal.Decimal { return l.Quantity.Sub(l.ReceivedQuantity) }

// IsFullyReceived reports received ≥ ordered.
func (l POLine) IsFullyReceived() bool { return l.ReceivedQuantity.GreaterThanOrEqual(l.Quantity) }

// LineTotal is quantity × unit price.
func (l POLine) LineTotal() decimal.Decimal { return l.Quantity.Mul(l.UnitPrice) }

// CalculatePOTotal sums line totals.
func CalculatePOTotal(po PurchaseOrder) decimal.Decimal {
	total := decimal.Zero
	for _, l := range po.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// GoodsReceipt records goods physically received against a PO.
type GoodsReceipt struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	POID               int64           `json:"purchase_order_id"`
	ReceivedDate       time.Time       `json:"received_date"`
	TotalReceivedValue decimal.Decimal `json:"total_received_value"`
	Notes              string          `json:"notes"`
	ReceivedBy         int64           `json:"received_by,omitempty"`
	Lines              []ReceiptLine   `json:"lines"`
}

// ReceiptLine is one received PO line.
type ReceiptLine struct {
	ID               int64           `json:"id"`
	POLineID         int64           `json:"purchase_order_line_id"`
	MaterialID       *int64          `json:"raw_material_id,omitempty"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	QualityStatus    QualityStatus   `json:"quality_status"`
	Notes            string          `json:"notes"`
}

// RecalculateReceiptTotal sums received × unit price over every line.
func RecalculateReceiptTotal(lines []ReceiptLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.ReceivedQuantity.Mul(l.UnitPrice))
	}
	return total
}

// CreateVendorInput describes a new vendor.
type CreateVendorInput struct {
	Code          string
	Name          string
	QualityRating decimal.Decimal
}

// POLineInput is one line of a new purchase order.
type POLineInput struct {
	MaterialName string
	Description  string
	MaterialID   *int64
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
}

// CreatePOInput describes a draft purchase order.
type CreatePOInput struct {
	VendorID     int64
	OrderDate    time.Time
	ExpectedDate *time.Time
	Notes        string
	Lines        []POLineInput
	ActorID      int64
}

// Validate checks the order shape.
func (in CreatePOInput) Validate() error {
	if in.VendorID == 0 {
		return shared.Validation("procurement: vendor required")
	}
	return validateLines(in.Lines)
}

func validateLines(lines []POLineInput) error {
	if len(lines) == 0 {
		return shared.Validation("procurement: purchase order requires at least one line")
	}
	for _, l := range lines {
		if l.MaterialName == "" {
			return shared.Validation("procurement: line material name required")
		}
		if !l.Quantity.IsPositive() {
			return ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return shared.Validation("procurement: unit price must not be negative")
		}
	}
	return nil
}

// UpdatePOInput replaces the editable parts of an order. A zero VendorID keeps
// the current vendor.
type UpdatePOInput struct {
	POID         int64
	VendorID     int64
	ExpectedDate *time.Time
	Notes        string
	Lines        []POLineInput
	ActorID      int64
}

// Validate checks the order shape.
func (in UpdatePOInput) Validate() error {
	if in.POID == 0 {
		return shared.Validation("procurement: purchase order required")
	}
	return validateLines(in.Lines)
}

// Allocation overrides the default receipt of one PO line.
type Allocation struct {
	POLineID         int64
	ReceivedQuantity *decimal.Decimal
	QualityStatus    QualityStatus
	Notes            string
}

// ReceiveGoodsInput drives ReceiveGoods.
type ReceiveGoodsInput struct {
	POID         int64
	Allocations  []Allocation
	ReceivedDate time.Time
	Notes        string
	ActorID      int64
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.Validation("procurement: quantity must be positive")
	// ErrUnknownLine indicates an allocation for a line outside the PO.
	ErrUnknownLine = shared.Validation("procurement: allocation references unknown line")
	// ErrLineFullyReceived indicates an allocation for a completed line.
	ErrLineFullyReceived = shared.Validation("procurement: line already fully received")
	// ErrNothingToReceive indicates every line is already received.
	ErrNothingToReceive = shared.Validation("procurement: nothing left to receive")
	// ErrActorRequired indicates a workflow step without an actor.
	ErrActorRequired = shared.Validation("procurement: actor required")
	// ErrInvalidState indicates a workflow transition not allowed from the current status.
	ErrInvalidState = shared.Conflict("procurement: invalid purchase order status")
	// ErrNotEditable indicates an edit of an order past approval.
	ErrNotEditable = shared.Conflict("procurement: purchase order can no longer be edited")
	// ErrNotReceivable indicates a receipt against a PO that is not open for receiving.
	ErrNotReceivable = shared.Conflict("procurement: purchase order is not open for receiving")
	// ErrDuplicateCode indicates a vendor code in use.
	ErrDuplicateCode = shared.Conflict("procurement: vendor code already exists")
	// ErrNotFound indicates a missing purchase order or receipt.
	ErrNotFound = shared.NotFound("procurement: purchase order not found")
	// ErrVendorNotFound indicates a missing vendor.
	ErrVendorNotFound = shared.NotFound("procurement: vendor not found")
	// ErrReceiptNotFound indicates a missing goods receipt.
	ErrReceiptNotFound = shared.NotFound("procurement: goods receipt not found")
)
