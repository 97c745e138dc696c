package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// OrderStatus tracks the sales order lifecycle.
type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// PaymentStatus of an invoice.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// PaymentMethod used to settle an invoice.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodCheck        PaymentMethod = "check"
)

// Valid reports a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCreditCard, MethodCheck:
		return true
	}
	return false
}

// Customer buys finished products.
type Customer struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	IsActive    bool            `json:"is_active"`
}

// ProductPricing holds list and seasonal prices of a finished product.
type ProductPricing struct {
	ProductID          int64            `json:"finished_product_id"`
	BasePrice          decimal.Decimal  `json:"base_price"`
	SeasonalPrice      *decimal.Decimal `json:"seasonal_price,omitempty"`
	SeasonalStart      *time.Time       `json:"seasonal_start,omitempty"`
	SeasonalEnd        *time.Time       `json:"seasonal_end,omitempty"`
	MaxDiscountPercent decimal.Decimal  `json:"max_discount_percent"`
}

// CurrentPrice returns the seasonal price when today falls inside the
// inclusive seasonal window, the base price otherwise.
func (p ProductPricing) CurrentPrice(today time.Time) decimal.Decimal {
	if p.SeasonalPrice == nil || p.SeasonalStart == nil || p.SeasonalEnd == nil {
		return p.BasePrice
	}
	day := dateOf(today)
	if day.Before(dateOf(*p.SeasonalStart)) || day.After(dateOf(*p.SeasonalEnd)) {
		return p.BasePrice
	}
	return *p.SeasonalPrice
}

// SalesOrder groups items sold to one customer.
type SalesOrder struct {
	ID             int64            `json:"id"`
	Number         string           `json:"number"`
	CustomerID     int64            `json:"customer_id"`
	Status         OrderStatus      `json:"status"`
	OrderDate      time.Time        `json:"order_date"`
	RequiredDate   time.Time        `json:"required_date"`
	Items          []SalesOrderItem `json:"items"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	ShippingCost   decimal.Decimal  `json:"shipping_cost"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Notes          string           `json:"notes"`
	CreatedBy      int64            `json:"created_by,omitempty"`
}

// SalesOrderItem is one product line. Quantity counts whole pairs.
type SalesOrderItem struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"finished_product_id"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

var hundred = decimal.NewFromInt(100)

// ComputeLineTotal is price × qty less the discount percentage.
func ComputeLineTotal(item SalesOrderItem) decimal.Decimal {
	gross := item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
	return gross.Sub(gross.Mul(item.DiscountPercent).Div(hundred))
}

// RecomputeOrderTotals sets the subtotal from line totals and the total from
// subtotal + tax − discount + shipping.
func RecomputeOrderTotals(order SalesOrder) SalesOrder {
	subtotal := decimal.Zero
	for _, item := range order.Items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	order.Subtotal = subtotal
	order.TotalAmount = subtotal.Add(order.TaxAmount).Sub(order.DiscountAmount).Add(order.ShippingCost)
	return order
}

// Invoice bills one sales order.
type Invoice struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	SalesOrderID   int64           `json:"sales_order_id"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentDate    *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod  PaymentMethod   `json:"payment_method,omitempty"`
	CreatedBy      int64           `json:"created_by,omitempty"`
}

// BalanceDue is total minus paid. It goes negative on overpayment.
func (inv Invoice) BalanceDue() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.AmountPaid)
}

// DerivePaymentStatus applies the three-way rule: paid once fully covered,
// partial when anything was paid, unpaid otherwise.
func DerivePaymentStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartial
	}
	return PaymentUnpaid
}

// IsOpen reports an invoice still awaiting payment.
func (inv Invoice) IsOpen() bool {
	return inv.PaymentStatus == PaymentUnpaid || inv.PaymentStatus == PaymentPartial || inv.PaymentStatus == PaymentOverdue
}

// Payment is one settlement against an invoice.
type Payment struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	PaymentDate time.Time       `json:"payment_date"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"method"`
	Reference   string          `json:"reference"`
	Notes       string          `json:"notes"`
	RecordedBy  int64           `json:"recorded_by,omitempty"`
}

// ItemInput is one requested order line. A zero UnitPrice takes the current price.
type ItemInput struct {
	ProductID       int64
	Quantity        int64
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// CreateOrderInput describes a new sales order.
type CreateOrderInput struct {
	CustomerID     int64
	OrderDate      time.Time
	RequiredDate   time.Time
	Items          []ItemInput
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Notes          string
	ActorID        int64
}

// Validate checks the order shape.
func (in CreateOrderInput) Validate() error {
	if in.CustomerID == 0 {
		return shared.Validation("sales: customer required")
	}
	return validateOrder(in.Items, in.TaxAmount, in.DiscountAmount, in.ShippingCost)
}

// UpdateOrderInput replaces the editable fields and every item of a draft order.
// A zero RequiredDate keeps the stored one.
type UpdateOrderInput struct {
	OrderID        int64
	RequiredDate   time.Time
	Items          []ItemInput
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Notes          string
	ActorID        int64
}

// Validate checks the order shape.
func (in UpdateOrderInput) Validate() error {
	if in.OrderID == 0 {
		return shared.Validation("sales: sales order required")
	}
	return validateOrder(in.Items, in.TaxAmount, in.DiscountAmount, in.ShippingCost)
}

func validateOrder(items []ItemInput, tax, discount, shipping decimal.Decimal) error {
	if len(items) == 0 {
		return shared.Validation("sales: order requires at least one item")
	}
	if tax.IsNegative() || discount.IsNegative() || shipping.IsNegative() {
		return shared.Validation("sales: order amounts must not be negative")
	}
	for _, item := range items {
		if item.ProductID == 0 {
			return shared.Validation("sales: item product required")
		}
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return shared.Validation("sales: unit price must not be negative")
		}
		if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred) {
			return ErrInvalidDiscount
		}
	}
	return nil
}

// ApplyPaymentInput records a payment against an invoice.
type ApplyPaymentInput struct {
	InvoiceID   int64
	Amount      decimal.Decimal
	Method      PaymentMethod
	Reference   string
	Notes       string
	PaymentDate time.Time
	ActorID     int64
}

// CreateCustomerInput describes a new customer.
type CreateCustomerInput struct {
	Name        string
	Email       string
	CreditLimit decimal.Decimal
}

var (
	// ErrInvalidQuantity indicates a non-positive item quantity.
	ErrInvalidQuantity = shared.Validation("sales: quantity must be a positive whole number")
	// ErrInvalidDiscount indicates a discount outside the allowed range.
	ErrInvalidDiscount = shared.Validation("sales: discount percent out of range")
	// ErrInvalidAmount indicates a non-positive payment.
	ErrInvalidAmount = shared.Validation("sales: payment amount must be positive")
	// ErrInvalidMethod indicates an unknown payment method.
	ErrInvalidMethod = shared.Validation("sales: unknown payment method")
	// ErrAlreadyInvoiced indicates a second invoice for one order.
	ErrAlreadyInvoiced = shared.Conflict("sales: sales order already invoiced")
	// ErrNotEditable indicates an edit of an order that has left draft.
	ErrNotEditable = shared.Conflict("sales: only draft sales orders can be edited")
	// ErrInvalidState indicates an order that cannot be invoiced.
	ErrInvalidState = shared.Conflict("sales: invalid sales order status")
	// ErrDuplicateEmail indicates a customer email in use.
	ErrDuplicateEmail = shared.Conflict("sales: customer email already exists")
	// ErrOrderNotFound indicates a missing sales order.
	ErrOrderNotFound = shared.NotFound("sales: sales order not found")
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = shared.NotFound("sales: invoice not found")
	// ErrCustomerNotFound indicates a missing customer.
	ErrCustomerNotFound = shared.NotFound("sales: customer not found")
	// ErrPricingNotFound indicates a product without pricing.
	ErrPricingNotFound = shared.NotFound("sales: product pricing not found")
)

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
