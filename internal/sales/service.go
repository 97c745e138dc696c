package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort abstracts sales persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (SalesOrder, error)
	ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, statuses ...PaymentStatus) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	GetPricing(ctx context.Context, productID int64) (ProductPricing, error)
}

// TxRepository exposes writes executed within one transaction.
type TxRepository interface {
	InsertCustomer(ctx context.Context, c Customer) (int64, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	UpsertPricing(ctx context.Context, p ProductPricing) error
	GetPricing(ctx context.Context, productID int64) (ProductPricing, error)

	// NextNumber reserves the next document number under prefix.
	NextNumber(ctx context.Context, prefix string) (string, error)
	InsertOrder(ctx context.Context, o SalesOrder) (int64, error)
	InsertOrderItems(ctx context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error)
	ReplaceOrderItems(ctx context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error)
	GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error)
	UpdateOrder(ctx context.Context, o SalesOrder) error
	UpdateOrderTotals(ctx context.Context, o SalesOrder) error
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error

	InvoiceForOrder(ctx context.Context, orderID int64) (int64, bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoicePayment(ctx context.Context, inv Invoice) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)
}

// AuditPort records sales events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service settles sales orders and invoices.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events shared.EventCounter
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, events: shared.NopEvents{}, logger: logger, now: time.Now}
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

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, input CreateCustomerInput) (Customer, error) {
	if input.Name == "" || input.Email == "" {
		return Customer{}, shared.Validation("sales: customer name and email required")
	}
	if input.CreditLimit.IsNegative() {
		return Customer{}, shared.Validation("sales: credit limit must not be negative")
	}
	c := Customer{Name: input.Name, Email: input.Email, CreditLimit: input.CreditLimit, IsActive: true}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertCustomer(ctx, c)
		c.ID = id
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}

// SetPricing stores the price list of a finished product.
func (s *Service) SetPricing(ctx context.Context, p ProductPricing) (ProductPricing, error) {
	if p.ProductID == 0 {
		return ProductPricing{}, shared.Validation("sales: finished product required")
	}
	if p.BasePrice.IsNegative() || (p.SeasonalPrice != nil && p.SeasonalPrice.IsNegative()) {
		return ProductPricing{}, shared.Validation("sales: price must not be negative")
	}
	if p.MaxDiscountPercent.IsNegative() || p.MaxDiscountPercent.GreaterThan(hundred) {
		return ProductPricing{}, ErrInvalidDiscount
	}
	if (p.SeasonalStart == nil) != (p.SeasonalEnd == nil) {
		return ProductPricing{}, shared.Validation("sales: seasonal window needs both start and end")
	}
	if p.SeasonalStart != nil && p.SeasonalEnd.Before(*p.SeasonalStart) {
		return ProductPricing{}, shared.Validation("sales: seasonal end before start")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertPricing(ctx, p)
	})
	if err != nil {
		return ProductPricing{}, err
	}
	return p, nil
}

// CreateSalesOrder prices every item, stores line totals and the recomputed
// order totals in one transaction.
func (s *Service) CreateSalesOrder(ctx context.Context, input CreateOrderInput) (SalesOrder, error) {
	if err := input.Validate(); err != nil {
		return SalesOrder{}, err
	}
	now := s.now()
	order := SalesOrder{
		CustomerID:     input.CustomerID,
		Status:         OrderDraft,
		OrderDate:      dateOf(defaultTime(input.OrderDate, now)),
		RequiredDate:   dateOf(defaultTime(input.RequiredDate, now)),
		TaxAmount:      input.TaxAmount,
		DiscountAmount: input.DiscountAmount,
		ShippingCost:   input.ShippingCost,
		Notes:          input.Notes,
		CreatedBy:      input.ActorID,
	}
	if order.RequiredDate.Before(order.OrderDate) {
		return SalesOrder{}, shared.Validation("sales: required date before order date")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCustomer(ctx, input.CustomerID); err != nil {
			return err
		}
		items, err := priceItems(ctx, tx, input.Items, now)
		if err != nil {
			return err
		}
		order.Items = items
		order = RecomputeOrderTotals(order)

		order.Number, err = tx.NextNumber(ctx, shared.DocumentPrefix("SO", now))
		if err != nil {
			return err
		}
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		order.Items, err = tx.InsertOrderItems(ctx, id, order.Items)
		return err
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sales_order.create", order.ID, map[string]any{"number": order.Number, "total": order.TotalAmount.String()})
	return order, nil
}

// UpdateSalesOrder replaces the editable fields and every item of a draft
// order, repricing the items and persisting the recomputed totals in the same
// transaction.
func (s *Service) UpdateSalesOrder(ctx context.Context, input UpdateOrderInput) (SalesOrder, error) {
	if err := input.Validate(); err != nil {
		return SalesOrder{}, err
	}
	now := s.now()
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if current.Status != OrderDraft {
			return ErrNotEditable
		}
		current.RequiredDate = dateOf(defaultTime(input.RequiredDate, current.RequiredDate))
		if current.RequiredDate.Before(current.OrderDate) {
			return shared.Validation("sales: required date before order date")
		}
		current.TaxAmount = input.TaxAmount
		current.DiscountAmount = input.DiscountAmount
		current.ShippingCost = input.ShippingCost
		current.Notes = input.Notes
		if current.Items, err = priceItems(ctx, tx, input.Items, now); err != nil {
			return err
		}
		current = RecomputeOrderTotals(current)
		if current.Items, err = tx.ReplaceOrderItems(ctx, current.ID, current.Items); err != nil {
			return err
		}
		order = current
		return tx.UpdateOrder(ctx, current)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sales_order.update", order.ID, map[string]any{"number": order.Number, "total": order.TotalAmount.String()})
	return order, nil
}

// priceItems resolves unit prices and line totals. Pricing is looked up only
// when an item takes the catalogue price or asks for a discount; an explicit
// price for a product without pricing is accepted without a discount cap.
func priceItems(ctx context.Context, tx TxRepository, inputs []ItemInput, now time.Time) ([]SalesOrderItem, error) {
	items := make([]SalesOrderItem, 0, len(inputs))
	for _, in := range inputs {
		item := SalesOrderItem{
			ProductID:       in.ProductID,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
		}
		if item.UnitPrice.IsZero() || item.DiscountPercent.IsPositive() {
			pricing, err := tx.GetPricing(ctx, in.ProductID)
			switch {
			case errors.Is(err, ErrPricingNotFound) && !item.UnitPrice.IsZero():
			case err != nil:
				return nil, err
			default:
				if item.DiscountPercent.GreaterThan(pricing.MaxDiscountPercent) {
					return nil, shared.Validation(fmt.Sprintf("sales: discount %s%% exceeds maximum %s%% for product %d",
						in.DiscountPercent, pricing.MaxDiscountPercent, in.ProductID))
				}
				if item.UnitPrice.IsZero() {
					item.UnitPrice = pricing.CurrentPrice(now)
				}
			}
		}
		item.LineTotal = ComputeLineTotal(item)
		items = append(items, item)
	}
	return items, nil
}

// RecomputeOrderTotals recomputes and persists an order's totals from its items.
func (s *Service) RecomputeOrderTotals(ctx context.Context, orderID int64) (SalesOrder, error) {
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = RecomputeOrderTotals(current)
		return tx.UpdateOrderTotals(ctx, order)
	})
	return order, err
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:      {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

// UpdateOrderStatus moves an order one step along its lifecycle.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, next OrderStatus, actorID int64) (SalesOrder, error) {
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range orderTransitions[current.Status] {
			if st == next {
				allowed = true
			}
		}
		if !allowed {
			return ErrInvalidState
		}
		current.Status = next
		order = current
		return tx.UpdateOrderStatus(ctx, orderID, next)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, actorID, "sales_order.status", orderID, map[string]any{"status": string(next)})
	return order, nil
}

// CreateInvoice bills an order once, copying its money fields.
func (s *Service) CreateInvoice(ctx context.Context, orderID int64, dueDate time.Time, actorID int64) (Invoice, error) {
	now := s.now()
	inv := Invoice{
		SalesOrderID:  orderID,
		InvoiceDate:   dateOf(now),
		DueDate:       dateOf(dueDate),
		AmountPaid:    decimal.Zero,
		PaymentStatus: PaymentUnpaid,
		CreatedBy:     actorID,
	}
	if dueDate.IsZero() {
		return Invoice{}, shared.Validation("sales: due date required")
	}
	if inv.DueDate.Before(inv.InvoiceDate) {
		return Invoice{}, shared.Validation("sales: due date before invoice date")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == OrderCancelled {
			return ErrInvalidState
		}
		if _, exists, err := tx.InvoiceForOrder(ctx, orderID); err != nil {
			return err
		} else if exists {
			return ErrAlreadyInvoiced
		}
		inv.Subtotal = order.Subtotal
		inv.TaxAmount = order.TaxAmount
		inv.DiscountAmount = order.DiscountAmount
		inv.ShippingCost = order.ShippingCost
		inv.TotalAmount = order.TotalAmount

		inv.Number, err = tx.NextNumber(ctx, shared.DocumentPrefix("INV", now))
		if err != nil {
			return err
		}
		inv.ID, err = tx.InsertInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actorID, "invoice.create", inv.ID, map[string]any{"number": inv.Number, "order_id": orderID})
	return inv, nil
}

// ApplyPayment records a payment and re-derives the invoice's payment status.
// Overpayment is accepted and reported as paid.
func (s *Service) ApplyPayment(ctx context.Context, input ApplyPaymentInput) (Payment, error) {
	if !input.Amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	if !input.Method.Valid() {
		return Payment{}, ErrInvalidMethod
	}
	payment := Payment{
		InvoiceID:   input.InvoiceID,
		PaymentDate: dateOf(defaultTime(input.PaymentDate, s.now())),
		Amount:      input.Amount,
		Method:      input.Method,
		Reference:   input.Reference,
		Notes:       input.Notes,
		RecordedBy:  input.ActorID,
	}
	var status PaymentStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		inv.AmountPaid = inv.AmountPaid.Add(input.Amount)
		inv.PaymentStatus = DerivePaymentStatus(inv.TotalAmount, inv.AmountPaid)
		inv.PaymentMethod = payment.Method
		inv.PaymentDate = &payment.PaymentDate
		status = inv.PaymentStatus
		return tx.UpdateInvoicePayment(ctx, inv)
	})
	if err != nil {
		return Payment{}, err
	}
	s.events.IncDomainEvent("sales", "payment_applied")
	s.recordAudit(ctx, input.ActorID, "invoice.payment", input.InvoiceID, map[string]any{
		"amount": input.Amount.String(),
		"method": string(input.Method),
		"status": string(status),
	})
	return payment, nil
}

// MarkOverdue flips unpaid or partial invoices past their due date to overdue.
func (s *Service) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	var n int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		n, err = tx.MarkOverdue(ctx, dateOf(today))
		return err
	})
	return n, err
}

// ListOpenInvoices lists unpaid, partial and overdue invoices.
func (s *Service) ListOpenInvoices(ctx context.Context) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, PaymentUnpaid, PaymentPartial, PaymentOverdue)
}

// ListInvoices lists invoices, optionally by payment status.
func (s *Service) ListInvoices(ctx context.Context, statuses ...PaymentStatus) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, statuses...)
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListPayments lists payments of an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// GetOrder loads a sales order with items.
func (s *Service) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders lists sales orders, optionally by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error) {
	return s.repo.ListOrders(ctx, status)
}

// GetCustomer loads one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers lists customers by name.
func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// GetPricing loads the price list of a product.
func (s *Service) GetPricing(ctx context.Context, productID int64) (ProductPricing, error) {
	return s.repo.GetPricing(ctx, productID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sales", EntityID: fmt.Sprintf("%d", entityID), Meta: meta, At: s.now()}); err != nil {
		s.logger.WarnContext(ctx, "sales audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
