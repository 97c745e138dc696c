package sales

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

type memoryRepo struct {
	customers map[int64]Customer
	pricing   map[int64]ProductPricing
	orders    map[int64]SalesOrder
	invoices  map[int64]Invoice
	payments  []Payment
	sequences map[string]int
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers: map[int64]Customer{1: {ID: 1, Name: "Toko Sepatu", Email: "toko@example.com", IsActive: true}},
		pricing: map[int64]ProductPricing{
			10: {ProductID: 10, BasePrice: dec("100"), MaxDiscountPercent: dec("20")},
		},
		orders:   map[int64]SalesOrder{},
		invoices:  map[int64]Invoice{},
		sequences: map[string]int{},
		nextID:    100,
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func cloneOrders(in map[int64]SalesOrder) map[int64]SalesOrder {
	out := make(map[int64]SalesOrder, len(in))
	for k, o := range in {
		o.Items = append([]SalesOrderItem(nil), o.Items...)
		out[k] = o
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	customers := maps.Clone(r.customers)
	pricing := maps.Clone(r.pricing)
	orders := cloneOrders(r.orders)
	invoices := maps.Clone(r.invoices)
	payments := append([]Payment(nil), r.payments...)
	sequences := maps.Clone(r.sequences)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.customers, r.pricing, r.orders, r.invoices, r.payments = customers, pricing, orders, invoices, payments
		r.sequences = sequences
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (SalesOrder, error) {
	o, ok := r.orders[id]
	if !ok {
		return SalesOrder{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *memoryRepo) ListOrders(_ context.Context, status OrderStatus) ([]SalesOrder, error) {
	out := []SalesOrder{}
	for _, o := range r.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, statuses ...PaymentStatus) ([]Invoice, error) {
	out := []Invoice{}
	for _, inv := range r.invoices {
		match := len(statuses) == 0
		for _, st := range statuses {
			if inv.PaymentStatus == st {
				match = true
			}
		}
		if match {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	out := []Payment{}
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetCustomer(_ context.Context, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListCustomers(context.Context) ([]Customer, error) {
	out := []Customer{}
	for _, c := range r.customers {
		out = append(out, c)
	}
	return out, nil
}

func (r *memoryRepo) GetPricing(_ context.Context, productID int64) (ProductPricing, error) {
	p, ok := r.pricing[productID]
	if !ok {
		return ProductPricing{}, ErrPricingNotFound
	}
	return p, nil
}

func (t *memoryTx) InsertCustomer(_ context.Context, c Customer) (int64, error) {
	for _, existing := range t.repo.customers {
		if strings.EqualFold(existing.Email, c.Email) {
			return 0, ErrDuplicateEmail
		}
	}
	c.ID = t.repo.id()
	t.repo.customers[c.ID] = c
	return c.ID, nil
}

func (t *memoryTx) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return t.repo.GetCustomer(ctx, id)
}

func (t *memoryTx) UpsertPricing(_ context.Context, p ProductPricing) error {
	t.repo.pricing[p.ProductID] = p
	return nil
}

func (t *memoryTx) GetPricing(ctx context.Context, productID int64) (ProductPricing, error) {
	return t.repo.GetPricing(ctx, productID)
}

func (t *memoryTx) NextNumber(_ context.Context, prefix string) (string, error) {
	t.repo.sequences[prefix]++
	return shared.FormatDocumentNumber(prefix, t.repo.sequences[prefix]), nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o SalesOrder) (int64, error) {
	o.ID = t.repo.id()
	o.Items = nil
	t.repo.orders[o.ID] = o
	return o.ID, nil
}

func (t *memoryTx) InsertOrderItems(_ context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error) {
	o := t.repo.orders[orderID]
	out := make([]SalesOrderItem, len(items))
	for i, item := range items {
		item.ID = t.repo.id()
		out[i] = item
	}
	o.Items = append(o.Items, out...)
	t.repo.orders[orderID] = o
	return out, nil
}

func (t *memoryTx) ReplaceOrderItems(ctx context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error) {
	o := t.repo.orders[orderID]
	o.Items = nil
	t.repo.orders[orderID] = o
	return t.InsertOrderItems(ctx, orderID, items)
}

func (t *memoryTx) UpdateOrder(_ context.Context, o SalesOrder) error {
	current := t.repo.orders[o.ID]
	current.RequiredDate, current.Notes = o.RequiredDate, o.Notes
	current.Subtotal, current.TaxAmount, current.DiscountAmount = o.Subtotal, o.TaxAmount, o.DiscountAmount
	current.ShippingCost, current.TotalAmount = o.ShippingCost, o.TotalAmount
	t.repo.orders[o.ID] = current
	return nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error) {
	o, err := t.repo.GetOrder(ctx, id)
	o.Items = append([]SalesOrderItem(nil), o.Items...)
	return o, err
}

func (t *memoryTx) UpdateOrderTotals(_ context.Context, o SalesOrder) error {
	current := t.repo.orders[o.ID]
	current.Subtotal, current.TotalAmount = o.Subtotal, o.TotalAmount
	t.repo.orders[o.ID] = current
	return nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, id int64, status OrderStatus) error {
	o := t.repo.orders[id]
	o.Status = status
	t.repo.orders[id] = o
	return nil
}

func (t *memoryTx) InvoiceForOrder(_ context.Context, orderID int64) (int64, bool, error) {
	for _, inv := range t.repo.invoices {
		if inv.SalesOrderID == orderID {
			return inv.ID, true, nil
		}
	}
	return 0, false, nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice) (int64, error) {
	inv.ID = t.repo.id()
	t.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return t.repo.GetInvoice(ctx, id)
}

func (t *memoryTx) UpdateInvoicePayment(_ context.Context, inv Invoice) error {
	t.repo.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	p.ID = t.repo.id()
	t.repo.payments = append(t.repo.payments, p)
	return p.ID, nil
}

func (t *memoryTx) MarkOverdue(_ context.Context, today time.Time) (int64, error) {
	var n int64
	for id, inv := range t.repo.invoices {
		if (inv.PaymentStatus == PaymentUnpaid || inv.PaymentStatus == PaymentPartial) && inv.DueDate.Before(today) {
			inv.PaymentStatus = PaymentOverdue
			t.repo.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var fixedNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func newTestService(repo *memoryRepo) (*Service, *memoryAudit) {
	audit := &memoryAudit{}
	svc := NewService(repo, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, audit
}

func orderInput(items ...ItemInput) CreateOrderInput {
	return CreateOrderInput{CustomerID: 1, Items: items, ActorID: 7}
}

func TestComputeLineTotal(t *testing.T) {
	item := SalesOrderItem{Quantity: 3, UnitPrice: dec("150"), DiscountPercent: dec("10")}
	require.True(t, dec("405").Equal(ComputeLineTotal(item)))

	item.DiscountPercent = decimal.Zero
	require.True(t, dec("450").Equal(ComputeLineTotal(item)))
}

func TestRecomputeOrderTotals(t *testing.T) {
	order := RecomputeOrderTotals(SalesOrder{
		Items:          []SalesOrderItem{{LineTotal: dec("405")}, {LineTotal: dec("95")}},
		TaxAmount:      dec("50"),
		DiscountAmount: dec("20"),
		ShippingCost:   dec("15"),
	})
	require.True(t, dec("500").Equal(order.Subtotal))
	require.True(t, dec("545").Equal(order.TotalAmount))
}

func TestCurrentPriceHonoursSeasonalWindow(t *testing.T) {
	seasonal := dec("80")
	start, end := day(2024, 6, 1), day(2024, 6, 30)
	p := ProductPricing{BasePrice: dec("100"), SeasonalPrice: &seasonal, SeasonalStart: &start, SeasonalEnd: &end}

	require.True(t, seasonal.Equal(p.CurrentPrice(day(2024, 6, 1))))
	require.True(t, seasonal.Equal(p.CurrentPrice(time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC))))
	require.True(t, dec("100").Equal(p.CurrentPrice(day(2024, 7, 1))))
	require.True(t, dec("100").Equal(ProductPricing{BasePrice: dec("100")}.CurrentPrice(day(2024, 6, 15))))
}

func TestCreateSalesOrderPricesItems(t *testing.T) {
	repo := newMemoryRepo()
	seasonal := dec("90")
	start, end := day(2024, 6, 1), day(2024, 6, 30)
	repo.pricing[11] = ProductPricing{ProductID: 11, BasePrice: dec("120"), SeasonalPrice: &seasonal,
		SeasonalStart: &start, SeasonalEnd: &end, MaxDiscountPercent: dec("15")}
	svc, audit := newTestService(repo)

	in := orderInput(
		ItemInput{ProductID: 10, Quantity: 3, UnitPrice: dec("150"), DiscountPercent: dec("10")},
		ItemInput{ProductID: 11, Quantity: 2},
	)
	in.TaxAmount = dec("10")
	order, err := svc.CreateSalesOrder(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, "SO-20240610-0001", order.Number)
	require.Equal(t, OrderDraft, order.Status)
	require.Len(t, order.Items, 2)
	require.True(t, dec("405").Equal(order.Items[0].LineTotal))
	require.True(t, dec("90").Equal(order.Items[1].UnitPrice))
	require.True(t, dec("585").Equal(order.Subtotal))
	require.True(t, dec("595").Equal(order.TotalAmount))
	require.Len(t, repo.orders[order.ID].Items, 2)
	require.Len(t, audit.logs, 1)

	second, err := svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, "SO-20240610-0002", second.Number)
}

func TestCreateSalesOrderRejectsExcessDiscount(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 10, Quantity: 1, DiscountPercent: dec("25")}))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.orders)
}

func TestCreateSalesOrderValidation(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateSalesOrder(ctx, orderInput())
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 0}))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1, DiscountPercent: dec("101")}))
	require.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 99, Quantity: 1}))
	require.ErrorIs(t, err, ErrPricingNotFound)

	in := orderInput(ItemInput{ProductID: 10, Quantity: 1})
	in.CustomerID = 42
	_, err = svc.CreateSalesOrder(ctx, in)
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestCreateSalesOrderAcceptsExplicitPriceWithoutPricing(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	order, err := svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 77, Quantity: 2, UnitPrice: dec("50")}))
	require.NoError(t, err)
	require.True(t, dec("100").Equal(order.Items[0].LineTotal))
	require.True(t, dec("100").Equal(order.TotalAmount))

	// Without a pricing row there is no cap to enforce.
	order, err = svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 77, Quantity: 1, UnitPrice: dec("50"), DiscountPercent: dec("40")}))
	require.NoError(t, err)
	require.True(t, dec("30").Equal(order.TotalAmount))

	_, err = svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 77, Quantity: 1}))
	require.ErrorIs(t, err, ErrPricingNotFound)
}

func TestCreateSalesOrderCapsDiscountOnExplicitPrice(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateSalesOrder(context.Background(), orderInput(ItemInput{ProductID: 10, Quantity: 1, UnitPrice: dec("80"), DiscountPercent: dec("21")}))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.orders)
}

func TestUpdateSalesOrderReplacesItems(t *testing.T) {
	repo := newMemoryRepo()
	svc, audit := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(
		ItemInput{ProductID: 10, Quantity: 1},
		ItemInput{ProductID: 10, Quantity: 2},
	))
	require.NoError(t, err)
	require.True(t, dec("300").Equal(order.TotalAmount))

	updated, err := svc.UpdateSalesOrder(ctx, UpdateOrderInput{
		OrderID:      order.ID,
		Items:        []ItemInput{{ProductID: 10, Quantity: 4, DiscountPercent: dec("10")}},
		ShippingCost: dec("15"),
		Notes:        "rush",
		ActorID:      7,
	})
	require.NoError(t, err)
	require.Equal(t, order.Number, updated.Number)
	require.Len(t, updated.Items, 1)
	require.True(t, dec("360").Equal(updated.Subtotal))
	require.True(t, dec("375").Equal(updated.TotalAmount))

	stored := repo.orders[order.ID]
	require.Len(t, stored.Items, 1)
	require.True(t, dec("375").Equal(stored.TotalAmount))
	require.Equal(t, "rush", stored.Notes)
	require.Equal(t, order.RequiredDate, stored.RequiredDate)
	require.Equal(t, "sales_order.update", audit.logs[len(audit.logs)-1].Action)
}

func TestUpdateSalesOrderRequiresDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(ctx, order.ID, OrderConfirmed, 7)
	require.NoError(t, err)

	_, err = svc.UpdateSalesOrder(ctx, UpdateOrderInput{OrderID: order.ID, Items: []ItemInput{{ProductID: 10, Quantity: 9}}})
	require.ErrorIs(t, err, ErrNotEditable)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Len(t, repo.orders[order.ID].Items, 1)
	require.Equal(t, int64(1), repo.orders[order.ID].Items[0].Quantity)

	_, err = svc.UpdateSalesOrder(ctx, UpdateOrderInput{OrderID: order.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.UpdateSalesOrder(ctx, UpdateOrderInput{OrderID: 999, Items: []ItemInput{{ProductID: 10, Quantity: 1}}})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestUpdateSalesOrderRollsBackOnPricingFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.UpdateSalesOrder(ctx, UpdateOrderInput{OrderID: order.ID, Items: []ItemInput{{ProductID: 55, Quantity: 1}}})
	require.ErrorIs(t, err, ErrPricingNotFound)
	require.True(t, dec("100").Equal(repo.orders[order.ID].TotalAmount))
	require.Len(t, repo.orders[order.ID].Items, 1)
}

func TestDocumentNumbersCountPerDay(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, "SO-20240610-0001", first.Number)

	// A failed create must not burn a number.
	_, err = svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 99, Quantity: 1}))
	require.Error(t, err)

	svc.WithNow(func() time.Time { return fixedNow.AddDate(0, 0, 1) })
	next, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, "SO-20240611-0001", next.Number)
	require.Equal(t, 1, repo.sequences["SO-20240610-"])
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.UpdateOrderStatus(ctx, order.ID, OrderShipped, 7)
	require.ErrorIs(t, err, ErrInvalidState)

	for _, st := range []OrderStatus{OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered} {
		updated, err := svc.UpdateOrderStatus(ctx, order.ID, st, 7)
		require.NoError(t, err)
		require.Equal(t, st, updated.Status)
	}
	_, err = svc.UpdateOrderStatus(ctx, order.ID, OrderCancelled, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateInvoiceOncePerOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 2}))
	require.NoError(t, err)

	inv, err := svc.CreateInvoice(ctx, order.ID, day(2024, 7, 10), 7)
	require.NoError(t, err)
	require.Equal(t, "INV-20240610-0001", inv.Number)
	require.Equal(t, PaymentUnpaid, inv.PaymentStatus)
	require.True(t, order.TotalAmount.Equal(inv.TotalAmount))
	require.True(t, inv.AmountPaid.IsZero())

	_, err = svc.CreateInvoice(ctx, order.ID, day(2024, 7, 10), 7)
	require.ErrorIs(t, err, ErrAlreadyInvoiced)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Len(t, repo.invoices, 1)

	_, err = svc.CreateInvoice(ctx, order.ID, day(2024, 6, 1), 7)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateInvoiceRejectsCancelledOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(ctx, order.ID, OrderCancelled, 7)
	require.NoError(t, err)

	_, err = svc.CreateInvoice(ctx, order.ID, day(2024, 7, 1), 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func newInvoice(t *testing.T, repo *memoryRepo, svc *Service) Invoice {
	t.Helper()
	ctx := context.Background()
	order, err := svc.CreateSalesOrder(ctx, orderInput(ItemInput{ProductID: 10, Quantity: 10}))
	require.NoError(t, err)
	require.True(t, dec("1000").Equal(order.TotalAmount))
	inv, err := svc.CreateInvoice(ctx, order.ID, day(2024, 6, 20), 7)
	require.NoError(t, err)
	return inv
}

func TestApplyPaymentDerivesStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	inv := newInvoice(t, repo, svc)

	_, err := svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("400"), Method: MethodCash, ActorID: 7})
	require.NoError(t, err)
	got := repo.invoices[inv.ID]
	require.Equal(t, PaymentPartial, got.PaymentStatus)
	require.True(t, dec("600").Equal(got.BalanceDue()))

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("600"), Method: MethodBankTransfer,
		PaymentDate: day(2024, 6, 15), ActorID: 7})
	require.NoError(t, err)
	got = repo.invoices[inv.ID]
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.Equal(t, MethodBankTransfer, got.PaymentMethod)
	require.Equal(t, day(2024, 6, 15), *got.PaymentDate)

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("50"), Method: MethodCheck})
	require.NoError(t, err)
	got = repo.invoices[inv.ID]
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.True(t, dec("-50").Equal(got.BalanceDue()))

	payments, err := svc.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
}

func TestApplyPaymentRejectsInvalidInput(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	inv := newInvoice(t, repo, svc)

	_, err := svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: decimal.Zero, Method: MethodCash})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("-1"), Method: MethodCash})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("10"), Method: "barter"})
	require.ErrorIs(t, err, ErrInvalidMethod)
	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: 999, Amount: dec("10"), Method: MethodCash})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
	require.Empty(t, repo.payments)
}

func TestMarkOverdueThenPayment(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	inv := newInvoice(t, repo, svc)

	n, err := svc.MarkOverdue(ctx, day(2024, 6, 20))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.MarkOverdue(ctx, day(2024, 6, 21))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, PaymentOverdue, repo.invoices[inv.ID].PaymentStatus)

	open, err := svc.ListOpenInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{InvoiceID: inv.ID, Amount: dec("100"), Method: MethodCash})
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, repo.invoices[inv.ID].PaymentStatus)
}

func TestCreateCustomerDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, CreateCustomerInput{Name: "Pasar Baru", Email: "pasar@example.com"})
	require.NoError(t, err)
	require.True(t, c.IsActive)

	_, err = svc.CreateCustomer(ctx, CreateCustomerInput{Name: "Other", Email: "PASAR@example.com"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSetPricingValidation(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	ctx := context.Background()
	start := day(2024, 6, 1)

	_, err := svc.SetPricing(ctx, ProductPricing{ProductID: 12, BasePrice: dec("10"), MaxDiscountPercent: dec("120")})
	require.ErrorIs(t, err, ErrInvalidDiscount)
	_, err = svc.SetPricing(ctx, ProductPricing{ProductID: 12, BasePrice: dec("10"), SeasonalStart: &start})
	require.ErrorIs(t, err, shared.ErrValidation)

	p, err := svc.SetPricing(ctx, ProductPricing{ProductID: 12, BasePrice: dec("10"), MaxDiscountPercent: dec("5")})
	require.NoError(t, err)
	stored, err := svc.GetPricing(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, p, stored)
}
