package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository persists sales data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderSelect = `SELECT id, number, customer_id, status, order_date, required_date, subtotal, tax_amount,
discount_amount, shipping_cost, total_amount, notes, COALESCE(created_by, 0) FROM sales_orders`

const invoiceSelect = `SELECT id, number, sales_order_id, invoice_date, due_date, subtotal, tax_amount, discount_amount,
shipping_cost, total_amount, amount_paid, payment_status, payment_date, payment_method, COALESCE(created_by, 0) FROM invoices`

const pricingSelect = `SELECT finished_product_id, base_price, seasonal_price, seasonal_start, seasonal_end, max_discount_percent FROM product_pricing`

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var status string
	if err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &status, &o.OrderDate, &o.RequiredDate, &o.Subtotal, &o.TaxAmount,
		&o.DiscountAmount, &o.ShippingCost, &o.TotalAmount, &o.Notes, &o.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, ErrOrderNotFound
		}
		return SalesOrder{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status, method string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.SalesOrderID, &inv.InvoiceDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount,
		&inv.DiscountAmount, &inv.ShippingCost, &inv.TotalAmount, &inv.AmountPaid, &status, &inv.PaymentDate, &method, &inv.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	inv.PaymentStatus = PaymentStatus(status)
	inv.PaymentMethod = PaymentMethod(method)
	return inv, nil
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CreditLimit, &c.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func getPricing(ctx context.Context, q shared.DBTX, productID int64) (ProductPricing, error) {
	var p ProductPricing
	err := q.QueryRow(ctx, pricingSelect+` WHERE finished_product_id=$1`, productID).
		Scan(&p.ProductID, &p.BasePrice, &p.SeasonalPrice, &p.SeasonalStart, &p.SeasonalEnd, &p.MaxDiscountPercent)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductPricing{}, ErrPricingNotFound
	}
	return p, err
}

func loadOrder(ctx context.Context, q shared.DBTX, id int64, lock bool) (SalesOrder, error) {
	query := orderSelect + ` WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		return SalesOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, finished_product_id, quantity, unit_price, discount_percent, line_total
FROM sales_order_items WHERE sales_order_id=$1 ORDER BY id`, id)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SalesOrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.DiscountPercent, &item.LineTotal); err != nil {
			return SalesOrder{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// GetOrder loads a sales order with items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.pool, id, false)
}

// ListOrders lists orders newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error) {
	rows, err := r.pool.Query(ctx, orderSelect+` WHERE ($1 = '' OR status = $1) ORDER BY order_date DESC, id DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SalesOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetInvoice loads one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, invoiceSelect+` WHERE id=$1`, id))
}

// ListInvoices lists invoices by due date, restricted to statuses when given.
func (r *Repository) ListInvoices(ctx context.Context, statuses ...PaymentStatus) ([]Invoice, error) {
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := r.pool.Query(ctx, invoiceSelect+` WHERE (cardinality($1::text[]) = 0 OR payment_status = ANY($1)) ORDER BY due_date, id`, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListPayments lists payments of an invoice in date order.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, payment_date, amount, method, reference, notes, COALESCE(recorded_by, 0)
FROM payments WHERE invoice_id=$1 ORDER BY payment_date, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		var p Payment
		var method string
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.PaymentDate, &p.Amount, &method, &p.Reference, &p.Notes, &p.RecordedBy); err != nil {
			return nil, err
		}
		p.Method = PaymentMethod(method)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetCustomer loads one customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT id, name, email, credit_limit, is_active FROM customers WHERE id=$1`, id))
}

// ListCustomers lists customers by name.
func (r *Repository) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, credit_limit, is_active FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPricing loads the price list of a product.
func (r *Repository) GetPricing(ctx context.Context, productID int64) (ProductPricing, error) {
	return getPricing(ctx, r.pool, productID)
}

func (r *txRepository) InsertCustomer(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO customers (name, email, credit_limit, is_active) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Name, c.Email, c.CreditLimit, c.IsActive).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateEmail
	}
	return id, err
}

func (r *txRepository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.tx.QueryRow(ctx, `SELECT id, name, email, credit_limit, is_active FROM customers WHERE id=$1`, id))
}

func (r *txRepository) UpsertPricing(ctx context.Context, p ProductPricing) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO product_pricing (finished_product_id, base_price, seasonal_price, seasonal_start, seasonal_end, max_discount_percent)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (finished_product_id) DO UPDATE SET base_price=EXCLUDED.base_price, seasonal_price=EXCLUDED.seasonal_price,
seasonal_start=EXCLUDED.seasonal_start, seasonal_end=EXCLUDED.seasonal_end, max_discount_percent=EXCLUDED.max_discount_percent`,
		p.ProductID, p.BasePrice, p.SeasonalPrice, p.SeasonalStart, p.SeasonalEnd, p.MaxDiscountPercent)
	return err
}

func (r *txRepository) GetPricing(ctx context.Context, productID int64) (ProductPricing, error) {
	return getPricing(ctx, r.tx, productID)
}

func (r *txRepository) NextNumber(ctx context.Context, prefix string) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, prefix)
}

func (r *txRepository) InsertOrder(ctx context.Context, o SalesOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_orders (number, customer_id, status, order_date, required_date, subtotal, tax_amount,
discount_amount, shipping_cost, total_amount, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		o.Number, o.CustomerID, string(o.Status), o.OrderDate, o.RequiredDate, o.Subtotal, o.TaxAmount,
		o.DiscountAmount, o.ShippingCost, o.TotalAmount, o.Notes, nullInt(o.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertOrderItems(ctx context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO sales_order_items (sales_order_id, finished_product_id, quantity, unit_price, discount_percent, line_total)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, orderID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountPercent, item.LineTotal)
	}
	br := r.tx.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]SalesOrderItem, len(items))
	for i, item := range items {
		if err := br.QueryRow().Scan(&item.ID); err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

func (r *txRepository) ReplaceOrderItems(ctx context.Context, orderID int64, items []SalesOrderItem) ([]SalesOrderItem, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sales_order_items WHERE sales_order_id=$1`, orderID); err != nil {
		return nil, err
	}
	return r.InsertOrderItems(ctx, orderID, items)
}

func (r *txRepository) UpdateOrder(ctx context.Context, o SalesOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_orders SET required_date=$2, subtotal=$3, tax_amount=$4, discount_amount=$5,
shipping_cost=$6, total_amount=$7, notes=$8 WHERE id=$1`,
		o.ID, o.RequiredDate, o.Subtotal, o.TaxAmount, o.DiscountAmount, o.ShippingCost, o.TotalAmount, o.Notes)
	return err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateOrderTotals(ctx context.Context, o SalesOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_orders SET subtotal=$2, total_amount=$3 WHERE id=$1`, o.ID, o.Subtotal, o.TotalAmount)
	return err
}

func (r *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) InvoiceForOrder(ctx context.Context, orderID int64) (int64, bool, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM invoices WHERE sales_order_id=$1`, orderID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (number, sales_order_id, invoice_date, due_date, subtotal, tax_amount, discount_amount,
shipping_cost, total_amount, amount_paid, payment_status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		inv.Number, inv.SalesOrderID, inv.InvoiceDate, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount,
		inv.ShippingCost, inv.TotalAmount, inv.AmountPaid, string(inv.PaymentStatus), nullInt(inv.CreatedBy)).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrAlreadyInvoiced
	}
	return id, err
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, invoiceSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, inv Invoice) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET amount_paid=$2, payment_status=$3, payment_method=$4, payment_date=$5 WHERE id=$1`,
		inv.ID, inv.AmountPaid, string(inv.PaymentStatus), string(inv.PaymentMethod), inv.PaymentDate)
	return err
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, payment_date, amount, method, reference, notes, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.InvoiceID, p.PaymentDate, p.Amount, string(p.Method), p.Reference, p.Notes, nullInt(p.RecordedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET payment_status='overdue' WHERE payment_status IN ('unpaid','partial') AND due_date < $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
