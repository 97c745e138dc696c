package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository persists procurement data in PostgreSQL.
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
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const poSelect = `SELECT id, number, vendor_id, status, order_date, expected_date, actual_delivery_date,
total_amount, notes, approved_by, approved_at, COALESCE(created_by, 0) FROM purchase_orders`

const vendorSelect = `SELECT id, code, name, quality_rating, total_orders, on_time_deliveries, is_active FROM vendors`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	if err := row.Scan(&v.ID, &v.Code, &v.Name, &v.QualityRating, &v.TotalOrders, &v.OnTimeDeliveries, &v.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	if err := row.Scan(&po.ID, &po.Number, &po.VendorID, &status, &po.OrderDate, &po.ExpectedDate, &po.ActualDeliveryDate,
		&po.TotalAmount, &po.Notes, &po.ApprovedBy, &po.ApprovedAt, &po.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	return po, nil
}

func loadPO(ctx context.Context, q shared.DBTX, id int64, lock bool) (PurchaseOrder, error) {
	query := poSelect + ` WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, query, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	lineQuery := `SELECT id, purchase_order_id, material_name, description, raw_material_id, quantity, unit_price, received_quantity
FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`
	if lock {
		lineQuery += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, lineQuery, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.MaterialName, &l.Description, &l.MaterialID, &l.Quantity, &l.UnitPrice, &l.ReceivedQuantity); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, l)
	}
	return po, rows.Err()
}

func loadReceipt(ctx context.Context, q shared.DBTX, id int64, lock bool) (GoodsReceipt, error) {
	query := `SELECT id, number, purchase_order_id, received_date, total_received_value, notes, COALESCE(received_by, 0)
FROM goods_receipts WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var gr GoodsReceipt
	if err := q.QueryRow(ctx, query, id).Scan(&gr.ID, &gr.Number, &gr.POID, &gr.ReceivedDate, &gr.TotalReceivedValue, &gr.Notes, &gr.ReceivedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrReceiptNotFound
		}
		return GoodsReceipt{}, err
	}
	rows, err := q.Query(ctx, `SELECT l.id, l.purchase_order_line_id, pl.raw_material_id, l.received_quantity, l.unit_price, l.quality_status, l.notes
FROM goods_receipt_lines l JOIN purchase_order_lines pl ON pl.id = l.purchase_order_line_id
WHERE l.goods_receipt_id=$1 ORDER BY l.id`, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReceiptLine
		var quality string
		if err := rows.Scan(&l.ID, &l.POLineID, &l.MaterialID, &l.ReceivedQuantity, &l.UnitPrice, &quality, &l.Notes); err != nil {
			return GoodsReceipt{}, err
		}
		l.QualityStatus = QualityStatus(quality)
		gr.Lines = append(gr.Lines, l)
	}
	return gr, rows.Err()
}

// GetPO loads an order with its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, id, false)
}

// ListPOs lists orders newest first, optionally filtered by status.
func (r *Repository) ListPOs(ctx context.Context, status POStatus) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, poSelect+` WHERE ($1 = '' OR status = $1) ORDER BY order_date DESC, id DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadReceipt(ctx, r.pool, id, false)
}

// GetVendor loads one vendor.
func (r *Repository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return scanVendor(r.pool.QueryRow(ctx, vendorSelect+` WHERE id=$1`, id))
}

// ListVendors lists vendors ordered by code.
func (r *Repository) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := r.pool.Query(ctx, vendorSelect+` ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Vendor{}
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *txRepository) Stock() StockMover {
	return inventory.NewMover(inventory.NewTxRepository(r.tx), nil)
}

func (r *txRepository) InsertVendor(ctx context.Context, v Vendor) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendors (code, name, quality_rating, is_active) VALUES ($1, $2, $3, $4) RETURNING id`,
		v.Code, v.Name, v.QualityRating, v.IsActive).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateCode
	}
	return id, err
}

func (r *txRepository) GetVendorForUpdate(ctx context.Context, id int64) (Vendor, error) {
	return scanVendor(r.tx.QueryRow(ctx, vendorSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateVendorStats(ctx context.Context, v Vendor) error {
	_, err := r.tx.Exec(ctx, `UPDATE vendors SET total_orders=$2, on_time_deliveries=$3 WHERE id=$1`, v.ID, v.TotalOrders, v.OnTimeDeliveries)
	return err
}

func (r *txRepository) NextNumber(ctx context.Context, prefix string) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, prefix)
}

func (r *txRepository) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, vendor_id, status, order_date, expected_date, total_amount, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		po.Number, po.VendorID, string(po.Status), po.OrderDate, po.ExpectedDate, po.TotalAmount, po.Notes, nullInt(po.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertPOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error) {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO purchase_order_lines (purchase_order_id, material_name, description, raw_material_id, quantity, unit_price, received_quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, poID, l.MaterialName, l.Description, l.MaterialID, l.Quantity, l.UnitPrice, l.ReceivedQuantity)
	}
	br := r.tx.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]POLine, len(lines))
	for i, l := range lines {
		if err := br.QueryRow().Scan(&l.ID); err != nil {
			return nil, err
		}
		l.POID = poID
		out[i] = l
	}
	return out, nil
}

func (r *txRepository) ReplacePOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE purchase_order_id=$1`, poID); err != nil {
		return nil, err
	}
	return r.InsertPOLines(ctx, poID, lines)
}

func (r *txRepository) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET vendor_id=$2, expected_date=$3, notes=$4, total_amount=$5 WHERE id=$1`,
		po.ID, po.VendorID, po.ExpectedDate, po.Notes, po.TotalAmount)
	return err
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.tx, id, true)
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) SetPOApproval(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, actorID, at)
	return err
}

func (r *txRepository) SetPODelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET actual_delivery_date=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepository) UpdatePOTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET total_amount=$2 WHERE id=$1`, id, total)
	return err
}

func (r *txRepository) AddReceivedQuantity(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_quantity = received_quantity + $2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownLine
	}
	return nil
}

func (r *txRepository) InsertReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, purchase_order_id, received_date, total_received_value, notes, received_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		gr.Number, gr.POID, gr.ReceivedDate, gr.TotalReceivedValue, gr.Notes, nullInt(gr.ReceivedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO goods_receipt_lines (goods_receipt_id, purchase_order_line_id, received_quantity, unit_price, quality_status, notes)
VALUES ($1, $2, $3, $4, $5, $6)`, receiptID, l.POLineID, l.ReceivedQuantity, l.UnitPrice, string(l.QualityStatus), l.Notes)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	return loadReceipt(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateReceiptTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET total_received_value=$2 WHERE id=$1`, id, total)
	return err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
