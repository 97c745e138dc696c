package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	db shared.DBTX
}

// NewTxRepository binds inventory writes to a transaction opened elsewhere.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{db: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func table(ref MaterialRef) string {
	return Match(ref,
		func(int64) string { return "raw_materials" },
		func(int64) string { return "finished_products" })
}

const rawSelect = `SELECT id, code, name, unit, current_stock, minimum_stock, maximum_stock, unit_price, is_active, updated_at FROM raw_materials`

const finishedSelect = `SELECT id, code, name, size, color, current_stock::numeric, minimum_stock::numeric, maximum_stock::numeric, unit_price, is_active, updated_at FROM finished_products`

func scanRaw(row pgx.Row) (Material, error) {
	var m Material
	var id int64
	var unit string
	if err := row.Scan(&id, &m.Code, &m.Name, &unit, &m.CurrentStock, &m.MinimumStock, &m.MaximumStock, &m.UnitPrice, &m.IsActive, &m.UpdatedAt); err != nil {
		return Material{}, notFound(err)
	}
	m.Ref = RawMaterial(id)
	m.Unit = Unit(unit)
	return m, nil
}

func scanFinished(row pgx.Row) (Material, error) {
	var m Material
	var id int64
	var color string
	if err := row.Scan(&id, &m.Code, &m.Name, &m.Size, &color, &m.CurrentStock, &m.MinimumStock, &m.MaximumStock, &m.UnitPrice, &m.IsActive, &m.UpdatedAt); err != nil {
		return Material{}, notFound(err)
	}
	m.Ref = FinishedProduct(id)
	m.Color = Color(color)
	return m, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMaterialNotFound
	}
	return err
}

func getMaterial(ctx context.Context, db shared.DBTX, ref MaterialRef, lock bool) (Material, error) {
	suffix := " WHERE id=$1"
	if lock {
		suffix += " FOR UPDATE"
	}
	switch ref.Kind() {
	case KindRawMaterial:
		return scanRaw(db.QueryRow(ctx, rawSelect+suffix, ref.ID()))
	case KindFinishedProduct:
		return scanFinished(db.QueryRow(ctx, finishedSelect+suffix, ref.ID()))
	}
	return Material{}, ErrMaterialRequired
}

func listMaterials(ctx context.Context, db shared.DBTX, kind MaterialKind) ([]Material, error) {
	out := []Material{}
	if kind == "" || kind == KindRawMaterial {
		rows, err := db.Query(ctx, rawSelect+` ORDER BY code`)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanRaw(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	if kind == "" || kind == KindFinishedProduct {
		rows, err := db.Query(ctx, finishedSelect+` ORDER BY code`)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanFinished(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) GetMaterial(ctx context.Context, ref MaterialRef) (Material, error) {
	return getMaterial(ctx, r.pool, ref, false)
}

func (r *Repository) ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error) {
	return listMaterials(ctx, r.pool, kind)
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var rawID, finishedID any
	if filter.Material != nil {
		rawID, finishedID = refColumns(*filter.Material)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tx_type, raw_material_id, finished_product_id, material_name, quantity, unit_price, total_value, reference, notes, COALESCE(warehouse_id, 0), COALESCE(created_by, 0), created_at
FROM inventory_transactions
WHERE ($1::bigint IS NULL OR raw_material_id = $1)
  AND ($2::bigint IS NULL OR finished_product_id = $2)
  AND created_at BETWEEN COALESCE($3, '-infinity'::timestamptz) AND COALESCE($4, 'infinity'::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT $5`, rawID, finishedID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InventoryTransaction{}
	for rows.Next() {
		var rec InventoryTransaction
		var typ string
		var raw, finished *int64
		if err := rows.Scan(&rec.ID, &typ, &raw, &finished, &rec.MaterialName, &rec.Quantity, &rec.UnitPrice, &rec.TotalValue, &rec.Reference, &rec.Notes, &rec.WarehouseID, &rec.CreatedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = TransactionType(typ)
		rec.Material = refFromColumns(raw, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Warehouse{}
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsActive); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) ListOpenAlerts(ctx context.Context) ([]StockAlert, error) {
	return listOpenAlerts(ctx, r.pool)
}

func listOpenAlerts(ctx context.Context, db shared.DBTX) ([]StockAlert, error) {
	rows, err := db.Query(ctx, `SELECT id, alert_type, raw_material_id, finished_product_id, message, created_at
FROM stock_alerts WHERE NOT is_resolved ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StockAlert{}
	for rows.Next() {
		var a StockAlert
		var typ string
		var raw, finished *int64
		if err := rows.Scan(&a.ID, &typ, &raw, &finished, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = AlertType(typ)
		a.Material = refFromColumns(raw, finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) GetMaterialForUpdate(ctx context.Context, ref MaterialRef) (Material, error) {
	return getMaterial(ctx, r.db, ref, true)
}

func (r *txRepository) UpdateStock(ctx context.Context, ref MaterialRef, stock decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET current_stock=$2::numeric, updated_at=NOW() WHERE id=$1`, table(ref)), ref.ID(), stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

func (r *txRepository) UpdateUnitPrice(ctx context.Context, ref MaterialRef, price decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET unit_price=$2, updated_at=NOW() WHERE id=$1`, table(ref)), ref.ID(), price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

func (r *txRepository) InsertMaterial(ctx context.Context, m Material) (int64, error) {
	var id int64
	var err error
	switch m.Ref.Kind() {
	case KindRawMaterial:
		err = r.db.QueryRow(ctx, `INSERT INTO raw_materials (code, name, unit, current_stock, minimum_stock, maximum_stock, unit_price, is_active, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,$7,NOW()) RETURNING id`, m.Code, m.Name, string(m.Unit), m.MinimumStock, m.MaximumStock, m.UnitPrice, m.IsActive).Scan(&id)
	case KindFinishedProduct:
		err = r.db.QueryRow(ctx, `INSERT INTO finished_products (code, name, size, color, current_stock, minimum_stock, maximum_stock, unit_price, is_active, updated_at)
VALUES ($1,$2,$3,$4,0,$5::numeric,$6::numeric,$7,$8,NOW()) RETURNING id`, m.Code, m.Name, m.Size, string(m.Color), m.MinimumStock, m.MaximumStock, m.UnitPrice, m.IsActive).Scan(&id)
	default:
		return 0, ErrMaterialRequired
	}
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateCode
	}
	return id, err
}

func (r *txRepository) InsertTransaction(ctx context.Context, rec InventoryTransaction) (int64, error) {
	rawID, finishedID := refColumns(rec.Material)
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_transactions (tx_type, raw_material_id, finished_product_id, quantity, unit_price, total_value, material_name, reference, notes, warehouse_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		string(rec.Type), rawID, finishedID, rec.Quantity, rec.UnitPrice, rec.TotalValue, rec.MaterialName, rec.Reference, rec.Notes, nullInt(rec.WarehouseID), nullInt(rec.CreatedBy), rec.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.db.QueryRow(ctx, `SELECT id, code, name, is_active FROM warehouses WHERE id=$1`, id).Scan(&w.ID, &w.Code, &w.Name, &w.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, err
}

func (r *txRepository) ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error) {
	return listMaterials(ctx, r.db, kind)
}

func (r *txRepository) ListOpenAlerts(ctx context.Context) ([]StockAlert, error) {
	return listOpenAlerts(ctx, r.db)
}

func (r *txRepository) InsertAlert(ctx context.Context, a StockAlert) (int64, error) {
	rawID, finishedID := refColumns(a.Material)
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO stock_alerts (alert_type, raw_material_id, finished_product_id, message, is_resolved, created_at)
VALUES ($1,$2,$3,$4,FALSE,$5) RETURNING id`, string(a.Type), rawID, finishedID, a.Message, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) ResolveAlert(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE stock_alerts SET is_resolved=TRUE, resolved_at=$2 WHERE id=$1 AND NOT is_resolved`, id, at)
	return err
}

func refColumns(ref MaterialRef) (rawID, finishedID any) {
	switch ref.Kind() {
	case KindRawMaterial:
		return ref.ID(), nil
	case KindFinishedProduct:
		return nil, ref.ID()
	}
	return nil, nil
}

func refFromColumns(raw, finished *int64) MaterialRef {
	if raw != nil {
		return RawMaterial(*raw)
	}
	if finished != nil {
		return FinishedProduct(*finished)
	}
	return MaterialRef{}
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
