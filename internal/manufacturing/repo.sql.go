package manufacturing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository persists manufacturing data in PostgreSQL.
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
		return errors.New("manufacturing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const orderSelect = `SELECT id, number, finished_product_id, quantity, status, priority, notes,
planned_start, planned_end, actual_start, actual_end, approved_by, approved_at, COALESCE(created_by, 0)
FROM production_orders`

const workOrderSelect = `SELECT id, number, production_order_id, stage, quantity, status, planned_start, planned_end,
actual_start, actual_end, notes, progress_percentage FROM work_orders`

const bomSelect = `SELECT id, finished_product_id, version, is_active, labor_cost, overhead_cost, total_cost, updated_at FROM boms`

func scanOrder(row pgx.Row) (ProductionOrder, error) {
	var o ProductionOrder
	var status, priority string
	if err := row.Scan(&o.ID, &o.Number, &o.ProductID, &o.Quantity, &status, &priority, &o.Notes,
		&o.PlannedStart, &o.PlannedEnd, &o.ActualStart, &o.ActualEnd, &o.ApprovedBy, &o.ApprovedAt, &o.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, ErrOrderNotFound
		}
		return ProductionOrder{}, err
	}
	o.Status = OrderStatus(status)
	o.Priority = Priority(priority)
	return o, nil
}

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	var stage, status string
	if err := row.Scan(&wo.ID, &wo.Number, &wo.ProductionOrderID, &stage, &wo.Quantity, &status, &wo.PlannedStart, &wo.PlannedEnd,
		&wo.ActualStart, &wo.ActualEnd, &wo.Notes, &wo.ProgressPercentage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrWorkOrderNotFound
		}
		return WorkOrder{}, err
	}
	wo.Stage = Stage(stage)
	wo.Status = WorkOrderStatus(status)
	return wo, nil
}

func listWorkOrders(ctx context.Context, db shared.DBTX, orderID int64, lock bool) ([]WorkOrder, error) {
	query := workOrderSelect + ` WHERE production_order_id=$1 ORDER BY planned_start, id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := db.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WorkOrder{}
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func loadBOM(ctx context.Context, db shared.DBTX, where string, arg int64, lock bool) (BOM, error) {
	query := bomSelect + ` WHERE ` + where + `=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var b BOM
	if err := db.QueryRow(ctx, query, arg).Scan(&b.ID, &b.ProductID, &b.Version, &b.IsActive, &b.LaborCost, &b.OverheadCost, &b.TotalCost, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, ErrBOMNotFound
		}
		return BOM{}, err
	}
	rows, err := db.Query(ctx, `SELECT id, bom_id, raw_material_id, quantity, unit_cost, allocated_stages FROM bom_items WHERE bom_id=$1 ORDER BY id`, b.ID)
	if err != nil {
		return BOM{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return BOM{}, err
		}
		b.Items = append(b.Items, item)
	}
	return b, rows.Err()
}

func scanItem(row pgx.Row) (BOMItem, error) {
	var item BOMItem
	var stages []string
	if err := row.Scan(&item.ID, &item.BOMID, &item.MaterialID, &item.Quantity, &item.UnitCost, &stages); err != nil {
		return BOMItem{}, err
	}
	for _, st := range stages {
		item.AllocatedStages = append(item.AllocatedStages, Stage(st))
	}
	return item, nil
}

// GetOrder loads one production order.
func (r *Repository) GetOrder(ctx context.Context, id int64) (ProductionOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, orderSelect+` WHERE id=$1`, id))
}

// ListOrders lists orders newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]ProductionOrder, error) {
	rows, err := r.pool.Query(ctx, orderSelect+` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ProductionOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListWorkOrders lists work orders of a production order by planned start.
func (r *Repository) ListWorkOrders(ctx context.Context, orderID int64) ([]WorkOrder, error) {
	return listWorkOrders(ctx, r.pool, orderID, false)
}

// GetBOM loads a BOM with its items.
func (r *Repository) GetBOM(ctx context.Context, id int64) (BOM, error) {
	return loadBOM(ctx, r.pool, "id", id, false)
}

// GetBOMByProduct loads the BOM of a finished product.
func (r *Repository) GetBOMByProduct(ctx context.Context, productID int64) (BOM, error) {
	return loadBOM(ctx, r.pool, "finished_product_id", productID, false)
}

// ListActiveBOMIDs lists the ids of active BOMs.
func (r *Repository) ListActiveBOMIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM boms WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListConsumptions lists consumption rows of a work order.
func (r *Repository) ListConsumptions(ctx context.Context, workOrderID int64) ([]MaterialConsumption, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, work_order_id, raw_material_id, planned_quantity, actual_quantity, notes, COALESCE(recorded_by, 0), recorded_at
FROM material_consumptions WHERE work_order_id=$1 ORDER BY recorded_at, id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MaterialConsumption{}
	for rows.Next() {
		var c MaterialConsumption
		if err := rows.Scan(&c.ID, &c.WorkOrderID, &c.MaterialID, &c.PlannedQuantity, &c.ActualQuantity, &c.Notes, &c.RecordedBy, &c.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) Stock() StockConsumer {
	return inventory.NewMover(inventory.NewTxRepository(r.tx), nil)
}

func (r *txRepository) InsertOrder(ctx context.Context, o ProductionOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO production_orders (number, finished_product_id, quantity, status, priority, notes, planned_start, planned_end, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		o.Number, o.ProductID, o.Quantity, string(o.Status), string(o.Priority), o.Notes, o.PlannedStart, o.PlannedEnd, nullInt(o.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (ProductionOrder, error) {
	return scanOrder(r.tx.QueryRow(ctx, orderSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) SetOrderApproval(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_orders SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, actorID, at)
	return err
}

func (r *txRepository) SetOrderActualStart(ctx context.Context, id int64, day time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_orders SET actual_start=$2 WHERE id=$1`, id, day)
	return err
}

func (r *txRepository) SetOrderActualEnd(ctx context.Context, id int64, day time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_orders SET actual_end=$2 WHERE id=$1`, id, day)
	return err
}

func (r *txRepository) UpsertBOM(ctx context.Context, b BOM) (BOM, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO boms (finished_product_id, version, is_active, labor_cost, overhead_cost, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (finished_product_id) DO UPDATE SET version=EXCLUDED.version, labor_cost=EXCLUDED.labor_cost,
overhead_cost=EXCLUDED.overhead_cost, updated_at=EXCLUDED.updated_at
RETURNING id, total_cost`, b.ProductID, b.Version, b.IsActive, b.LaborCost, b.OverheadCost, b.UpdatedAt).Scan(&b.ID, &b.TotalCost)
	return b, err
}

func (r *txRepository) GetBOMForUpdate(ctx context.Context, id int64) (BOM, error) {
	return loadBOM(ctx, r.tx, "id", id, true)
}

func (r *txRepository) UpsertBOMItem(ctx context.Context, item BOMItem) (BOMItem, error) {
	stages := make([]string, 0, len(item.AllocatedStages))
	for _, st := range item.AllocatedStages {
		stages = append(stages, string(st))
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO bom_items (bom_id, raw_material_id, quantity, unit_cost, allocated_stages)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (bom_id, raw_material_id) DO UPDATE SET quantity=EXCLUDED.quantity, unit_cost=EXCLUDED.unit_cost,
allocated_stages=EXCLUDED.allocated_stages
RETURNING id`, item.BOMID, item.MaterialID, item.Quantity, item.UnitCost, stages).Scan(&item.ID)
	return item, err
}

func (r *txRepository) UpdateBOMTotal(ctx context.Context, id int64, total decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE boms SET total_cost=$2, updated_at=$3 WHERE id=$1`, id, total, at)
	return err
}

func (r *txRepository) MaterialPrice(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT unit_price FROM raw_materials WHERE id=$1`, materialID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrMaterialNotFound
	}
	return price, err
}

func (r *txRepository) InsertWorkOrders(ctx context.Context, wos []WorkOrder) ([]WorkOrder, error) {
	batch := &pgx.Batch{}
	for _, wo := range wos {
		batch.Queue(`INSERT INTO work_orders (number, production_order_id, stage, quantity, status, planned_start, planned_end, notes, progress_percentage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			wo.Number, wo.ProductionOrderID, string(wo.Stage), wo.Quantity, string(wo.Status), wo.PlannedStart, wo.PlannedEnd, wo.Notes, wo.ProgressPercentage)
	}
	br := r.tx.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]WorkOrder, len(wos))
	for i, wo := range wos {
		if err := br.QueryRow().Scan(&wo.ID); err != nil {
			return nil, err
		}
		out[i] = wo
	}
	return out, nil
}

func (r *txRepository) GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWorkOrder(r.tx.QueryRow(ctx, workOrderSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListWorkOrdersForUpdate(ctx context.Context, orderID int64) ([]WorkOrder, error) {
	return listWorkOrders(ctx, r.tx, orderID, true)
}

func (r *txRepository) UpdateWorkOrder(ctx context.Context, wo WorkOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE work_orders SET status=$2, progress_percentage=$3, actual_start=$4, actual_end=$5 WHERE id=$1`,
		wo.ID, string(wo.Status), wo.ProgressPercentage, wo.ActualStart, wo.ActualEnd)
	return err
}

func (r *txRepository) InsertConsumption(ctx context.Context, c MaterialConsumption) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_consumptions (work_order_id, raw_material_id, planned_quantity, actual_quantity, notes, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.WorkOrderID, c.MaterialID, c.PlannedQuantity, c.ActualQuantity, c.Notes, nullInt(c.RecordedBy), c.RecordedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertProgress(ctx context.Context, p ProductionProgress) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO production_progress (work_order_id, percentage, quantity_completed, notes, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.WorkOrderID, p.Percentage, p.QuantityCompleted, p.Notes, nullInt(p.RecordedBy), p.RecordedAt).Scan(&id)
	return id, err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
