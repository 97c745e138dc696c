package inventory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

type memoryRepo struct {
	materials    map[MaterialRef]Material
	warehouses   map[int64]Warehouse
	transactions []InventoryTransaction
	alerts       map[int64]StockAlert
	nextID       int64
	failInsert   bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		materials:  map[MaterialRef]Material{},
		warehouses: map[int64]Warehouse{1: {ID: 1, Code: "WH-1", Name: "Main", IsActive: true}},
		alerts:     map[int64]StockAlert{},
		nextID:     100,
	}
}

func (r *memoryRepo) seed(m Material) Material {
	r.nextID++
	if m.Ref.Kind() == KindFinishedProduct {
		m.Ref = FinishedProduct(r.nextID)
	} else {
		m.Ref = RawMaterial(r.nextID)
	}
	m.IsActive = true
	r.materials[m.Ref] = m
	return m
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	materials := maps.Clone(r.materials)
	alerts := maps.Clone(r.alerts)
	txs := append([]InventoryTransaction(nil), r.transactions...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.materials, r.alerts, r.transactions = materials, alerts, txs
		return err
	}
	return nil
}

func (r *memoryRepo) GetMaterial(_ context.Context, ref MaterialRef) (Material, error) {
	m, ok := r.materials[ref]
	if !ok {
		return Material{}, ErrMaterialNotFound
	}
	return m, nil
}

func (r *memoryRepo) ListMaterials(_ context.Context, kind MaterialKind) ([]Material, error) {
	out := []Material{}
	for _, m := range r.materials {
		if kind == "" || m.Ref.Kind() == kind {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) ListTransactions(context.Context, TransactionFilter) ([]InventoryTransaction, error) {
	return append([]InventoryTransaction(nil), r.transactions...), nil
}

func (r *memoryRepo) ListWarehouses(context.Context) ([]Warehouse, error) {
	out := []Warehouse{}
	for _, w := range r.warehouses {
		out = append(out, w)
	}
	return out, nil
}

func (r *memoryRepo) ListOpenAlerts(context.Context) ([]StockAlert, error) {
	out := []StockAlert{}
	for _, a := range r.alerts {
		if !a.IsResolved {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) GetMaterialForUpdate(ctx context.Context, ref MaterialRef) (Material, error) {
	return tx.repo.GetMaterial(ctx, ref)
}

func (tx *memoryTx) UpdateStock(_ context.Context, ref MaterialRef, stock decimal.Decimal) error {
	m := tx.repo.materials[ref]
	m.CurrentStock = stock
	tx.repo.materials[ref] = m
	return nil
}

func (tx *memoryTx) UpdateUnitPrice(_ context.Context, ref MaterialRef, price decimal.Decimal) error {
	m := tx.repo.materials[ref]
	m.UnitPrice = price
	tx.repo.materials[ref] = m
	return nil
}

func (tx *memoryTx) InsertMaterial(_ context.Context, m Material) (int64, error) {
	for _, existing := range tx.repo.materials {
		if existing.Ref.Kind() == m.Ref.Kind() && existing.Code == m.Code {
			return 0, ErrDuplicateCode
		}
	}
	tx.repo.nextID++
	m.Ref = MaterialRef{kind: m.Ref.Kind(), id: tx.repo.nextID}
	tx.repo.materials[m.Ref] = m
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, rec InventoryTransaction) (int64, error) {
	if tx.repo.failInsert {
		return 0, errors.New("insert failed")
	}
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.repo.transactions = append(tx.repo.transactions, rec)
	return rec.ID, nil
}

func (tx *memoryTx) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	w, ok := tx.repo.warehouses[id]
	if !ok {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, nil
}

func (tx *memoryTx) ListMaterials(ctx context.Context, kind MaterialKind) ([]Material, error) {
	return tx.repo.ListMaterials(ctx, kind)
}

func (tx *memoryTx) ListOpenAlerts(ctx context.Context) ([]StockAlert, error) {
	return tx.repo.ListOpenAlerts(ctx)
}

func (tx *memoryTx) InsertAlert(_ context.Context, a StockAlert) (int64, error) {
	tx.repo.nextID++
	a.ID = tx.repo.nextID
	tx.repo.alerts[a.ID] = a
	return a.ID, nil
}

func (tx *memoryTx) ResolveAlert(_ context.Context, id int64, at time.Time) error {
	a := tx.repo.alerts[id]
	a.IsResolved = true
	a.ResolvedAt = &at
	tx.repo.alerts[id] = a
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+":"+key)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2024, 5, 6, 14, 30, 15, 0, time.UTC)

func newTestService(cfg ServiceConfig) (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, cfg, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, repo
}

func leather(repo *memoryRepo, stock string) Material {
	return repo.seed(Material{Ref: RawMaterial(0), Code: "RM-LEA", Name: "Leather", Unit: UnitMeter, CurrentStock: dec(stock), MinimumStock: dec("5"), UnitPrice: dec("12.50")})
}

func TestAdjustStockAddAndSubtract(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	ctx := context.Background()
	m := leather(repo, "10")

	rec, err := svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("4"), Direction: DirectionAdd, WarehouseID: 1, Reason: "count", ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, TransactionTypeIn, rec.Type)
	require.True(t, rec.Quantity.Equal(dec("4")))
	require.True(t, rec.TotalValue.Equal(dec("50")))
	require.Equal(t, "ADJ-3-20240506143015", rec.Reference)
	require.Equal(t, "Stock adjustment: count", rec.Notes)
	require.Equal(t, "Leather", rec.MaterialName)
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("14")))

	rec, err = svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("20"), Direction: DirectionSubtract, Reason: "damage", ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, TransactionTypeAdjust, rec.Type)
	require.True(t, rec.Quantity.Equal(dec("20")))
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("-6")), "no floor by default")
	require.Len(t, repo.transactions, 2)
}

func TestAdjustStockSnapshotsUnitPrice(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	ctx := context.Background()
	m := leather(repo, "0")

	first, err := svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("2"), Direction: DirectionAdd, Reason: "r"})
	require.NoError(t, err)
	_, err = svc.UpdateUnitPrice(ctx, m.Ref, dec("20"), 1)
	require.NoError(t, err)
	second, err := svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("2"), Direction: DirectionAdd, Reason: "r"})
	require.NoError(t, err)

	require.True(t, repo.transactions[0].TotalValue.Equal(dec("25")))
	require.True(t, first.UnitPrice.Equal(dec("12.50")))
	require.True(t, second.TotalValue.Equal(dec("40")))
}

func TestAdjustStockRejectNegative(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{RejectNegativeStock: true})
	m := leather(repo, "3")

	_, err := svc.AdjustStock(context.Background(), AdjustStockInput{Material: m.Ref, Quantity: dec("4"), Direction: DirectionSubtract, Reason: "x"})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("3")))
	require.Empty(t, repo.transactions)
}

func TestAdjustStockValidation(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	ctx := context.Background()
	m := leather(repo, "3")
	shoe := repo.seed(Material{Ref: FinishedProduct(0), Code: "FP-1", Name: "Sneaker", Size: 40, Color: "black"})

	_, err := svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("0"), Direction: DirectionAdd})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("1"), Direction: "sideways"})
	require.ErrorIs(t, err, ErrInvalidDirection)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: shoe.Ref, Quantity: dec("1.5"), Direction: DirectionAdd})
	require.ErrorIs(t, err, ErrFractionalUnits)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: RawMaterial(999), Quantity: dec("1"), Direction: DirectionAdd})
	require.ErrorIs(t, err, ErrMaterialNotFound)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("1"), Direction: DirectionAdd, WarehouseID: 42})
	require.ErrorIs(t, err, ErrWarehouseNotFound)
	require.Empty(t, repo.transactions)
}

func TestAdjustStockAtomicWithLog(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	m := leather(repo, "3")
	repo.failInsert = true

	_, err := svc.AdjustStock(context.Background(), AdjustStockInput{Material: m.Ref, Quantity: dec("1"), Direction: DirectionAdd, Reason: "x"})
	require.Error(t, err)
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("3")))
}

func TestAdjustStockIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	idem := &memoryIdempotency{keys: map[string]bool{}}
	svc := NewService(repo, nil, idem, ServiceConfig{}, nil)
	ctx := context.Background()
	m := leather(repo, "0")
	in := AdjustStockInput{Material: m.Ref, Quantity: dec("1"), Direction: DirectionAdd, Reason: "x", IdempotencyKey: "req-1"}

	_, err := svc.AdjustStock(ctx, in)
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("1")))

	repo.failInsert = true
	in.IdempotencyKey = "req-2"
	_, err = svc.AdjustStock(ctx, in)
	require.Error(t, err)
	require.False(t, idem.keys["inventory:req-2"], "key released after failure")
}

func TestMoverConsumeHasNoFloor(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{RejectNegativeStock: true})
	m := leather(repo, "1")

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		rec, err := svc.Mover(tx).Consume(ctx, m.Ref, dec("2.5"), "WO-1", "consumption", 9)
		require.NoError(t, err)
		require.Equal(t, TransactionTypeOut, rec.Type)
		require.True(t, rec.Quantity.Equal(dec("2.5")))
		return nil
	})
	require.NoError(t, err)
	require.True(t, repo.materials[m.Ref].CurrentStock.Equal(dec("-1.5")))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, StatusOutOfStock, StatusOf(dec("0"), dec("5")))
	require.Equal(t, StatusOutOfStock, StatusOf(dec("-1"), dec("0")))
	require.Equal(t, StatusLowStock, StatusOf(dec("5"), dec("5")))
	require.Equal(t, StatusInStock, StatusOf(dec("5.01"), dec("5")))
}

func TestDeriveAlerts(t *testing.T) {
	alerts := DeriveAlerts([]Material{
		{Ref: RawMaterial(1), Name: "Glue", CurrentStock: dec("0"), MinimumStock: dec("2"), IsActive: true},
		{Ref: RawMaterial(2), Name: "Lace", CurrentStock: dec("2"), MinimumStock: dec("2"), IsActive: true},
		{Ref: RawMaterial(3), Name: "Sole", CurrentStock: dec("9"), MinimumStock: dec("2"), IsActive: true},
		{Ref: RawMaterial(4), Name: "Old", CurrentStock: dec("0"), MinimumStock: dec("2"), IsActive: false},
	})
	require.Len(t, alerts, 2)
	require.Equal(t, AlertOutOfStock, alerts[0].Type)
	require.Equal(t, AlertLowStock, alerts[1].Type)
	require.Contains(t, alerts[1].Message, "Lace")
}

func TestSyncAlertsOpensAndResolves(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	ctx := context.Background()
	m := leather(repo, "1")
	over := repo.seed(Material{Ref: RawMaterial(0), Code: "RM-THR", Name: "Thread", CurrentStock: dec("50"), MinimumStock: dec("1"), MaximumStock: dec("40")})

	res, err := svc.SyncAlerts(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Opened: 2}, res)

	res, err = svc.SyncAlerts(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{}, res, "open alerts are not duplicated")

	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: m.Ref, Quantity: dec("10"), Direction: DirectionAdd, Reason: "restock"})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{Material: over.Ref, Quantity: dec("20"), Direction: DirectionSubtract, Reason: "return"})
	require.NoError(t, err)

	res, err = svc.SyncAlerts(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Resolved: 2}, res)
	open, err := svc.OpenAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestValuation(t *testing.T) {
	svc, repo := newTestService(ServiceConfig{})
	leather(repo, "4")
	repo.seed(Material{Ref: FinishedProduct(0), Code: "FP-1", Name: "Sneaker", CurrentStock: dec("3"), UnitPrice: dec("100")})

	v, err := svc.Valuation(context.Background())
	require.NoError(t, err)
	require.True(t, v.RawMaterials.Equal(dec("50")))
	require.True(t, v.FinishedProducts.Equal(dec("300")))
	require.True(t, v.Total.Equal(dec("350")))
}

func TestCreateMaterials(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	raw, err := svc.CreateRawMaterial(ctx, CreateRawMaterialInput{Code: "RM-01", Name: "Canvas", Unit: UnitRoll, UnitPrice: dec("3")})
	require.NoError(t, err)
	require.Equal(t, KindRawMaterial, raw.Ref.Kind())
	require.NotZero(t, raw.Ref.ID())
	require.True(t, raw.CurrentStock.IsZero())

	_, err = svc.CreateRawMaterial(ctx, CreateRawMaterialInput{Code: "RM-01", Name: "Dup", Unit: UnitRoll})
	require.ErrorIs(t, err, ErrDuplicateCode)
	_, err = svc.CreateRawMaterial(ctx, CreateRawMaterialInput{Code: "RM-02", Name: "Bad", Unit: "litre"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateRawMaterial(ctx, CreateRawMaterialInput{Code: "bad code!", Name: "Bad", Unit: UnitKg})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateFinishedProduct(ctx, CreateFinishedProductInput{Code: "FP-01", Name: "Boot", Size: 46, Color: "black"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateFinishedProduct(ctx, CreateFinishedProductInput{Code: "FP-01", Name: "Boot", Size: 42, Color: "purple"})
	require.ErrorIs(t, err, shared.ErrValidation)
	fp, err := svc.CreateFinishedProduct(ctx, CreateFinishedProductInput{Code: "FP-01", Name: "Boot", Size: 42, Color: "sands"})
	require.NoError(t, err)
	require.Equal(t, KindFinishedProduct, fp.Ref.Kind())
}
