package procurement

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

type stockCall struct {
	ref   inventory.MaterialRef
	qty   decimal.Decimal
	price decimal.Decimal
}

type memoryRepo struct {
	vendors   map[int64]Vendor
	pos       map[int64]PurchaseOrder
	receipts  map[int64]GoodsReceipt
	stock     []stockCall
	sequences map[string]int
	nextID    int64
	failStock bool
}

type memoryTx struct {
	repo *memoryRepo
}

type memoryStock struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		vendors:  map[int64]Vendor{1: {ID: 1, Code: "V-1", Name: "Leather Co", IsActive: true}},
		pos:      map[int64]PurchaseOrder{},
		receipts:  map[int64]GoodsReceipt{},
		sequences: map[string]int{},
		nextID:    10,
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func clonePO(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	return po
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	vendors := maps.Clone(r.vendors)
	pos := make(map[int64]PurchaseOrder, len(r.pos))
	for k, v := range r.pos {
		pos[k] = clonePO(v)
	}
	receipts := maps.Clone(r.receipts)
	stock := append([]stockCall(nil), r.stock...)
	sequences := maps.Clone(r.sequences)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.vendors, r.pos, r.receipts, r.stock = vendors, pos, receipts, stock
		r.sequences = sequences
		return err
	}
	return nil
}

func (r *memoryRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return clonePO(po), nil
}

func (r *memoryRepo) ListPOs(_ context.Context, status POStatus) ([]PurchaseOrder, error) {
	out := []PurchaseOrder{}
	for _, po := range r.pos {
		if status == "" || po.Status == status {
			out = append(out, clonePO(po))
		}
	}
	return out, nil
}

func (r *memoryRepo) GetReceipt(_ context.Context, id int64) (GoodsReceipt, error) {
	gr, ok := r.receipts[id]
	if !ok {
		return GoodsReceipt{}, ErrReceiptNotFound
	}
	return gr, nil
}

func (r *memoryRepo) GetVendor(_ context.Context, id int64) (Vendor, error) {
	v, ok := r.vendors[id]
	if !ok {
		return Vendor{}, ErrVendorNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListVendors(context.Context) ([]Vendor, error) {
	out := []Vendor{}
	for _, v := range r.vendors {
		out = append(out, v)
	}
	return out, nil
}

func (t *memoryTx) Stock() StockMover { return &memoryStock{repo: t.repo} }

func (s *memoryStock) Receive(_ context.Context, ref inventory.MaterialRef, qty decimal.Decimal, price *decimal.Decimal, _, _ string, _ int64) (inventory.InventoryTransaction, error) {
	if s.repo.failStock {
		return inventory.InventoryTransaction{}, errors.New("stock unavailable")
	}
	s.repo.stock = append(s.repo.stock, stockCall{ref: ref, qty: qty, price: *price})
	return inventory.InventoryTransaction{Type: inventory.TransactionTypeIn, Quantity: qty}, nil
}

func (t *memoryTx) InsertVendor(_ context.Context, v Vendor) (int64, error) {
	for _, existing := range t.repo.vendors {
		if existing.Code == v.Code {
			return 0, ErrDuplicateCode
		}
	}
	v.ID = t.repo.id()
	t.repo.vendors[v.ID] = v
	return v.ID, nil
}

func (t *memoryTx) GetVendorForUpdate(ctx context.Context, id int64) (Vendor, error) {
	return t.repo.GetVendor(ctx, id)
}

func (t *memoryTx) UpdateVendorStats(_ context.Context, v Vendor) error {
	t.repo.vendors[v.ID] = v
	return nil
}

func (t *memoryTx) NextNumber(_ context.Context, prefix string) (string, error) {
	t.repo.sequences[prefix]++
	return shared.FormatDocumentNumber(prefix, t.repo.sequences[prefix]), nil
}

func (t *memoryTx) InsertPO(_ context.Context, po PurchaseOrder) (int64, error) {
	po.ID = t.repo.id()
	po.Lines = nil
	t.repo.pos[po.ID] = po
	return po.ID, nil
}

func (t *memoryTx) InsertPOLines(_ context.Context, poID int64, lines []POLine) ([]POLine, error) {
	po := t.repo.pos[poID]
	out := make([]POLine, len(lines))
	for i, l := range lines {
		l.ID = t.repo.id()
		l.POID = poID
		out[i] = l
	}
	po.Lines = append(po.Lines, out...)
	t.repo.pos[poID] = po
	return out, nil
}

func (t *memoryTx) ReplacePOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error) {
	if err := t.update(poID, func(po *PurchaseOrder) { po.Lines = nil }); err != nil {
		return nil, err
	}
	return t.InsertPOLines(ctx, poID, lines)
}

func (t *memoryTx) UpdatePO(_ context.Context, po PurchaseOrder) error {
	return t.update(po.ID, func(stored *PurchaseOrder) {
		stored.VendorID, stored.ExpectedDate, stored.Notes, stored.TotalAmount = po.VendorID, po.ExpectedDate, po.Notes, po.TotalAmount
	})
}

func (t *memoryTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return t.repo.GetPO(ctx, id)
}

func (t *memoryTx) update(id int64, fn func(*PurchaseOrder)) error {
	po, ok := t.repo.pos[id]
	if !ok {
		return ErrNotFound
	}
	po = clonePO(po)
	fn(&po)
	t.repo.pos[id] = po
	return nil
}

func (t *memoryTx) UpdatePOStatus(_ context.Context, id int64, status POStatus) error {
	return t.update(id, func(po *PurchaseOrder) { po.Status = status })
}

func (t *memoryTx) SetPOApproval(_ context.Context, id, actorID int64, at time.Time) error {
	return t.update(id, func(po *PurchaseOrder) { po.ApprovedBy, po.ApprovedAt = &actorID, &at })
}

func (t *memoryTx) SetPODelivered(_ context.Context, id int64, at time.Time) error {
	return t.update(id, func(po *PurchaseOrder) { po.ActualDeliveryDate = &at })
}

func (t *memoryTx) UpdatePOTotal(_ context.Context, id int64, total decimal.Decimal) error {
	return t.update(id, func(po *PurchaseOrder) { po.TotalAmount = total })
}

func (t *memoryTx) AddReceivedQuantity(_ context.Context, lineID int64, qty decimal.Decimal) error {
	for id, po := range t.repo.pos {
		for i, l := range po.Lines {
			if l.ID == lineID {
				return t.update(id, func(po *PurchaseOrder) {
					po.Lines[i].ReceivedQuantity = po.Lines[i].ReceivedQuantity.Add(qty)
				})
			}
		}
	}
	return ErrUnknownLine
}

func (t *memoryTx) InsertReceipt(_ context.Context, gr GoodsReceipt) (int64, error) {
	gr.ID = t.repo.id()
	t.repo.receipts[gr.ID] = gr
	return gr.ID, nil
}

func (t *memoryTx) InsertReceiptLines(_ context.Context, receiptID int64, lines []ReceiptLine) error {
	gr := t.repo.receipts[receiptID]
	gr.Lines = append([]ReceiptLine(nil), lines...)
	t.repo.receipts[receiptID] = gr
	return nil
}

func (t *memoryTx) GetReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	return t.repo.GetReceipt(ctx, id)
}

func (t *memoryTx) UpdateReceiptTotal(_ context.Context, id int64, total decimal.Decimal) error {
	gr := t.repo.receipts[id]
	gr.TotalReceivedValue = total
	t.repo.receipts[id] = gr
	return nil
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (a *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var fixedNow = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func newService(repo *memoryRepo) (*Service, *memoryApprovals) {
	approvals := &memoryApprovals{}
	svc := NewService(repo, approvals, nil, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, approvals
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func leatherPO(t *testing.T, svc *Service, materialID *int64) PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		VendorID: 1,
		ActorID:  7,
		Lines: []POLineInput{
			{MaterialName: "Leather", MaterialID: materialID, Quantity: dec("10"), UnitPrice: dec("5.50")},
			{MaterialName: "Thread", Quantity: dec("4"), UnitPrice: dec("2")},
		},
	})
	require.NoError(t, err)
	return po
}

func approve(t *testing.T, svc *Service, id int64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.SubmitPurchaseOrder(ctx, id, 7)
	require.NoError(t, err)
	_, err = svc.ApprovePurchaseOrder(ctx, id, 8)
	require.NoError(t, err)
}

func TestCreatePurchaseOrderComputesTotal(t *testing.T) {
	svc, _ := newService(newMemoryRepo())
	po := leatherPO(t, svc, nil)
	require.Equal(t, POStatusDraft, po.Status)
	require.True(t, dec("63").Equal(po.TotalAmount))
	require.Len(t, po.Lines, 2)
	require.Equal(t, "PO-20240506-0001", po.Number)
	require.Equal(t, "PO-20240506-0002", leatherPO(t, svc, nil).Number)

	_, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{VendorID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreatePurchaseOrder(context.Background(), CreatePOInput{VendorID: 99, Lines: []POLineInput{{MaterialName: "x", Quantity: dec("1")}}})
	require.ErrorIs(t, err, ErrVendorNotFound)
}

func TestWorkflowTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc, approvals := newService(repo)
	ctx := context.Background()
	po := leatherPO(t, svc, nil)

	_, err := svc.ApprovePurchaseOrder(ctx, po.ID, 8)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.SubmitPurchaseOrder(ctx, po.ID, 0)
	require.ErrorIs(t, err, ErrActorRequired)

	approve(t, svc, po.ID)
	stored := repo.pos[po.ID]
	require.Equal(t, POStatusApproved, stored.Status)
	require.Equal(t, int64(8), *stored.ApprovedBy)
	require.Equal(t, fixedNow, *stored.ApprovedAt)

	out, err := svc.MarkOrdered(ctx, po.ID, 8)
	require.NoError(t, err)
	require.Equal(t, POStatusOrdered, out.Status)

	require.Len(t, approvals.logs, 3)
	require.Equal(t, shared.ApprovalRef("PO", po.ID), approvals.logs[0].RefID)
	require.Equal(t, shared.ApprovalApprove, approvals.logs[1].Action)
}

func TestReceiveGoodsDefaultsToRemaining(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	material := int64(42)
	po := leatherPO(t, svc, &material)
	approve(t, svc, po.ID)

	gr, err := svc.ReceiveGoods(context.Background(), ReceiveGoodsInput{POID: po.ID, ActorID: 9})
	require.NoError(t, err)
	require.Len(t, gr.Lines, 2)
	require.True(t, dec("63").Equal(gr.TotalReceivedValue))
	require.Equal(t, "GR-20240506-0001", gr.Number)

	stored := repo.pos[po.ID]
	require.Equal(t, POStatusReceived, stored.Status)
	require.NotNil(t, stored.ActualDeliveryDate)
	for _, l := range stored.Lines {
		require.True(t, l.IsFullyReceived())
	}

	require.Len(t, repo.stock, 1)
	require.Equal(t, inventory.RawMaterial(42), repo.stock[0].ref)
	require.True(t, dec("10").Equal(repo.stock[0].qty))
	require.True(t, dec("5.50").Equal(repo.stock[0].price))

	_, err = svc.ReceiveGoods(context.Background(), ReceiveGoodsInput{POID: po.ID})
	require.ErrorIs(t, err, ErrNotReceivable)
}

func TestReceiveGoodsAccumulatesPartialReceipts(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	ctx := context.Background()
	po := leatherPO(t, svc, nil)
	approve(t, svc, po.ID)
	leather, thread := po.Lines[0].ID, po.Lines[1].ID
	five := dec("5")

	_, err := svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Allocations: []Allocation{
		{POLineID: leather, ReceivedQuantity: &five},
		{POLineID: thread, QualityStatus: QualityRejected},
	}})
	require.NoError(t, err)
	stored := repo.pos[po.ID]
	require.Equal(t, POStatusPartiallyReceived, stored.Status)
	require.True(t, dec("5").Equal(stored.Lines[0].ReceivedQuantity))
	require.True(t, stored.Lines[1].ReceivedQuantity.IsZero())

	_, err = svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Allocations: []Allocation{{POLineID: leather, ReceivedQuantity: &five}}})
	require.NoError(t, err)
	stored = repo.pos[po.ID]
	require.True(t, dec("10").Equal(stored.Lines[0].ReceivedQuantity))
	require.Equal(t, POStatusReceived, stored.Status)

	_, err = svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID})
	require.ErrorIs(t, err, ErrNotReceivable)
}

func TestReceiveGoodsRejectsBadAllocations(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	ctx := context.Background()
	po := leatherPO(t, svc, nil)

	_, err := svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID})
	require.ErrorIs(t, err, ErrNotReceivable)

	approve(t, svc, po.ID)
	_, err = svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Allocations: []Allocation{{POLineID: 9999}}})
	require.ErrorIs(t, err, ErrUnknownLine)
	zero := decimal.Zero
	_, err = svc.ReceiveGoods(ctx, ReceiveGoodsInput{POID: po.ID, Allocations: []Allocation{{POLineID: po.Lines[0].ID, ReceivedQuantity: &zero}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, repo.receipts)
}

func TestReceiveGoodsRollsBackOnStockFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	material := int64(42)
	po := leatherPO(t, svc, &material)
	approve(t, svc, po.ID)
	repo.failStock = true

	_, err := svc.ReceiveGoods(context.Background(), ReceiveGoodsInput{POID: po.ID})
	require.Error(t, err)
	require.Empty(t, repo.receipts)
	stored := repo.pos[po.ID]
	require.Equal(t, POStatusApproved, stored.Status)
	require.True(t, stored.Lines[0].ReceivedQuantity.IsZero())
}

func TestUpdatePurchaseOrderReplacesLines(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	ctx := context.Background()
	po := leatherPO(t, svc, nil)
	expected := fixedNow.AddDate(0, 0, 14)

	updated, err := svc.UpdatePurchaseOrder(ctx, UpdatePOInput{
		POID:         po.ID,
		ExpectedDate: &expected,
		Notes:        "revised",
		Lines:        []POLineInput{{MaterialName: "Suede", Quantity: dec("3"), UnitPrice: dec("12")}},
		ActorID:      7,
	})
	require.NoError(t, err)
	require.True(t, dec("36").Equal(updated.TotalAmount))
	require.Equal(t, po.Number, updated.Number)

	stored := repo.pos[po.ID]
	require.Len(t, stored.Lines, 1)
	require.Equal(t, "Suede", stored.Lines[0].MaterialName)
	require.True(t, dec("36").Equal(stored.TotalAmount))
	require.Equal(t, "revised", stored.Notes)
	require.Equal(t, expected, *stored.ExpectedDate)

	_, err = svc.SubmitPurchaseOrder(ctx, po.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpdatePurchaseOrder(ctx, UpdatePOInput{POID: po.ID, Lines: []POLineInput{{MaterialName: "Suede", Quantity: dec("4"), UnitPrice: dec("12")}}})
	require.NoError(t, err, "pending approval orders stay editable")
	require.True(t, dec("48").Equal(repo.pos[po.ID].TotalAmount))
}

func TestUpdatePurchaseOrderRejectsApprovedOrders(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	ctx := context.Background()
	po := leatherPO(t, svc, nil)
	approve(t, svc, po.ID)

	_, err := svc.UpdatePurchaseOrder(ctx, UpdatePOInput{POID: po.ID, Lines: []POLineInput{{MaterialName: "Suede", Quantity: dec("1")}}})
	require.ErrorIs(t, err, ErrNotEditable)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Len(t, repo.pos[po.ID].Lines, 2)
	require.True(t, dec("63").Equal(repo.pos[po.ID].TotalAmount))

	_, err = svc.UpdatePurchaseOrder(ctx, UpdatePOInput{POID: po.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.UpdatePurchaseOrder(ctx, UpdatePOInput{POID: 999, Lines: []POLineInput{{MaterialName: "x", Quantity: dec("1")}}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePurchaseOrderChecksNewVendor(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	po := leatherPO(t, svc, nil)

	_, err := svc.UpdatePurchaseOrder(context.Background(), UpdatePOInput{POID: po.ID, VendorID: 404,
		Lines: []POLineInput{{MaterialName: "x", Quantity: dec("1")}}})
	require.ErrorIs(t, err, ErrVendorNotFound)
	require.Len(t, repo.pos[po.ID].Lines, 2)
	require.Equal(t, int64(1), repo.pos[po.ID].VendorID)
}

func TestVendorDeliveryRate(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newService(repo)
	ctx := context.Background()
	v, err := svc.CreateVendor(ctx, CreateVendorInput{Code: "V-2", Name: "Rubber Ltd"})
	require.NoError(t, err)
	require.True(t, v.OnTimeDeliveryRate().IsZero())

	for _, onTime := range []bool{true, true, false} {
		v, err = svc.RecordDelivery(ctx, v.ID, onTime)
		require.NoError(t, err)
	}
	require.Equal(t, "66.67", v.OnTimeDeliveryRate().StringFixed(2))

	_, err = svc.CreateVendor(ctx, CreateVendorInput{Code: "V-2", Name: "Dup"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestPurchaseOrderOverdue(t *testing.T) {
	expected := fixedNow.AddDate(0, 0, -1)
	po := PurchaseOrder{Status: POStatusOrdered, ExpectedDate: &expected}
	require.True(t, po.IsOverdue(fixedNow))
	po.Status = POStatusReceived
	require.False(t, po.IsOverdue(fixedNow))
	po.ExpectedDate = nil
	require.False(t, po.IsOverdue(fixedNow))
}

func TestRemainingQuantityGoesNegativeOnOverReceipt(t *testing.T) {
	line := POLine{Quantity: dec("10"), ReceivedQuantity: dec("12")}
	require.True(t, dec("-2").Equal(line.RemainingQuantity()))
	require.True(t, line.IsFullyReceived())
}
