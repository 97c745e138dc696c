package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort abstracts persistence for procurement.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, status POStatus) ([]PurchaseOrder, error)
	GetReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
}

// TxRepository exposes writes executed within one transaction.
type TxRepository interface {
	InsertVendor(ctx context.Context, v Vendor) (int64, error)
	GetVendorForUpdate(ctx context.Context, id int64) (Vendor, error)
	UpdateVendorStats(ctx context.Context, v Vendor) error
	// NextNumber reserves the next document number under prefix.
	NextNumber(ctx context.Context, prefix string) (string, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error)
	ReplacePOLines(ctx context.Context, poID int64, lines []POLine) ([]POLine, error)
	UpdatePO(ctx context.Context, po PurchaseOrder) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	SetPOApproval(ctx context.Context, id, actorID int64, at time.Time) error
	SetPODelivered(ctx context.Context, id int64, at time.Time) error
	UpdatePOTotal(ctx context.Context, id int64, total decimal.Decimal) error
	AddReceivedQuantity(ctx context.Context, lineID int64, qty decimal.Decimal) error
	InsertReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	InsertReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error
	GetReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateReceiptTotal(ctx context.Context, id int64, total decimal.Decimal) error
	// Stock returns the inventory mover sharing this transaction.
	Stock() StockMover
}

// StockMover credits raw material stock. Satisfied by *inventory.Mover.
type StockMover interface {
	Receive(ctx context.Context, ref inventory.MaterialRef, qty decimal.Decimal, unitPrice *decimal.Decimal, reference, notes string, actorID int64) (inventory.InventoryTransaction, error)
}

// ApprovalPort records workflow history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records procurement events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase orders and goods receipts.
type Service struct {
	repo      RepositoryPort
	approvals ApprovalPort
	audit     AuditPort
	events    shared.EventCounter
	logger    *slog.Logger
	now       func() time.Time
}

const approvalModule = "PO"

// NewService constructs the procurement service. approvals and audit may be nil.
func NewService(repo RepositoryPort, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, approvals: approvals, audit: audit, events: shared.NopEvents{}, logger: logger, now: time.Now}
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

// CreateVendor registers a vendor with empty delivery statistics.
func (s *Service) CreateVendor(ctx context.Context, input CreateVendorInput) (Vendor, error) {
	if input.Code == "" || input.Name == "" {
		return Vendor{}, shared.Validation("procurement: vendor code and name required")
	}
	if input.QualityRating.IsNegative() || input.QualityRating.GreaterThan(decimal.NewFromInt(5)) {
		return Vendor{}, shared.Validation("procurement: quality rating must be between 0 and 5")
	}
	v := Vendor{Code: input.Code, Name: input.Name, QualityRating: input.QualityRating, IsActive: true}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertVendor(ctx, v)
		v.ID = id
		return err
	})
	if err != nil {
		return Vendor{}, err
	}
	return v, nil
}

// RecordDelivery counts one completed order for the vendor.
func (s *Service) RecordDelivery(ctx context.Context, vendorID int64, onTime bool) (Vendor, error) {
	var vendor Vendor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVendorForUpdate(ctx, vendorID)
		if err != nil {
			return err
		}
		v.TotalOrders++
		if onTime {
			v.OnTimeDeliveries++
		}
		vendor = v
		return tx.UpdateVendorStats(ctx, v)
	})
	return vendor, err
}

// CreatePurchaseOrder stores a draft order and its computed total.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := input.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now()
	po := PurchaseOrder{
		VendorID:     input.VendorID,
		Status:       POStatusDraft,
		OrderDate:    defaultTime(input.OrderDate, now),
		ExpectedDate: input.ExpectedDate,
		Notes:        input.Notes,
		CreatedBy:    input.ActorID,
	}
	po.Lines = newLines(input.Lines)
	po.TotalAmount = CalculatePOTotal(po)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetVendorForUpdate(ctx, input.VendorID); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, shared.DocumentPrefix("PO", now))
		if err != nil {
			return err
		}
		po.Number = number
		id, err := tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		lines, err := tx.InsertPOLines(ctx, id, po.Lines)
		if err != nil {
			return err
		}
		po.Lines = lines
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po.create", po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount.String()})
	return po, nil
}

// UpdatePurchaseOrder replaces the header fields and every line of an order that
// is still in draft or awaiting approval. The total is recomputed in the same
// transaction.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, input UpdatePOInput) (PurchaseOrder, error) {
	if err := input.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if !current.Status.Editable() {
			return ErrNotEditable
		}
		if input.VendorID != 0 && input.VendorID != current.VendorID {
			if _, err := tx.GetVendorForUpdate(ctx, input.VendorID); err != nil {
				return err
			}
			current.VendorID = input.VendorID
		}
		current.ExpectedDate = input.ExpectedDate
		current.Notes = input.Notes
		current.Lines = newLines(input.Lines)
		current.TotalAmount = CalculatePOTotal(current)
		if current.Lines, err = tx.ReplacePOLines(ctx, current.ID, current.Lines); err != nil {
			return err
		}
		po = current
		return tx.UpdatePO(ctx, current)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "po.update", po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount.String()})
	return po, nil
}

func newLines(inputs []POLineInput) []POLine {
	lines := make([]POLine, 0, len(inputs))
	for _, l := range inputs {
		lines = append(lines, POLine{
			MaterialName:     l.MaterialName,
			Description:      l.Description,
			MaterialID:       l.MaterialID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			ReceivedQuantity: decimal.Zero,
		})
	}
	return lines
}

// RecalculateTotal recomputes and persists the PO total from its lines.
func (s *Service) RecalculateTotal(ctx context.Context, poID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		current.TotalAmount = CalculatePOTotal(current)
		po = current
		return tx.UpdatePOTotal(ctx, poID, current.TotalAmount)
	})
	return po, err
}

// SubmitPurchaseOrder requests approval of a draft.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, poID, actorID, shared.ApprovalSubmit, func(po PurchaseOrder) (POStatus, error) {
		if po.Status != POStatusDraft {
			return "", ErrInvalidState
		}
		return POStatusPendingApproval, nil
	})
}

// ApprovePurchaseOrder approves a pending order and stamps the approver.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, poID, actorID, shared.ApprovalApprove, func(po PurchaseOrder) (POStatus, error) {
		if po.Status != POStatusPendingApproval {
			return "", ErrInvalidState
		}
		return POStatusApproved, nil
	})
}

// MarkOrdered records that an approved order was sent to the vendor.
func (s *Service) MarkOrdered(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, poID, actorID, shared.ApprovalOrder, func(po PurchaseOrder) (POStatus, error) {
		if po.Status != POStatusApproved {
			return "", ErrInvalidState
		}
		return POStatusOrdered, nil
	})
}

// CancelPurchaseOrder cancels any order not yet received or cancelled.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, poID, actorID, shared.ApprovalCancel, func(po PurchaseOrder) (POStatus, error) {
		if po.Status == POStatusReceived || po.Status == POStatusCancelled {
			return "", ErrInvalidState
		}
		return POStatusCancelled, nil
	})
}

func (s *Service) transition(ctx context.Context, poID, actorID int64, action shared.ApprovalAction, next func(PurchaseOrder) (POStatus, error)) (PurchaseOrder, error) {
	if actorID == 0 {
		return PurchaseOrder{}, ErrActorRequired
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		status, err := next(current)
		if err != nil {
			return err
		}
		if err := tx.UpdatePOStatus(ctx, poID, status); err != nil {
			return err
		}
		if action == shared.ApprovalApprove {
			at := s.now()
			if err := tx.SetPOApproval(ctx, poID, actorID, at); err != nil {
				return err
			}
			current.ApprovedBy = &actorID
			current.ApprovedAt = &at
		}
		current.Status = status
		po = current
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   shared.ApprovalRef(approvalModule, poID),
			ActorID: actorID,
			Action:  action,
			Note:    fmt.Sprintf("PO %s %s", po.Number, po.Status),
			At:      s.now(),
		}); err != nil {
			s.logger.WarnContext(ctx, "record po approval", slog.Int64("po_id", poID), slog.Any("error", err))
		}
	}
	return po, nil
}

// ReceiveGoods creates a receipt for every line still open on the order.
// Accepted quantities accumulate onto the PO lines without clamping and credit
// linked raw material stock in the same transaction.
func (s *Service) ReceiveGoods(ctx context.Context, input ReceiveGoodsInput) (GoodsReceipt, error) {
	if input.POID == 0 {
		return GoodsReceipt{}, shared.Validation("procurement: purchase order required")
	}
	overrides := make(map[int64]Allocation, len(input.Allocations))
	for _, a := range input.Allocations {
		if a.ReceivedQuantity != nil && !a.ReceivedQuantity.IsPositive() {
			return GoodsReceipt{}, ErrInvalidQuantity
		}
		if a.QualityStatus != "" && !a.QualityStatus.Valid() {
			return GoodsReceipt{}, shared.Validation(fmt.Sprintf("procurement: invalid quality status %q", a.QualityStatus))
		}
		overrides[a.POLineID] = a
	}
	now := s.now()
	receipt := GoodsReceipt{
		POID:         input.POID,
		ReceivedDate: defaultTime(input.ReceivedDate, now),
		Notes:        input.Notes,
		ReceivedBy:   input.ActorID,
	}
	var finalStatus POStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if !po.Status.Receivable() {
			return ErrNotReceivable
		}
		lines, err := buildReceiptLines(po, overrides)
		if err != nil {
			return err
		}
		if receipt.Number, err = tx.NextNumber(ctx, shared.DocumentPrefix("GR", now)); err != nil {
			return err
		}
		receipt.Lines = lines
		receipt.TotalReceivedValue = RecalculateReceiptTotal(lines)
		id, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		if err := tx.InsertReceiptLines(ctx, id, lines); err != nil {
			return err
		}
		received := make(map[int64]decimal.Decimal, len(lines))
		for _, line := range lines {
			if line.QualityStatus != QualityAccepted {
				continue
			}
			if err := tx.AddReceivedQuantity(ctx, line.POLineID, line.ReceivedQuantity); err != nil {
				return err
			}
			received[line.POLineID] = line.ReceivedQuantity
			if line.MaterialID == nil {
				continue
			}
			price := line.UnitPrice
			if _, err := tx.Stock().Receive(ctx, inventory.RawMaterial(*line.MaterialID), line.ReceivedQuantity, &price,
				receipt.Number, fmt.Sprintf("Goods receipt for %s", po.Number), input.ActorID); err != nil {
				return err
			}
		}
		finalStatus = statusAfterReceipt(po, received)
		if finalStatus != po.Status {
			if err := tx.UpdatePOStatus(ctx, po.ID, finalStatus); err != nil {
				return err
			}
			if finalStatus == POStatusReceived {
				if err := tx.SetPODelivered(ctx, po.ID, receipt.ReceivedDate); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.events.IncDomainEvent("procurement", "goods_received")
	s.logger.InfoContext(ctx, "goods received", slog.Int64("po_id", input.POID), slog.String("receipt", receipt.Number), slog.String("po_status", string(finalStatus)))
	s.recordAudit(ctx, input.ActorID, "grn.create", receipt.ID, map[string]any{
		"po_id":  input.POID,
		"number": receipt.Number,
		"value":  receipt.TotalReceivedValue.String(),
	})
	return receipt, nil
}

// RecalculateReceiptTotal recomputes and persists a receipt's total value.
func (s *Service) RecalculateReceiptTotal(ctx context.Context, receiptID int64) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		current.TotalReceivedValue = RecalculateReceiptTotal(current.Lines)
		gr = current
		return tx.UpdateReceiptTotal(ctx, receiptID, current.TotalReceivedValue)
	})
	return gr, err
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPurchaseOrders lists orders, optionally by status.
func (s *Service) ListPurchaseOrders(ctx context.Context, status POStatus) ([]PurchaseOrder, error) {
	return s.repo.ListPOs(ctx, status)
}

// OverdueOrders lists open orders past their expected date.
func (s *Service) OverdueOrders(ctx context.Context) ([]PurchaseOrder, error) {
	all, err := s.repo.ListPOs(ctx, "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := []PurchaseOrder{}
	for _, po := range all {
		if po.IsOverdue(now) {
			out = append(out, po)
		}
	}
	return out, nil
}

// GetReceipt loads a receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// GetVendor loads one vendor.
func (s *Service) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// ListVendors lists vendors by code.
func (s *Service) ListVendors(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

func buildReceiptLines(po PurchaseOrder, overrides map[int64]Allocation) ([]ReceiptLine, error) {
	byID := make(map[int64]POLine, len(po.Lines))
	for _, l := range po.Lines {
		byID[l.ID] = l
	}
	for id := range overrides {
		line, ok := byID[id]
		if !ok {
			return nil, ErrUnknownLine
		}
		if line.IsFullyReceived() {
			return nil, ErrLineFullyReceived
		}
	}
	lines := []ReceiptLine{}
	for _, l := range po.Lines {
		if l.IsFullyReceived() {
			continue
		}
		rl := ReceiptLine{
			POLineID:         l.ID,
			MaterialID:       l.MaterialID,
			ReceivedQuantity: l.RemainingQuantity(),
			UnitPrice:        l.UnitPrice,
			QualityStatus:    QualityAccepted,
		}
		if a, ok := overrides[l.ID]; ok {
			if a.ReceivedQuantity != nil {
				rl.ReceivedQuantity = *a.ReceivedQuantity
			}
			if a.QualityStatus != "" {
				rl.QualityStatus = a.QualityStatus
			}
			rl.Notes = a.Notes
		}
		lines = append(lines, rl)
	}
	if len(lines) == 0 {
		return nil, ErrNothingToReceive
	}
	return lines, nil
}

func statusAfterReceipt(po PurchaseOrder, received map[int64]decimal.Decimal) POStatus {
	all := true
	some := false
	for _, l := range po.Lines {
		got := l.ReceivedQuantity.Add(received[l.ID])
		if got.IsPositive() {
			some = true
		}
		if got.LessThan(l.Quantity) {
			all = false
		}
	}
	switch {
	case all:
		return POStatusReceived
	case some:
		return POStatusPartiallyReceived
	}
	return po.Status
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta, At: s.now()}); err != nil {
		s.logger.WarnContext(ctx, "procurement audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
