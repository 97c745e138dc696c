package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/httpx"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/procurement", func(r chi.Router) {
		r.Get("/vendors", h.listVendors)
		r.Post("/vendors", h.createVendor)
		r.Get("/vendors/{id}", h.getVendor)
		r.Post("/vendors/{id}/deliveries", h.recordDelivery)
		r.Get("/pos", h.listPOs)
		r.Post("/pos", h.createPO)
		r.Get("/pos/overdue", h.overdue)
		r.Get("/pos/{id}", h.getPO)
		r.Put("/pos/{id}", h.updatePO)
		r.Post("/pos/{id}/submit", h.workflow(h.service.SubmitPurchaseOrder))
		r.Post("/pos/{id}/approve", h.workflow(h.service.ApprovePurchaseOrder))
		r.Post("/pos/{id}/order", h.workflow(h.service.MarkOrdered))
		r.Post("/pos/{id}/cancel", h.workflow(h.service.CancelPurchaseOrder))
		r.Post("/pos/{id}/recalculate", h.recalculate)
		r.Post("/pos/{id}/receipts", h.receive)
		r.Get("/receipts/{id}", h.getReceipt)
	})
}

type vendorRequest struct {
	Code          string          `json:"code" validate:"required,max=50"`
	Name          string          `json:"name" validate:"required,max=200"`
	QualityRating decimal.Decimal `json:"quality_rating"`
}

type deliveryRequest struct {
	OnTime bool `json:"on_time"`
}

type poLineRequest struct {
	MaterialName string          `json:"material_name" validate:"required,max=200"`
	Description  string          `json:"description"`
	MaterialID   *int64          `json:"raw_material_id" validate:"omitempty,gt=0"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type poRequest struct {
	VendorID     int64           `json:"vendor_id" validate:"required,gt=0"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date"`
	Notes        string          `json:"notes"`
	Lines        []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updatePORequest struct {
	VendorID     int64           `json:"vendor_id" validate:"omitempty,gt=0"`
	ExpectedDate *time.Time      `json:"expected_date"`
	Notes        string          `json:"notes"`
	Lines        []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type allocationRequest struct {
	POLineID         int64            `json:"purchase_order_line_id" validate:"required,gt=0"`
	ReceivedQuantity *decimal.Decimal `json:"received_quantity"`
	QualityStatus    string           `json:"quality_status" validate:"omitempty,oneof=accepted rejected pending"`
	Notes            string           `json:"notes"`
}

type receiveRequest struct {
	ReceivedDate time.Time           `json:"received_date"`
	Notes        string              `json:"notes"`
	Allocations  []allocationRequest `json:"allocations" validate:"dive"`
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListVendors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req vendorRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.service.CreateVendor(r.Context(), CreateVendorInput{Code: req.Code, Name: req.Name, QualityRating: req.QualityRating})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.GetVendor(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vendor": v, "on_time_delivery_rate": v.OnTimeDeliveryRate()})
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req deliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.service.RecordDelivery(r.Context(), id, req.OnTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListPurchaseOrders(r.Context(), POStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.OverdueOrders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req poRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreatePOInput{
		VendorID:     req.VendorID,
		OrderDate:    req.OrderDate,
		ExpectedDate: req.ExpectedDate,
		Notes:        req.Notes,
		ActorID:      httpx.ActorID(r),
	}
	input.Lines = lineInputs(req.Lines)
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updatePORequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), UpdatePOInput{
		POID:         id,
		VendorID:     req.VendorID,
		ExpectedDate: req.ExpectedDate,
		Notes:        req.Notes,
		Lines:        lineInputs(req.Lines),
		ActorID:      httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func lineInputs(lines []poLineRequest) []POLineInput {
	out := make([]POLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, POLineInput{
			MaterialName: l.MaterialName,
			Description:  l.Description,
			MaterialID:   l.MaterialID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
		})
	}
	return out
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) workflow(step func(ctx context.Context, poID, actorID int64) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		po, err := step(r.Context(), id, httpx.ActorID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.RecalculateTotal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ReceiveGoodsInput{POID: id, ReceivedDate: req.ReceivedDate, Notes: req.Notes, ActorID: httpx.ActorID(r)}
	for _, a := range req.Allocations {
		input.Allocations = append(input.Allocations, Allocation{
			POLineID:         a.POLineID,
			ReceivedQuantity: a.ReceivedQuantity,
			QualityStatus:    QualityStatus(a.QualityStatus),
			Notes:            a.Notes,
		})
	}
	gr, err := h.service.ReceiveGoods(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gr, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.fail(w, r, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
