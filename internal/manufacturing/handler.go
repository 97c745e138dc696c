package manufacturing

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

// Handler serves manufacturing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers manufacturing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/manufacturing", func(r chi.Router) {
		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/overdue", h.overdue)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/submit", h.workflow(h.service.SubmitOrder))
		r.Post("/orders/{id}/approve", h.workflow(h.service.ApproveOrder))
		r.Post("/orders/{id}/cancel", h.workflow(h.service.CancelOrder))
		r.Post("/orders/{id}/work-orders", h.generate)
		r.Post("/boms", h.saveBOM)
		r.Get("/boms/{id}", h.getBOM)
		r.Post("/boms/{id}/items", h.saveItem)
		r.Post("/boms/{id}/recalculate", h.recalculate)
		r.Get("/work-orders/{id}/consumptions", h.listConsumptions)
		r.Post("/work-orders/{id}/consumptions", h.consume)
		r.Post("/work-orders/{id}/progress", h.progress)
	})
}

type orderRequest struct {
	ProductID    int64           `json:"finished_product_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"quantity"`
	Priority     string          `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Notes        string          `json:"notes"`
	PlannedStart *time.Time      `json:"planned_start"`
	PlannedEnd   *time.Time      `json:"planned_end"`
}

type bomRequest struct {
	ProductID    int64           `json:"finished_product_id" validate:"required,gt=0"`
	Version      string          `json:"version" validate:"max=20"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
}

type itemRequest struct {
	MaterialID      int64           `json:"raw_material_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	AllocatedStages []string        `json:"allocated_stages" validate:"dive,oneof=gurat assembly press finishing"`
}

type generateRequest struct {
	StageQuantities map[string]decimal.Decimal `json:"stage_quantities" validate:"required"`
	StartDate       time.Time                  `json:"start_date" validate:"required"`
	DurationDays    int                        `json:"duration_days" validate:"required,gte=1"`
}

type consumptionRequest struct {
	MaterialID      int64           `json:"raw_material_id" validate:"required,gt=0"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	ActualQuantity  decimal.Decimal `json:"actual_quantity"`
	Notes           string          `json:"notes"`
}

type progressRequest struct {
	Percentage        decimal.Decimal `json:"percentage"`
	QuantityCompleted decimal.Decimal `json:"quantity_completed"`
	Notes             string          `json:"notes"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListOrders(r.Context(), OrderStatus(r.URL.Query().Get("status")))
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

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		Priority:     Priority(req.Priority),
		Notes:        req.Notes,
		PlannedStart: req.PlannedStart,
		PlannedEnd:   req.PlannedEnd,
		ActorID:      httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, wos, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"order":       order,
		"work_orders": wos,
		"progress":    order.Progress(wos),
	})
}

func (h *Handler) workflow(step func(ctx context.Context, id, actorID int64) (ProductionOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out, err := step(r.Context(), id, httpx.ActorID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	quantities := make(map[Stage]decimal.Decimal, len(req.StageQuantities))
	for stage, qty := range req.StageQuantities {
		quantities[Stage(stage)] = qty
	}
	out, err := h.service.GenerateWorkOrders(r.Context(), GenerateInput{
		ProductionOrderID: id,
		StageQuantities:   quantities,
		StartDate:         req.StartDate,
		DurationDays:      req.DurationDays,
		ActorID:           httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) saveBOM(w http.ResponseWriter, r *http.Request) {
	var req bomRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.SaveBOM(r.Context(), SaveBOMInput{
		ProductID: req.ProductID, Version: req.Version, LaborCost: req.LaborCost, OverheadCost: req.OverheadCost,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getBOM(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bom, err := h.service.GetBOM(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bom": bom, "full_cost": bom.FullCost()})
}

func (h *Handler) saveItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	stages := make([]Stage, 0, len(req.AllocatedStages))
	for _, st := range req.AllocatedStages {
		stages = append(stages, Stage(st))
	}
	out, err := h.service.SaveBOMItem(r.Context(), SaveBOMItemInput{BOMID: id, MaterialID: req.MaterialID, Quantity: req.Quantity, AllocatedStages: stages})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.RecalculateBOMTotal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listConsumptions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.ListConsumptions(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req consumptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.RecordConsumption(r.Context(), ConsumptionInput{
		WorkOrderID:     id,
		MaterialID:      req.MaterialID,
		PlannedQuantity: req.PlannedQuantity,
		ActualQuantity:  req.ActualQuantity,
		Notes:           req.Notes,
		ActorID:         httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req progressRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.RecordProgress(r.Context(), ProgressInput{
		WorkOrderID:       id,
		Percentage:        req.Percentage,
		QuantityCompleted: req.QuantityCompleted,
		Notes:             req.Notes,
		ActorID:           httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
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
	h.logger.WarnContext(r.Context(), "manufacturing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
