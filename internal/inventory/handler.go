package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/httpx"
)

// IdempotencyHeader carries the optional client request key for adjustments.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes inventory operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/materials", h.listMaterials)
		r.Post("/raw-materials", h.createRawMaterial)
		r.Post("/finished-products", h.createFinishedProduct)
		r.Get("/materials/{kind}/{id}", h.getMaterial)
		r.Put("/materials/{kind}/{id}/price", h.updatePrice)
		r.Post("/adjustments", h.adjustStock)
		r.Get("/transactions", h.listTransactions)
		r.Get("/alerts", h.alerts)
		r.Get("/alerts/open", h.openAlerts)
		r.Post("/alerts/sync", h.syncAlerts)
		r.Get("/valuation", h.valuation)
		r.Get("/warehouses", h.listWarehouses)
	})
}

type adjustRequest struct {
	MaterialType string          `json:"material_type" validate:"required,oneof=raw_material finished_product"`
	MaterialID   int64           `json:"material_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"quantity"`
	Direction    string          `json:"direction" validate:"required,oneof=add subtract"`
	WarehouseID  int64           `json:"warehouse_id" validate:"gte=0"`
	Reason       string          `json:"reason" validate:"required,max=500"`
}

type rawMaterialRequest struct {
	Code         string          `json:"code" validate:"required,max=50"`
	Name         string          `json:"name" validate:"required,max=200"`
	Unit         string          `json:"unit" validate:"required,oneof=kg m pcs roll sheet"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	MaximumStock decimal.Decimal `json:"maximum_stock"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type finishedProductRequest struct {
	Code         string          `json:"code" validate:"required,max=50"`
	Name         string          `json:"name" validate:"required,max=200"`
	Size         int             `json:"size" validate:"required,min=35,max=45"`
	Color        string          `json:"color" validate:"required"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	MaximumStock decimal.Decimal `json:"maximum_stock"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type priceRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.ListMaterials(r.Context(), MaterialKind(r.URL.Query().Get("kind")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, materials)
}

func (h *Handler) createRawMaterial(w http.ResponseWriter, r *http.Request) {
	var req rawMaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.CreateRawMaterial(r.Context(), CreateRawMaterialInput{
		Code: req.Code, Name: req.Name, Unit: Unit(req.Unit),
		MinimumStock: req.MinimumStock, MaximumStock: req.MaximumStock, UnitPrice: req.UnitPrice,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) createFinishedProduct(w http.ResponseWriter, r *http.Request) {
	var req finishedProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.CreateFinishedProduct(r.Context(), CreateFinishedProductInput{
		Code: req.Code, Name: req.Name, Size: req.Size, Color: Color(req.Color),
		MinimumStock: req.MinimumStock, MaximumStock: req.MaximumStock, UnitPrice: req.UnitPrice,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.GetMaterial(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.UpdateUnitPrice(r.Context(), ref, req.UnitPrice, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := ParseMaterialRef(req.MaterialType, req.MaterialID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.AdjustStock(r.Context(), AdjustStockInput{
		Material:       ref,
		Quantity:       req.Quantity,
		Direction:      Direction(req.Direction),
		WarehouseID:    req.WarehouseID,
		Reason:         req.Reason,
		ActorID:        httpx.ActorID(r),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter := TransactionFilter{}
	q := r.URL.Query()
	if kind := q.Get("material_type"); kind != "" {
		id, _ := strconv.ParseInt(q.Get("material_id"), 10, 64)
		ref, err := ParseMaterialRef(kind, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Material = &ref
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, httpx.ErrBadRequest)
			return
		}
		filter.Limit = limit
	}
	out, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Alerts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) openAlerts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.OpenAlerts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) syncAlerts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.SyncAlerts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Valuation(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
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
	h.logger.WarnContext(r.Context(), "inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func refParam(r *http.Request) (MaterialRef, error) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return MaterialRef{}, err
	}
	return ParseMaterialRef(chi.URLParam(r, "kind"), id)
}
