package sales

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/httpx"
)

// Handler manages sales endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Get("/customers", h.listCustomers)
		r.Post("/customers", h.createCustomer)
		r.Get("/customers/{id}", h.getCustomer)
		r.Put("/pricing/{id}", h.setPricing)
		r.Get("/pricing/{id}", h.getPricing)
		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Put("/orders/{id}", h.updateOrder)
		r.Post("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/recompute", h.recompute)
		r.Post("/orders/{id}/invoice", h.createInvoice)
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/open", h.openInvoices)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Get("/invoices/{id}/payments", h.listPayments)
		r.Post("/invoices/{id}/payments", h.applyPayment)
	})
}

type customerRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Email       string          `json:"email" validate:"required,email"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type pricingRequest struct {
	BasePrice          decimal.Decimal  `json:"base_price"`
	SeasonalPrice      *decimal.Decimal `json:"seasonal_price"`
	SeasonalStart      *time.Time       `json:"seasonal_start"`
	SeasonalEnd        *time.Time       `json:"seasonal_end"`
	MaxDiscountPercent *decimal.Decimal `json:"max_discount_percent"`
}

type itemRequest struct {
	ProductID       int64           `json:"finished_product_id" validate:"required,gt=0"`
	Quantity        int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type orderRequest struct {
	CustomerID     int64           `json:"customer_id" validate:"required,gt=0"`
	OrderDate      time.Time       `json:"order_date"`
	RequiredDate   time.Time       `json:"required_date"`
	Items          []itemRequest   `json:"items" validate:"required,min=1,dive"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Notes          string          `json:"notes"`
}

type updateOrderRequest struct {
	RequiredDate   time.Time       `json:"required_date"`
	Items          []itemRequest   `json:"items" validate:"required,min=1,dive"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Notes          string          `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed processing shipped delivered cancelled"`
}

type invoiceRequest struct {
	DueDate time.Time `json:"due_date" validate:"required"`
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" validate:"required,oneof=cash bank_transfer credit_card check"`
	Reference   string          `json:"reference" validate:"max=100"`
	Notes       string          `json:"notes"`
	PaymentDate time.Time       `json:"payment_date"`
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.CreateCustomer(r.Context(), CreateCustomerInput{Name: req.Name, Email: req.Email, CreditLimit: req.CreditLimit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	out, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) setPricing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req pricingRequest
	if !h.decode(w, r, &req) {
		return
	}
	maxDiscount := decimal.NewFromInt(20)
	if req.MaxDiscountPercent != nil {
		maxDiscount = *req.MaxDiscountPercent
	}
	out, err := h.service.SetPricing(r.Context(), ProductPricing{
		ProductID:          id,
		BasePrice:          req.BasePrice,
		SeasonalPrice:      req.SeasonalPrice,
		SeasonalStart:      req.SeasonalStart,
		SeasonalEnd:        req.SeasonalEnd,
		MaxDiscountPercent: maxDiscount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getPricing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPricing(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pricing": p, "current_price": p.CurrentPrice(time.Now())})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListOrders(r.Context(), OrderStatus(r.URL.Query().Get("status")))
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
	input := CreateOrderInput{
		CustomerID:     req.CustomerID,
		OrderDate:      req.OrderDate,
		RequiredDate:   req.RequiredDate,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		ShippingCost:   req.ShippingCost,
		Notes:          req.Notes,
		ActorID:        httpx.ActorID(r),
	}
	input.Items = itemInputs(req.Items)
	out, err := h.service.CreateSalesOrder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	out, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req updateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.UpdateSalesOrder(r.Context(), UpdateOrderInput{
		OrderID:        id,
		RequiredDate:   req.RequiredDate,
		Items:          itemInputs(req.Items),
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		ShippingCost:   req.ShippingCost,
		Notes:          req.Notes,
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func itemInputs(items []itemRequest) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, ItemInput{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
		})
	}
	return out
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.UpdateOrderStatus(r.Context(), id, OrderStatus(req.Status), httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	out, err := h.service.RecomputeOrderTotals(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req invoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.CreateInvoice(r.Context(), id, req.DueDate, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	var statuses []PaymentStatus
	if st := r.URL.Query().Get("status"); st != "" {
		statuses = append(statuses, PaymentStatus(st))
	}
	out, err := h.service.ListInvoices(r.Context(), statuses...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) openInvoices(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListOpenInvoices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice": inv, "balance_due": inv.BalanceDue()})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	out, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.ApplyPayment(r.Context(), ApplyPaymentInput{
		InvoiceID:   id,
		Amount:      req.Amount,
		Method:      PaymentMethod(req.Method),
		Reference:   req.Reference,
		Notes:       req.Notes,
		PaymentDate: req.PaymentDate,
		ActorID:     httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return 0, false
	}
	return id, true
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
	h.logger.WarnContext(r.Context(), "sales request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
