package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/httpx"
)

// Handler exposes ledger operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Get("/accounts/{id}", h.getAccount)
		r.Get("/transactions", h.listTransactions)
		r.Post("/transactions", h.applyTransaction)
		r.Post("/transfers", h.transfer)
		r.Post("/journals", h.createJournal)
		r.Get("/journals/{id}", h.getJournal)
		r.Post("/journals/{id}/post", h.postJournal)
		r.Get("/reports/trial-balance", h.trialBalance)
		r.Get("/reports/balance-sheet", h.balanceSheet)
		r.Get("/reports/income-statement", h.incomeStatement)
		r.Get("/reports/cash-flow", h.cashFlow)

		r.Get("/periods", h.listPeriods)
		r.Post("/periods", h.createPeriod)
		r.Get("/periods/current", h.currentPeriod)
		r.Get("/periods/{id}", h.getPeriod)
		r.Post("/periods/{id}/close", h.closePeriod)

		r.Get("/budgets", h.listBudgets)
		r.Post("/budgets", h.createBudget)
		r.Get("/budgets/{id}", h.getBudget)
		r.Post("/budgets/{id}/status", h.setBudgetStatus)
		r.Post("/budgets/{id}/refresh", h.refreshBudget)
		r.Get("/budgets/{id}/variance", h.budgetVariance)

		r.Get("/tax-rates", h.listTaxRates)
		r.Post("/tax-rates", h.createTaxRate)
	})
}

type transactionRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Type        string          `json:"type" validate:"required,oneof=debit credit"`
	Amount      decimal.Decimal `json:"amount"`
	Date        *time.Time      `json:"date"`
	Description string          `json:"description" validate:"max=500"`
	Reference   string          `json:"reference" validate:"max=100"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
	Date          *time.Time      `json:"date"`
	Description   string          `json:"description" validate:"max=500"`
}

type journalLineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Type        string          `json:"type" validate:"required,oneof=debit credit"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

type journalRequest struct {
	Reference   string               `json:"reference" validate:"max=50"`
	Date        *time.Time           `json:"date"`
	Description string               `json:"description" validate:"max=500"`
	Lines       []journalLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type periodRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type budgetLineRequest struct {
	AccountID      int64           `json:"account_id" validate:"required,gt=0"`
	BudgetedAmount decimal.Decimal `json:"budgeted_amount"`
	Period         string          `json:"period"`
}

type budgetRequest struct {
	Name        string              `json:"name" validate:"required,max=100"`
	Description string              `json:"description" validate:"max=500"`
	StartDate   string              `json:"start_date" validate:"required"`
	EndDate     string              `json:"end_date" validate:"required"`
	Lines       []budgetLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type budgetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft approved active closed"`
}

type taxRateRequest struct {
	Name                  string          `json:"name" validate:"required,max=100"`
	Code                  string          `json:"code" validate:"required,max=20"`
	Rate                  decimal.Decimal `json:"rate"`
	Description           string          `json:"description" validate:"max=500"`
	ApplicableToSales     bool            `json:"applicable_to_sales"`
	ApplicableToPurchases bool            `json:"applicable_to_purchases"`
	EffectiveFrom         string          `json:"effective_from" validate:"required"`
	EffectiveTo           string          `json:"effective_to"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter := TransactionFilter{}
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, r, httpx.ErrBadRequest)
			return
		}
		filter.AccountID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, httpx.ErrBadRequest)
			return
		}
		filter.Limit = limit
	}
	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) applyTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	tx, err := h.service.ApplyTransaction(r.Context(), ApplyTransactionInput{
		AccountID:   req.AccountID,
		Type:        TransactionType(req.Type),
		Amount:      req.Amount,
		Date:        deref(req.Date),
		Description: req.Description,
		Reference:   req.Reference,
		ActorID:     httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	pair, err := h.service.Transfer(r.Context(), TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Date:          deref(req.Date),
		Description:   req.Description,
		ActorID:       httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pair)
}

func (h *Handler) createJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]JournalLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, JournalLine{AccountID: l.AccountID, Type: TransactionType(l.Type), Amount: l.Amount, Description: l.Description})
	}
	entry, err := h.service.CreateJournalEntry(r.Context(), CreateJournalInput{
		Reference:   req.Reference,
		Date:        deref(req.Date),
		Description: req.Description,
		Lines:       lines,
		ActorID:     httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.GetJournalEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.PostJournalEntry(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	window, err := dateRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	bs, err := h.service.BalanceSheet(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) incomeStatement(w http.ResponseWriter, r *http.Request) {
	is, err := h.service.IncomeStatement(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, is)
}

func (h *Handler) cashFlow(w http.ResponseWriter, r *http.Request) {
	window, err := dateRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cf, err := h.service.CashFlow(r.Context(), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cf)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.ListPeriods(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseDay(req.StartDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseDay(req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), CreatePeriodInput{Name: req.Name, StartDate: start, EndDate: end, ActorID: httpx.ActorID(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) currentPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.service.CurrentPeriod(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.service.ClosePeriod(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.service.ListBudgets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgets)
}

func (h *Handler) createBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := CreateBudgetInput{Name: req.Name, Description: req.Description, ActorID: httpx.ActorID(r)}
	var err error
	if in.StartDate, err = parseDay(req.StartDate); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.EndDate, err = parseDay(req.EndDate); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, l := range req.Lines {
		line := BudgetLineInput{AccountID: l.AccountID, BudgetedAmount: l.BudgetedAmount}
		if l.Period != "" {
			p, err := parseDay(l.Period)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			line.Period = &p
		}
		in.Lines = append(in.Lines, line)
	}
	budget, err := h.service.CreateBudget(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, budget)
}

func (h *Handler) getBudget(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	budget, err := h.service.GetBudget(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
}

func (h *Handler) setBudgetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req budgetStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	budget, err := h.service.SetBudgetStatus(r.Context(), id, BudgetStatus(req.Status), httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
}

func (h *Handler) refreshBudget(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	budget, err := h.service.RefreshBudgetActuals(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, budget)
}

func (h *Handler) budgetVariance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	threshold := decimal.Zero
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		if threshold, err = decimal.NewFromString(raw); err != nil {
			h.fail(w, r, httpx.ErrBadRequest)
			return
		}
	}
	rows, err := h.service.BudgetVariance(r.Context(), id, threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) listTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.ListTaxRates(r.Context(), r.URL.Query().Get("current") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rates)
}

func (h *Handler) createTaxRate(w http.ResponseWriter, r *http.Request) {
	var req taxRateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := parseDay(req.EffectiveFrom)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := CreateTaxRateInput{
		Name:                  req.Name,
		Code:                  req.Code,
		Rate:                  req.Rate,
		Description:           req.Description,
		ApplicableToSales:     req.ApplicableToSales,
		ApplicableToPurchases: req.ApplicableToPurchases,
		EffectiveFrom:         from,
		ActorID:               httpx.ActorID(r),
	}
	if req.EffectiveTo != "" {
		to, err := parseDay(req.EffectiveTo)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.EffectiveTo = &to
	}
	rate, err := h.service.CreateTaxRate(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

const dayLayout = "2006-01-02"

func parseDay(raw string) (time.Time, error) {
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, httpx.ErrBadRequest
	}
	return t, nil
}

// dateRange reads the optional from and to query parameters.
func dateRange(r *http.Request) (DateRange, error) {
	var window DateRange
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if window.From, err = parseDay(raw); err != nil {
			return DateRange{}, err
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if window.To, err = parseDay(raw); err != nil {
			return DateRange{}, err
		}
	}
	return window, nil
}
