package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// BudgetStatus tracks budget approval.
type BudgetStatus string

const (
	BudgetDraft    BudgetStatus = "draft"
	BudgetApproved BudgetStatus = "approved"
	BudgetActive   BudgetStatus = "active"
	BudgetClosed   BudgetStatus = "closed"
)

var budgetTransitions = map[BudgetStatus]BudgetStatus{
	BudgetDraft:    BudgetApproved,
	BudgetApproved: BudgetActive,
	BudgetActive:   BudgetClosed,
}

// Valid reports whether s is a known status.
func (s BudgetStatus) Valid() bool {
	switch s {
	case BudgetDraft, BudgetApproved, BudgetActive, BudgetClosed:
		return true
	}
	return false
}

// Budget plans amounts per account over a date range.
type Budget struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	StartDate   time.Time    `json:"start_date"`
	EndDate     time.Time    `json:"end_date"`
	IsActive    bool         `json:"is_active"`
	Status      BudgetStatus `json:"status"`
	CreatedBy   int64        `json:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Lines       []BudgetLine `json:"lines"`
}

// BudgetLine is the planned amount of one account. A line with a Period covers
// that calendar month only.
type BudgetLine struct {
	ID             int64           `json:"id"`
	BudgetID       int64           `json:"budget_id"`
	AccountID      int64           `json:"account_id"`
	BudgetedAmount decimal.Decimal `json:"budgeted_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Period         *time.Time      `json:"period,omitempty"`
}

// Variance is actual minus budgeted.
func (l BudgetLine) Variance() decimal.Decimal {
	return l.ActualAmount.Sub(l.BudgetedAmount)
}

// VariancePercentage is the variance relative to the budgeted amount, zero
// when nothing was budgeted.
func (l BudgetLine) VariancePercentage() decimal.Decimal {
	if l.BudgetedAmount.IsZero() {
		return decimal.Zero
	}
	return round2(l.Variance().Div(l.BudgetedAmount).Mul(hundred))
}

func (l BudgetLine) window(b Budget) DateRange {
	if l.Period == nil {
		return DateRange{From: b.StartDate, To: b.EndDate}
	}
	start := time.Date(l.Period.Year(), l.Period.Month(), 1, 0, 0, 0, 0, time.UTC)
	return DateRange{From: start, To: start.AddDate(0, 1, -1)}
}

// BudgetLineInput is one planned amount of CreateBudgetInput.
type BudgetLineInput struct {
	AccountID      int64
	BudgetedAmount decimal.Decimal
	Period         *time.Time
}

// CreateBudgetInput describes a new draft budget.
type CreateBudgetInput struct {
	Name        string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Lines       []BudgetLineInput
	ActorID     int64
}

// Validate ensures the budget range and lines are coherent.
func (in CreateBudgetInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return shared.Validation("ledger: budget name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return shared.Validation("ledger: budget start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return shared.Validation("ledger: budget start date cannot be after end date")
	}
	if len(in.Lines) == 0 {
		return shared.Validation("ledger: budget requires at least one line")
	}
	for i, line := range in.Lines {
		if line.AccountID == 0 {
			return shared.Validation(fmt.Sprintf("ledger: budget line %d account required", i+1))
		}
		if line.BudgetedAmount.IsNegative() {
			return shared.Validation(fmt.Sprintf("ledger: budget line %d amount cannot be negative", i+1))
		}
		if line.Period != nil {
			day := dateOf(*line.Period)
			if day.Before(dateOf(in.StartDate)) || day.After(dateOf(in.EndDate)) {
				return shared.Validation(fmt.Sprintf("ledger: budget line %d period outside budget range", i+1))
			}
		}
	}
	return nil
}

// VarianceRow is one budget line compared against actual activity.
type VarianceRow struct {
	LineID      int64           `json:"line_id"`
	AccountID   int64           `json:"account_id"`
	Budgeted    decimal.Decimal `json:"budgeted"`
	Actual      decimal.Decimal `json:"actual"`
	Variance    decimal.Decimal `json:"variance"`
	VariancePct decimal.Decimal `json:"variance_pct"`
	Flagged     bool            `json:"flagged"`
}

var (
	// ErrBudgetNotFound indicates a missing budget.
	ErrBudgetNotFound = shared.NotFound("ledger: budget not found")
	// ErrBudgetTransition indicates a status change out of order.
	ErrBudgetTransition = shared.Conflict("ledger: invalid budget status transition")
	// ErrBudgetClosed indicates a write to a closed budget.
	ErrBudgetClosed = shared.Conflict("ledger: budget is closed")

	hundred = decimal.NewFromInt(100)
)

// CreateBudget stores a draft budget after checking every line account.
func (s *Service) CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error) {
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	now := s.now()
	budget := Budget{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		StartDate:   dateOf(in.StartDate),
		EndDate:     dateOf(in.EndDate),
		IsActive:    true,
		Status:      BudgetDraft,
		CreatedBy:   in.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range in.Lines {
		bl := BudgetLine{AccountID: line.AccountID, BudgetedAmount: line.BudgetedAmount, ActualAmount: decimal.Zero}
		if line.Period != nil {
			p := dateOf(*line.Period)
			bl.Period = &p
		}
		budget.Lines = append(budget.Lines, bl)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range budget.Lines {
			if _, err := tx.GetAccountForUpdate(ctx, line.AccountID); err != nil {
				return err
			}
		}
		id, err := tx.InsertBudget(ctx, budget)
		if err != nil {
			return err
		}
		budget.ID = id
		budget.Lines, err = tx.InsertBudgetLines(ctx, id, budget.Lines)
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	s.record(ctx, in.ActorID, "budget.create", "budget", budget.ID, map[string]any{"name": budget.Name, "lines": len(budget.Lines)})
	return budget, nil
}

// GetBudget loads one budget with its lines.
func (s *Service) GetBudget(ctx context.Context, id int64) (Budget, error) {
	return s.repo.GetBudget(ctx, id)
}

// ListBudgets returns budgets without lines.
func (s *Service) ListBudgets(ctx context.Context) ([]Budget, error) {
	return s.repo.ListBudgets(ctx)
}

// SetBudgetStatus moves a budget one step along draft, approved, active, closed.
func (s *Service) SetBudgetStatus(ctx context.Context, id int64, next BudgetStatus, actorID int64) (Budget, error) {
	if !next.Valid() {
		return Budget{}, shared.Validation(fmt.Sprintf("ledger: invalid budget status %q", next))
	}
	var budget Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBudgetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if budgetTransitions[current.Status] != next {
			return ErrBudgetTransition
		}
		current.Status = next
		current.IsActive = next != BudgetClosed
		current.UpdatedAt = s.now()
		if err := tx.UpdateBudgetStatus(ctx, current); err != nil {
			return err
		}
		budget = current
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	s.record(ctx, actorID, "budget.status", "budget", budget.ID, map[string]any{"status": string(budget.Status)})
	return budget, nil
}

// RefreshBudgetActuals recomputes each line's actual amount from ledger
// activity inside the line's window.
func (s *Service) RefreshBudgetActuals(ctx context.Context, id int64) (Budget, error) {
	var budget Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBudgetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == BudgetClosed {
			return ErrBudgetClosed
		}
		activity := map[DateRange]map[int64]decimal.Decimal{}
		for i, line := range current.Lines {
			window := line.window(current)
			byAccount, ok := activity[window]
			if !ok {
				rows, err := tx.AccountActivity(ctx, window)
				if err != nil {
					return err
				}
				byAccount = make(map[int64]decimal.Decimal, len(rows))
				for _, row := range rows {
					byAccount[row.AccountID] = row.Natural()
				}
				activity[window] = byAccount
			}
			current.Lines[i].ActualAmount = byAccount[line.AccountID]
		}
		if err := tx.UpdateBudgetActuals(ctx, current.Lines); err != nil {
			return err
		}
		budget = current
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	return budget, nil
}

// BudgetVariance compares every line against its actual amount. Rows whose
// absolute variance percentage reaches thresholdPct are flagged; a zero
// threshold flags nothing.
func (s *Service) BudgetVariance(ctx context.Context, id int64, thresholdPct decimal.Decimal) ([]VarianceRow, error) {
	budget, err := s.repo.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	return ComputeVariance(budget.Lines, thresholdPct), nil
}

// ComputeVariance builds variance rows for lines.
func ComputeVariance(lines []BudgetLine, thresholdPct decimal.Decimal) []VarianceRow {
	rows := make([]VarianceRow, 0, len(lines))
	for _, line := range lines {
		row := VarianceRow{
			LineID:      line.ID,
			AccountID:   line.AccountID,
			Budgeted:    line.BudgetedAmount,
			Actual:      line.ActualAmount,
			Variance:    round2(line.Variance()),
			VariancePct: line.VariancePercentage(),
		}
		if thresholdPct.IsPositive() && row.VariancePct.Abs().GreaterThanOrEqual(thresholdPct) {
			row.Flagged = true
		}
		rows = append(rows, row)
	}
	return rows
}

func round2(v decimal.Decimal) decimal.Decimal { return v.Round(2) }
