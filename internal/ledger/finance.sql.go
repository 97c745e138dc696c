package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

const periodColumns = `id, name, start_date, end_date, is_closed, closed_at, closed_by, created_by, created_at`

func scanPeriod(row pgx.Row) (FinancialPeriod, error) {
	var p FinancialPeriod
	var createdBy *int64
	if err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &p.ClosedBy, &createdBy, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FinancialPeriod{}, ErrPeriodNotFound
		}
		return FinancialPeriod{}, err
	}
	if createdBy != nil {
		p.CreatedBy = *createdBy
	}
	return p, nil
}

// ListPeriods returns periods newest first.
func (r *Repository) ListPeriods(ctx context.Context) ([]FinancialPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM financial_periods ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []FinancialPeriod{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPeriod loads one period.
func (r *Repository) GetPeriod(ctx context.Context, id int64) (FinancialPeriod, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1`, id))
}

func (r *txRepository) PeriodOverlaps(ctx context.Context, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM financial_periods WHERE start_date <= $2 AND end_date >= $1
)`, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) PeriodForDate(ctx context.Context, day time.Time) (FinancialPeriod, bool, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods
WHERE $1::date BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR SHARE`, day))
	if errors.Is(err, ErrPeriodNotFound) {
		return FinancialPeriod{}, false, nil
	}
	if err != nil {
		return FinancialPeriod{}, false, err
	}
	return p, true, nil
}

func (r *txRepository) InsertPeriod(ctx context.Context, p FinancialPeriod) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO financial_periods (name, start_date, end_date, is_closed, created_by, created_at)
VALUES ($1,$2,$3,FALSE,$4,$5) RETURNING id`, p.Name, p.StartDate, p.EndDate, nullInt(p.CreatedBy), p.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (FinancialPeriod, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) MarkPeriodClosed(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE financial_periods SET is_closed=TRUE, closed_at=$2, closed_by=$3 WHERE id=$1 AND is_closed=FALSE`, id, at, actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodClosed
	}
	return nil
}

const budgetColumns = `id, name, description, start_date, end_date, is_active, status, created_by, created_at, updated_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	var status string
	var createdBy *int64
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.StartDate, &b.EndDate, &b.IsActive, &status, &createdBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, ErrBudgetNotFound
		}
		return Budget{}, err
	}
	b.Status = BudgetStatus(status)
	if createdBy != nil {
		b.CreatedBy = *createdBy
	}
	b.Lines = []BudgetLine{}
	return b, nil
}

func loadBudgetLines(ctx context.Context, q shared.DBTX, budgetID int64) ([]BudgetLine, error) {
	rows, err := q.Query(ctx, `SELECT id, budget_id, account_id, budgeted_amount, actual_amount, period
FROM budget_lines WHERE budget_id=$1 ORDER BY id`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []BudgetLine{}
	for rows.Next() {
		var l BudgetLine
		if err := rows.Scan(&l.ID, &l.BudgetID, &l.AccountID, &l.BudgetedAmount, &l.ActualAmount, &l.Period); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListBudgets returns budgets newest first without their lines.
func (r *Repository) ListBudgets(ctx context.Context) ([]Budget, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY start_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Budget{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBudget loads a budget with its lines.
func (r *Repository) GetBudget(ctx context.Context, id int64) (Budget, error) {
	b, err := scanBudget(r.pool.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1`, id))
	if err != nil {
		return Budget{}, err
	}
	b.Lines, err = loadBudgetLines(ctx, r.pool, id)
	return b, err
}

func (r *txRepository) InsertBudget(ctx context.Context, b Budget) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO budgets (name, description, start_date, end_date, is_active, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8) RETURNING id`,
		b.Name, b.Description, b.StartDate, b.EndDate, b.IsActive, string(b.Status), nullInt(b.CreatedBy), b.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBudgetLines(ctx context.Context, budgetID int64, lines []BudgetLine) ([]BudgetLine, error) {
	out := make([]BudgetLine, 0, len(lines))
	for _, line := range lines {
		line.BudgetID = budgetID
		if err := r.tx.QueryRow(ctx, `INSERT INTO budget_lines (budget_id, account_id, budgeted_amount, actual_amount, period)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, budgetID, line.AccountID, line.BudgetedAmount, line.ActualAmount, line.Period).Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetBudgetForUpdate(ctx context.Context, id int64) (Budget, error) {
	b, err := scanBudget(r.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Budget{}, err
	}
	b.Lines, err = loadBudgetLines(ctx, r.tx, id)
	return b, err
}

func (r *txRepository) UpdateBudgetStatus(ctx context.Context, b Budget) error {
	tag, err := r.tx.Exec(ctx, `UPDATE budgets SET status=$2, is_active=$3, updated_at=$4 WHERE id=$1`, b.ID, string(b.Status), b.IsActive, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (r *txRepository) UpdateBudgetActuals(ctx context.Context, lines []BudgetLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`UPDATE budget_lines SET actual_amount=$2 WHERE id=$1`, line.ID, line.ActualAmount)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

const taxRateColumns = `id, name, code, rate, description, is_active, applicable_to_sales, applicable_to_purchases, effective_from, effective_to, created_by, created_at`

// ListTaxRates returns tax rates ordered by code.
func (r *Repository) ListTaxRates(ctx context.Context) ([]TaxRate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taxRateColumns+` FROM tax_rates ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TaxRate{}
	for rows.Next() {
		var t TaxRate
		var createdBy *int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Code, &t.Rate, &t.Description, &t.IsActive, &t.ApplicableToSales,
			&t.ApplicableToPurchases, &t.EffectiveFrom, &t.EffectiveTo, &createdBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		if createdBy != nil {
			t.CreatedBy = *createdBy
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertTaxRate(ctx context.Context, t TaxRate) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO tax_rates (name, code, rate, description, is_active, applicable_to_sales, applicable_to_purchases, effective_from, effective_to, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		t.Name, t.Code, t.Rate, t.Description, t.IsActive, t.ApplicableToSales, t.ApplicableToPurchases,
		t.EffectiveFrom, t.EffectiveTo, nullInt(t.CreatedBy), t.CreatedAt).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateTaxCode
	}
	return id, err
}
