package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrialBalanceRow is one account line of the trial balance.
type TrialBalanceRow struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// TrialBalance lists net activity per account.
type TrialBalance struct {
	From        *time.Time        `json:"from,omitempty"`
	To          *time.Time        `json:"to,omitempty"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
}

// BalanceSheet sums balances of the balance sheet account types.
type BalanceSheet struct {
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	TotalEquity      decimal.Decimal `json:"total_equity"`
}

// IncomeStatement sums revenue and expense balances.
type IncomeStatement struct {
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	NetIncome     decimal.Decimal `json:"net_income"`
}

// CashFlow classifies the cash effect of activity in a window. Operating is
// revenue less expenses, financing is the growth of liabilities and equity,
// investing is the cash spent on non-cash assets. For balanced books
// NetCashFlow equals CashChange, the direct movement on cash accounts.
type CashFlow struct {
	From        *time.Time      `json:"from,omitempty"`
	To          *time.Time      `json:"to,omitempty"`
	Operating   decimal.Decimal `json:"operating"`
	Investing   decimal.Decimal `json:"investing"`
	Financing   decimal.Decimal `json:"financing"`
	NetCashFlow decimal.Decimal `json:"net_cash_flow"`
	CashChange  decimal.Decimal `json:"cash_change"`
}

// DefaultCashPrefix marks asset accounts holding cash by their code prefix.
const DefaultCashPrefix = "10"

// BuildCashFlow classifies activity. Asset accounts whose code starts with
// cashPrefix count as cash.
func BuildCashFlow(activity []AccountActivity, cashPrefix string) CashFlow {
	cf := CashFlow{Operating: decimal.Zero, Investing: decimal.Zero, Financing: decimal.Zero, CashChange: decimal.Zero}
	for _, a := range activity {
		net := a.Natural()
		switch a.Type {
		case AccountTypeRevenue:
			cf.Operating = cf.Operating.Add(net)
		case AccountTypeExpense:
			cf.Operating = cf.Operating.Sub(net)
		case AccountTypeLiability, AccountTypeEquity:
			cf.Financing = cf.Financing.Add(net)
		case AccountTypeAsset:
			if cashPrefix != "" && strings.HasPrefix(a.Code, cashPrefix) {
				cf.CashChange = cf.CashChange.Add(net)
			} else {
				cf.Investing = cf.Investing.Sub(net)
			}
		}
	}
	cf.NetCashFlow = cf.Operating.Add(cf.Investing).Add(cf.Financing)
	return cf
}

// BuildTrialBalance nets debit minus credit per active account. A positive net
// goes in the debit column, a negative one in credit, zero rows are dropped.
func BuildTrialBalance(activity []AccountActivity) TrialBalance {
	tb := TrialBalance{Rows: []TrialBalanceRow{}, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, a := range activity {
		if !a.IsActive {
			continue
		}
		net := a.DebitTotal.Sub(a.CreditTotal)
		if net.IsZero() {
			continue
		}
		row := TrialBalanceRow{AccountID: a.AccountID, Code: a.Code, Name: a.Name, Type: a.Type, Debit: decimal.Zero, Credit: decimal.Zero}
		if net.IsPositive() {
			row.Debit = net
			tb.TotalDebit = tb.TotalDebit.Add(net)
		} else {
			row.Credit = net.Abs()
			tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		}
		tb.Rows = append(tb.Rows, row)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	return tb
}

// BuildBalanceSheet sums account balances by type.
func BuildBalanceSheet(accounts []Account) BalanceSheet {
	bs := BalanceSheet{TotalAssets: decimal.Zero, TotalLiabilities: decimal.Zero, TotalEquity: decimal.Zero}
	for _, a := range accounts {
		switch a.Type {
		case AccountTypeAsset:
			bs.TotalAssets = bs.TotalAssets.Add(a.Balance)
		case AccountTypeLiability:
			bs.TotalLiabilities = bs.TotalLiabilities.Add(a.Balance)
		case AccountTypeEquity:
			bs.TotalEquity = bs.TotalEquity.Add(a.Balance)
		}
	}
	return bs
}

// BuildIncomeStatement sums revenue and expense balances.
func BuildIncomeStatement(accounts []Account) IncomeStatement {
	is := IncomeStatement{TotalRevenue: decimal.Zero, TotalExpenses: decimal.Zero}
	for _, a := range accounts {
		switch a.Type {
		case AccountTypeRevenue:
			is.TotalRevenue = is.TotalRevenue.Add(a.Balance)
		case AccountTypeExpense:
			is.TotalExpenses = is.TotalExpenses.Add(a.Balance)
		}
	}
	is.NetIncome = is.TotalRevenue.Sub(is.TotalExpenses)
	return is
}

// TrialBalance returns the cached trial balance of activity inside window.
func (s *Service) TrialBalance(ctx context.Context, window DateRange) (TrialBalance, error) {
	if err := window.Validate(); err != nil {
		return TrialBalance{}, err
	}
	var out TrialBalance
	err := s.cached(ctx, "trial_balance:"+window.key(), &out, func(ctx context.Context) (any, error) {
		activity, err := s.repo.AccountActivity(ctx, window)
		if err != nil {
			return nil, err
		}
		tb := BuildTrialBalance(activity)
		tb.From, tb.To = bounds(window)
		return tb, nil
	})
	return out, err
}

// CashFlow returns the cached cash flow report of activity inside window.
func (s *Service) CashFlow(ctx context.Context, window DateRange) (CashFlow, error) {
	if err := window.Validate(); err != nil {
		return CashFlow{}, err
	}
	var out CashFlow
	err := s.cached(ctx, "cash_flow:"+s.cashPrefix+":"+window.key(), &out, func(ctx context.Context) (any, error) {
		activity, err := s.repo.AccountActivity(ctx, window)
		if err != nil {
			return nil, err
		}
		cf := BuildCashFlow(activity, s.cashPrefix)
		cf.From, cf.To = bounds(window)
		return cf, nil
	})
	return out, err
}

func bounds(window DateRange) (from, to *time.Time) {
	if !window.From.IsZero() {
		f := dateOf(window.From)
		from = &f
	}
	if !window.To.IsZero() {
		t := dateOf(window.To)
		to = &t
	}
	return from, to
}

// BalanceSheet returns the cached balance sheet totals.
func (s *Service) BalanceSheet(ctx context.Context) (BalanceSheet, error) {
	var out BalanceSheet
	err := s.cached(ctx, "balance_sheet", &out, func(ctx context.Context) (any, error) {
		accounts, err := s.repo.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		return BuildBalanceSheet(accounts), nil
	})
	return out, err
}

// IncomeStatement returns the cached income statement totals.
func (s *Service) IncomeStatement(ctx context.Context) (IncomeStatement, error) {
	var out IncomeStatement
	err := s.cached(ctx, "income_statement", &out, func(ctx context.Context) (any, error) {
		accounts, err := s.repo.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		return BuildIncomeStatement(accounts), nil
	})
	return out, err
}

func (s *Service) cached(ctx context.Context, report string, dest any, loader func(context.Context) (any, error)) error {
	key, err := s.cache.BuildKey(ctx, report)
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}
