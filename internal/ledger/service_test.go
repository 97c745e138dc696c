package ledger

import (
	"context"
	"errors"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

type memoryRepo struct {
	accounts     map[int64]Account
	journals     map[int64]JournalEntry
	transactions []Transaction
	periods      map[int64]FinancialPeriod
	budgets      map[int64]Budget
	taxRates     map[int64]TaxRate
	nextID       int64
	failInsertOn int
	inserts      int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: map[int64]Account{},
		journals: map[int64]JournalEntry{},
		periods:  map[int64]FinancialPeriod{},
		budgets:  map[int64]Budget{},
		taxRates: map[int64]TaxRate{},
	}
}

// WithTx snapshots state and restores it when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	accounts := maps.Clone(r.accounts)
	journals := maps.Clone(r.journals)
	txs := append([]Transaction(nil), r.transactions...)
	periods := maps.Clone(r.periods)
	budgets := maps.Clone(r.budgets)
	taxRates := maps.Clone(r.taxRates)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.accounts, r.journals, r.transactions = accounts, journals, txs
		r.periods, r.budgets, r.taxRates = periods, budgets, taxRates
		return err
	}
	return nil
}

func (r *memoryRepo) ListAccounts(context.Context) ([]Account, error) {
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (r *memoryRepo) GetAccount(_ context.Context, id int64) (Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (r *memoryRepo) GetJournalEntry(_ context.Context, id int64) (JournalEntry, error) {
	e, ok := r.journals[id]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	return e, nil
}

func (r *memoryRepo) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	out := []Transaction{}
	for _, t := range r.transactions {
		if filter.AccountID == 0 || t.AccountID == filter.AccountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) AccountActivity(_ context.Context, window DateRange) ([]AccountActivity, error) {
	byID := map[int64]*AccountActivity{}
	for id, a := range r.accounts {
		byID[id] = &AccountActivity{AccountID: id, Code: a.Code, Name: a.Name, Type: a.Type, IsActive: a.IsActive}
	}
	for _, t := range r.transactions {
		day := dateOf(t.Date)
		if (!window.From.IsZero() && day.Before(dateOf(window.From))) || (!window.To.IsZero() && day.After(dateOf(window.To))) {
			continue
		}
		act := byID[t.AccountID]
		if t.Type == Debit {
			act.DebitTotal = act.DebitTotal.Add(t.Amount)
		} else {
			act.CreditTotal = act.CreditTotal.Add(t.Amount)
		}
	}
	out := []AccountActivity{}
	for _, a := range byID {
		out = append(out, *a)
	}
	return out, nil
}

func (tx *memoryTx) InsertAccount(_ context.Context, account Account) (int64, error) {
	for _, a := range tx.repo.accounts {
		if a.Code == account.Code {
			return 0, ErrDuplicateCode
		}
	}
	tx.repo.nextID++
	account.ID = tx.repo.nextID
	tx.repo.accounts[account.ID] = account
	return account.ID, nil
}

func (tx *memoryTx) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return tx.repo.GetAccount(ctx, id)
}

func (tx *memoryTx) UpdateAccountBalance(_ context.Context, account Account) error {
	tx.repo.accounts[account.ID] = account
	return nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, t Transaction) (int64, error) {
	tx.repo.inserts++
	if tx.repo.failInsertOn > 0 && tx.repo.inserts == tx.repo.failInsertOn {
		return 0, errors.New("insert failed")
	}
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.transactions = append(tx.repo.transactions, t)
	return t.ID, nil
}

func (tx *memoryTx) InsertJournalEntry(_ context.Context, entry JournalEntry) (int64, error) {
	for _, e := range tx.repo.journals {
		if e.Reference == entry.Reference {
			return 0, ErrDuplicateReference
		}
	}
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.journals[entry.ID] = entry
	return entry.ID, nil
}

func (tx *memoryTx) InsertJournalLines(_ context.Context, entryID int64, lines []JournalLine) error {
	entry := tx.repo.journals[entryID]
	entry.Lines = append([]JournalLine(nil), lines...)
	tx.repo.journals[entryID] = entry
	return nil
}

func (tx *memoryTx) GetJournalEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return tx.repo.GetJournalEntry(ctx, id)
}

func (tx *memoryTx) MarkJournalPosted(_ context.Context, id int64, at time.Time) error {
	entry := tx.repo.journals[id]
	entry.IsPosted = true
	entry.PostedDate = &at
	tx.repo.journals[id] = entry
	return nil
}

func (tx *memoryTx) AccountActivity(ctx context.Context, window DateRange) ([]AccountActivity, error) {
	return tx.repo.AccountActivity(ctx, window)
}

func (r *memoryRepo) ListPeriods(context.Context) ([]FinancialPeriod, error) {
	out := make([]FinancialPeriod, 0, len(r.periods))
	for _, p := range r.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (r *memoryRepo) GetPeriod(_ context.Context, id int64) (FinancialPeriod, error) {
	p, ok := r.periods[id]
	if !ok {
		return FinancialPeriod{}, ErrPeriodNotFound
	}
	return p, nil
}

func (tx *memoryTx) PeriodOverlaps(_ context.Context, start, end time.Time) (bool, error) {
	for _, p := range tx.repo.periods {
		if !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) PeriodForDate(_ context.Context, day time.Time) (FinancialPeriod, bool, error) {
	for _, p := range tx.repo.periods {
		if p.Contains(day) {
			return p, true, nil
		}
	}
	return FinancialPeriod{}, false, nil
}

func (tx *memoryTx) InsertPeriod(_ context.Context, p FinancialPeriod) (int64, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.periods[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) GetPeriodForUpdate(ctx context.Context, id int64) (FinancialPeriod, error) {
	return tx.repo.GetPeriod(ctx, id)
}

func (tx *memoryTx) MarkPeriodClosed(_ context.Context, id, actorID int64, at time.Time) error {
	p := tx.repo.periods[id]
	p.IsClosed = true
	p.ClosedAt = &at
	p.ClosedBy = &actorID
	tx.repo.periods[id] = p
	return nil
}

func (r *memoryRepo) ListBudgets(context.Context) ([]Budget, error) {
	out := make([]Budget, 0, len(r.budgets))
	for _, b := range r.budgets {
		b.Lines = nil
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetBudget(_ context.Context, id int64) (Budget, error) {
	b, ok := r.budgets[id]
	if !ok {
		return Budget{}, ErrBudgetNotFound
	}
	b.Lines = append([]BudgetLine(nil), b.Lines...)
	return b, nil
}

func (tx *memoryTx) InsertBudget(_ context.Context, b Budget) (int64, error) {
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	b.Lines = nil
	tx.repo.budgets[b.ID] = b
	return b.ID, nil
}

func (tx *memoryTx) InsertBudgetLines(_ context.Context, budgetID int64, lines []BudgetLine) ([]BudgetLine, error) {
	b := tx.repo.budgets[budgetID]
	out := make([]BudgetLine, 0, len(lines))
	for _, line := range lines {
		tx.repo.nextID++
		line.ID = tx.repo.nextID
		line.BudgetID = budgetID
		out = append(out, line)
	}
	b.Lines = append([]BudgetLine(nil), out...)
	tx.repo.budgets[budgetID] = b
	return out, nil
}

func (tx *memoryTx) GetBudgetForUpdate(ctx context.Context, id int64) (Budget, error) {
	return tx.repo.GetBudget(ctx, id)
}

func (tx *memoryTx) UpdateBudgetStatus(_ context.Context, b Budget) error {
	current := tx.repo.budgets[b.ID]
	current.Status, current.IsActive, current.UpdatedAt = b.Status, b.IsActive, b.UpdatedAt
	tx.repo.budgets[b.ID] = current
	return nil
}

func (tx *memoryTx) UpdateBudgetActuals(_ context.Context, lines []BudgetLine) error {
	for _, line := range lines {
		b := tx.repo.budgets[line.BudgetID]
		b.Lines = append([]BudgetLine(nil), b.Lines...)
		for i := range b.Lines {
			if b.Lines[i].ID == line.ID {
				b.Lines[i].ActualAmount = line.ActualAmount
			}
		}
		tx.repo.budgets[line.BudgetID] = b
	}
	return nil
}

func (r *memoryRepo) ListTaxRates(context.Context) ([]TaxRate, error) {
	out := make([]TaxRate, 0, len(r.taxRates))
	for _, t := range r.taxRates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx *memoryTx) InsertTaxRate(_ context.Context, t TaxRate) (int64, error) {
	for _, existing := range tx.repo.taxRates {
		if existing.Code == t.Code {
			return 0, ErrDuplicateTaxCode
		}
	}
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.taxRates[t.ID] = t
	return t.ID, nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

var fixedLedgerNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	svc.WithNow(func() time.Time { return fixedLedgerNow })
	return svc, repo
}

func mustAccount(t *testing.T, svc *Service, code string, typ AccountType) Account {
	t.Helper()
	a, err := svc.CreateAccount(context.Background(), CreateAccountInput{Code: code, Name: code, Type: typ})
	require.NoError(t, err)
	return a
}

func TestApplyTransactionSignConvention(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)

	_, err := svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: cash.ID, Type: Debit, Amount: dec("100")})
	require.NoError(t, err)
	_, err = svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: cash.ID, Type: Debit, Amount: dec("50")})
	require.NoError(t, err)
	require.True(t, repo.accounts[cash.ID].Balance.Equal(dec("150")))

	_, err = svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: cash.ID, Type: Credit, Amount: dec("30")})
	require.NoError(t, err)
	require.True(t, repo.accounts[cash.ID].Balance.Equal(dec("120")))
	require.Len(t, repo.transactions, 3)
}

func TestApplyTransactionRejectsInvalidInput(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)

	_, err := svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: cash.ID, Type: Debit, Amount: dec("0")})
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: cash.ID, Type: "refund", Amount: dec("5")})
	require.ErrorIs(t, err, ErrInvalidTransactionType)

	_, err = svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: 999, Type: Debit, Amount: dec("5")})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, repo.transactions)
	require.True(t, repo.accounts[cash.ID].Balance.IsZero())
}

func TestPostBalancedJournalEntry(t *testing.T) {
	svc, repo := newTestService(t)
	audit := &recordingAudit{}
	svc.audit = audit
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)
	revenue := mustAccount(t, svc, "4000", AccountTypeRevenue)

	entry, err := svc.CreateJournalEntry(ctx, CreateJournalInput{
		Description: "cash sale",
		Lines: []JournalLine{
			{AccountID: cash.ID, Type: Debit, Amount: dec("200")},
			{AccountID: revenue.ID, Type: Credit, Amount: dec("200")},
		},
	})
	require.NoError(t, err)
	require.Contains(t, entry.Reference, "GJ-")
	require.False(t, entry.IsPosted)

	posted, err := svc.PostJournalEntry(ctx, entry.ID, 7)
	require.NoError(t, err)
	require.True(t, posted.IsPosted)
	require.NotNil(t, posted.PostedDate)
	require.Len(t, repo.transactions, 2)
	require.Equal(t, "JE-"+entry.Reference+": cash sale", repo.transactions[0].Description)
	require.True(t, repo.accounts[cash.ID].Balance.Equal(dec("200")))
	require.True(t, repo.accounts[revenue.ID].Balance.Equal(dec("200")))

	_, err = svc.PostJournalEntry(ctx, entry.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Len(t, repo.transactions, 2)
	require.Equal(t, []string{"journal.create", "journal.post"}, audit.actions)
}

func TestPostUnbalancedJournalEntry(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)
	revenue := mustAccount(t, svc, "4000", AccountTypeRevenue)

	entry, err := svc.CreateJournalEntry(ctx, CreateJournalInput{
		Reference: "JV-1",
		Lines: []JournalLine{
			{AccountID: cash.ID, Type: Debit, Amount: dec("200")},
			{AccountID: revenue.ID, Type: Credit, Amount: dec("150")},
		},
	})
	require.NoError(t, err)

	_, err = svc.PostJournalEntry(ctx, entry.ID, 1)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.False(t, repo.journals[entry.ID].IsPosted)
	require.Empty(t, repo.transactions)
}

func TestPostJournalEntryRollsBackOnLineFailure(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)
	revenue := mustAccount(t, svc, "4000", AccountTypeRevenue)

	entry, err := svc.CreateJournalEntry(ctx, CreateJournalInput{
		Reference: "JV-2",
		Lines: []JournalLine{
			{AccountID: cash.ID, Type: Debit, Amount: dec("75.50")},
			{AccountID: revenue.ID, Type: Credit, Amount: dec("75.50")},
		},
	})
	require.NoError(t, err)

	repo.failInsertOn = 2
	_, err = svc.PostJournalEntry(ctx, entry.ID, 1)
	require.Error(t, err)
	require.False(t, repo.journals[entry.ID].IsPosted)
	require.Empty(t, repo.transactions)
	require.True(t, repo.accounts[cash.ID].Balance.IsZero())
}

func TestCreateJournalEntryDuplicateReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)
	lines := []JournalLine{{AccountID: cash.ID, Type: Debit, Amount: dec("1")}}

	_, err := svc.CreateJournalEntry(ctx, CreateJournalInput{Reference: "JV-9", Lines: lines})
	require.NoError(t, err)
	_, err = svc.CreateJournalEntry(ctx, CreateJournalInput{Reference: "JV-9", Lines: lines})
	require.ErrorIs(t, err, ErrDuplicateReference)

	_, err = svc.CreateJournalEntry(ctx, CreateJournalInput{Reference: "JV-10"})
	require.ErrorIs(t, err, ErrNoLines)
}

func TestTransfer(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	cash := mustAccount(t, svc, "1000", AccountTypeAsset)
	payable := mustAccount(t, svc, "2000", AccountTypeLiability)

	_, err := svc.ApplyTransaction(ctx, ApplyTransactionInput{AccountID: payable.ID, Type: Credit, Amount: dec("500")})
	require.NoError(t, err)

	pair, err := svc.Transfer(ctx, TransferInput{FromAccountID: payable.ID, ToAccountID: cash.ID, Amount: dec("200")})
	require.NoError(t, err)
	require.Equal(t, Debit, pair[0].Type)
	require.Equal(t, Credit, pair[1].Type)
	require.Equal(t, pair[0].Reference, pair[1].Reference)
	require.True(t, repo.accounts[payable.ID].Balance.Equal(dec("300")))
	require.True(t, repo.accounts[cash.ID].Balance.Equal(dec("-200")))

	_, err = svc.Transfer(ctx, TransferInput{FromAccountID: cash.ID, ToAccountID: cash.ID, Amount: dec("1")})
	require.ErrorIs(t, err, ErrSameAccount)

	_, err = svc.Transfer(ctx, TransferInput{FromAccountID: cash.ID, ToAccountID: 404, Amount: dec("10")})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.True(t, repo.accounts[cash.ID].Balance.Equal(dec("-200")))
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "1", Name: "x", Type: "bogus"})
	require.ErrorIs(t, err, ErrInvalidAccountType)

	mustAccount(t, svc, "1000", AccountTypeAsset)
	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "1000", Name: "dup", Type: AccountTypeAsset})
	require.ErrorIs(t, err, ErrDuplicateCode)

	parent := int64(999)
	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "1100", Name: "child", Type: AccountTypeAsset, ParentID: &parent})
	require.ErrorIs(t, err, ErrAccountNotFound)
}
