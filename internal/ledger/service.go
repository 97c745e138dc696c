package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort abstracts persistence for the ledger service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	AccountActivity(ctx context.Context, window DateRange) ([]AccountActivity, error)
	ListPeriods(ctx context.Context) ([]FinancialPeriod, error)
	GetPeriod(ctx context.Context, id int64) (FinancialPeriod, error)
	ListBudgets(ctx context.Context) ([]Budget, error)
	GetBudget(ctx context.Context, id int64) (Budget, error)
	ListTaxRates(ctx context.Context) ([]TaxRate, error)
}

// TxRepository exposes the writes that run inside one database transaction.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) (int64, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateAccountBalance(ctx context.Context, account Account) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (int64, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetJournalEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	MarkJournalPosted(ctx context.Context, id int64, at time.Time) error
	AccountActivity(ctx context.Context, window DateRange) ([]AccountActivity, error)

	PeriodOverlaps(ctx context.Context, start, end time.Time) (bool, error)
	PeriodForDate(ctx context.Context, day time.Time) (FinancialPeriod, bool, error)
	InsertPeriod(ctx context.Context, period FinancialPeriod) (int64, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (FinancialPeriod, error)
	MarkPeriodClosed(ctx context.Context, id, actorID int64, at time.Time) error

	InsertBudget(ctx context.Context, budget Budget) (int64, error)
	InsertBudgetLines(ctx context.Context, budgetID int64, lines []BudgetLine) ([]BudgetLine, error)
	GetBudgetForUpdate(ctx context.Context, id int64) (Budget, error)
	UpdateBudgetStatus(ctx context.Context, budget Budget) error
	UpdateBudgetActuals(ctx context.Context, lines []BudgetLine) error

	InsertTaxRate(ctx context.Context, rate TaxRate) (int64, error)
}

// AuditPort records ledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies transactions and posts journal entries.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *ReportCache
	events shared.EventCounter
	logger *slog.Logger
	now    func() time.Time

	cashPrefix string
}

// NewService constructs the ledger service. audit and cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *ReportCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, events: shared.NopEvents{}, logger: logger, now: time.Now, cashPrefix: DefaultCashPrefix}
}

// WithCashPrefix sets the account code prefix the cash flow report treats as cash.
func (s *Service) WithCashPrefix(prefix string) {
	if prefix != "" {
		s.cashPrefix = prefix
	}
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

// CreateAccount adds an account to the chart with a zero balance.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	if input.Code == "" || input.Name == "" {
		return Account{}, shared.Validation("ledger: account code and name required")
	}
	if !input.Type.Valid() {
		return Account{}, ErrInvalidAccountType
	}
	account := Account{
		Code:     input.Code,
		Name:     input.Name,
		Type:     input.Type,
		ParentID: input.ParentID,
		IsActive: true,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.ParentID != nil {
			if _, err := tx.GetAccountForUpdate(ctx, *input.ParentID); err != nil {
				return err
			}
		}
		id, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		account.ID = id
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	now := s.now()
	account.CreatedAt, account.UpdatedAt = now, now
	s.bump(ctx)
	return account, nil
}

// ApplyTransaction records one transaction and mutates the account balance.
func (s *Service) ApplyTransaction(ctx context.Context, input ApplyTransactionInput) (Transaction, error) {
	if err := input.Validate(); err != nil {
		return Transaction{}, err
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var created Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = s.applyInTx(ctx, tx, Transaction{
			Date:        input.Date,
			AccountID:   input.AccountID,
			Type:        input.Type,
			Amount:      input.Amount,
			Description: input.Description,
			Reference:   input.Reference,
			CreatedBy:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.events.IncDomainEvent("ledger", "transaction_applied")
	s.record(ctx, input.ActorID, "transaction.apply", "ledger_transaction", created.ID, map[string]any{
		"account_id": created.AccountID,
		"type":       string(created.Type),
		"amount":     created.Amount.String(),
	})
	s.bump(ctx)
	return created, nil
}

// Transfer debits the source account and credits the destination atomically.
func (s *Service) Transfer(ctx context.Context, input TransferInput) ([2]Transaction, error) {
	var pair [2]Transaction
	if input.FromAccountID == 0 || input.ToAccountID == 0 {
		return pair, ErrAccountRequired
	}
	if input.FromAccountID == input.ToAccountID {
		return pair, ErrSameAccount
	}
	if !input.Amount.IsPositive() {
		return pair, ErrInvalidAmount
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	reference := fmt.Sprintf("TRF-%d", s.now().UnixNano())
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		legs := []Transaction{
			{AccountID: input.FromAccountID, Type: Debit},
			{AccountID: input.ToAccountID, Type: Credit},
		}
		for i, leg := range legs {
			leg.Date = input.Date
			leg.Amount = input.Amount
			leg.Description = input.Description
			leg.Reference = reference
			leg.CreatedBy = input.ActorID
			created, err := s.applyInTx(ctx, tx, leg)
			if err != nil {
				return err
			}
			pair[i] = created
		}
		return nil
	})
	if err != nil {
		return [2]Transaction{}, err
	}
	s.events.IncDomainEvent("ledger", "transfer")
	s.record(ctx, input.ActorID, "transaction.transfer", "ledger_transaction", pair[0].ID, map[string]any{
		"from":      input.FromAccountID,
		"to":        input.ToAccountID,
		"amount":    input.Amount.String(),
		"reference": reference,
	})
	s.bump(ctx)
	return pair, nil
}

// CreateJournalEntry stores a draft entry. Balance is checked at posting.
func (s *Service) CreateJournalEntry(ctx context.Context, input CreateJournalInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	now := s.now()
	entry := JournalEntry{
		Reference:   input.Reference,
		Date:        input.Date,
		Description: input.Description,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
		Lines:       append([]JournalLine(nil), input.Lines...),
	}
	if entry.Reference == "" {
		entry.Reference = fmt.Sprintf("GJ-%d", now.UnixNano())
	}
	if entry.Date.IsZero() {
		entry.Date = now
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertJournalEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return tx.InsertJournalLines(ctx, id, entry.Lines)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.ActorID, "journal.create", "journal_entry", entry.ID, map[string]any{
		"reference": entry.Reference,
		"lines":     len(entry.Lines),
	})
	return entry, nil
}

// PostJournalEntry turns each line of a balanced draft into a transaction and
// marks the entry posted. Nothing persists when any step fails.
func (s *Service) PostJournalEntry(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	if entryID == 0 {
		return JournalEntry{}, shared.Validation("ledger: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.IsPosted {
			return ErrAlreadyPosted
		}
		if len(current.Lines) == 0 {
			return ErrNoLines
		}
		if !current.IsBalanced() {
			return ErrUnbalanced
		}
		journalID := current.ID
		description := fmt.Sprintf("JE-%s: %s", current.Reference, current.Description)
		for _, line := range current.Lines {
			if _, err := s.applyInTx(ctx, tx, Transaction{
				Date:           current.Date,
				AccountID:      line.AccountID,
				Type:           line.Type,
				Amount:         line.Amount,
				Description:    description,
				Reference:      current.Reference,
				JournalEntryID: &journalID,
				CreatedBy:      actorID,
			}); err != nil {
				return fmt.Errorf("ledger: post line for account %d: %w", line.AccountID, err)
			}
		}
		postedAt := s.now()
		if err := tx.MarkJournalPosted(ctx, current.ID, postedAt); err != nil {
			return err
		}
		current.IsPosted = true
		current.PostedDate = &postedAt
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.events.IncDomainEvent("ledger", "journal_posted")
	s.logger.InfoContext(ctx, "journal entry posted", slog.Int64("entry_id", entry.ID), slog.String("reference", entry.Reference), slog.Int("lines", len(entry.Lines)))
	s.record(ctx, actorID, "journal.post", "journal_entry", entry.ID, map[string]any{
		"reference": entry.Reference,
		"debit":     entry.TotalDebit().String(),
		"credit":    entry.TotalCredit().String(),
	})
	s.bump(ctx)
	return entry, nil
}

// ListAccounts returns the chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// GetAccount loads one account.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// GetJournalEntry loads one entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetJournalEntry(ctx, id)
}

// ListTransactions returns transactions matching filter.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) applyInTx(ctx context.Context, tx TxRepository, t Transaction) (Transaction, error) {
	if !t.Amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if err := ensureOpen(ctx, tx, t.Date); err != nil {
		return Transaction{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, t.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	balance, err := Apply(account.Type, t.Type, account.Balance, t.Amount)
	if err != nil {
		return Transaction{}, err
	}
	account.Balance = balance
	if err := tx.UpdateAccountBalance(ctx, account); err != nil {
		return Transaction{}, err
	}
	t.CreatedAt = s.now()
	id, err := tx.InsertTransaction(ctx, t)
	if err != nil {
		return Transaction{}, err
	}
	t.ID = id
	return t, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "ledger audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) bump(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "ledger report cache bump failed", slog.Any("error", err))
	}
}
