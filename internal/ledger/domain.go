package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// TransactionType is the side a transaction hits.
type TransactionType string

const (
	Debit  TransactionType = "debit"
	Credit TransactionType = "credit"
)

// Valid reports whether t is debit or credit.
func (t TransactionType) Valid() bool {
	return t == Debit || t == Credit
}

// Account models a chart of accounts node. Balance is only mutated through
// transactions; ParentID is for display grouping and never rolls up.
type Account struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	ParentID  *int64          `json:"parent_id,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is one immutable ledger mutation against an account.
type Transaction struct {
	ID             int64           `json:"id"`
	Date           time.Time       `json:"date"`
	AccountID      int64           `json:"account_id"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	Reference      string          `json:"reference,omitempty"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	CreatedBy      int64           `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// JournalEntry groups lines that post together. Draft until IsPosted.
type JournalEntry struct {
	ID          int64         `json:"id"`
	Reference   string        `json:"reference"`
	Date        time.Time     `json:"date"`
	Description string        `json:"description"`
	IsPosted    bool          `json:"is_posted"`
	PostedDate  *time.Time    `json:"posted_date,omitempty"`
	CreatedBy   int64         `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Lines       []JournalLine `json:"lines"`
}

// JournalLine is a single debit or credit inside an entry.
type JournalLine struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// TotalDebit sums the debit lines.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	return e.sum(Debit)
}

// TotalCredit sums the credit lines.
func (e JournalEntry) TotalCredit() decimal.Decimal {
	return e.sum(Credit)
}

// IsBalanced reports exact equality of debit and credit totals.
func (e JournalEntry) IsBalanced() bool {
	return e.TotalDebit().Equal(e.TotalCredit())
}

func (e JournalEntry) sum(side TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		if line.Type == side {
			total = total.Add(line.Amount)
		}
	}
	return total
}

// CreateAccountInput describes a new account.
type CreateAccountInput struct {
	Code     string      `json:"code" validate:"required,max=20"`
	Name     string      `json:"name" validate:"required,max=200"`
	Type     AccountType `json:"type" validate:"required"`
	ParentID *int64      `json:"parent_id,omitempty"`
}

// ApplyTransactionInput creates a single transaction.
type ApplyTransactionInput struct {
	AccountID   int64
	Type        TransactionType
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	Reference   string
	ActorID     int64
}

// Validate checks the input before any read.
func (in ApplyTransactionInput) Validate() error {
	if in.AccountID == 0 {
		return ErrAccountRequired
	}
	if !in.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// TransferInput moves an amount from one account to another.
type TransferInput struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	Date          time.Time
	Description   string
	ActorID       int64
}

// CreateJournalInput describes a draft journal entry.
type CreateJournalInput struct {
	Reference   string
	Date        time.Time
	Description string
	Lines       []JournalLine
	ActorID     int64
}

// Validate checks line shape. Balance is only enforced at posting time.
func (in CreateJournalInput) Validate() error {
	if len(in.Lines) == 0 {
		return ErrNoLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return shared.Validation(fmt.Sprintf("ledger: line %d missing account", idx+1))
		}
		if !line.Type.Valid() {
			return shared.Validation(fmt.Sprintf("ledger: line %d has invalid type %q", idx+1, line.Type))
		}
		if !line.Amount.IsPositive() {
			return shared.Validation(fmt.Sprintf("ledger: line %d amount must be positive", idx+1))
		}
	}
	return nil
}

// AccountActivity aggregates transaction totals of one account for the trial balance.
type AccountActivity struct {
	AccountID   int64
	Code        string
	Name        string
	Type        AccountType
	IsActive    bool
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
}

// Natural returns net activity in the account's normal direction: debit minus
// credit for assets and expenses, credit minus debit otherwise.
func (a AccountActivity) Natural() decimal.Decimal {
	if a.Type == AccountTypeAsset || a.Type == AccountTypeExpense {
		return a.DebitTotal.Sub(a.CreditTotal)
	}
	return a.CreditTotal.Sub(a.DebitTotal)
}

// DateRange bounds report activity by transaction date, both ends inclusive.
// A zero From or To leaves that side open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Validate rejects an inverted range.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return shared.Validation("ledger: from date cannot be after to date")
	}
	return nil
}

func (r DateRange) key() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format("20060102")
	}
	return format(r.From) + "-" + format(r.To)
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	AccountID int64
	From      time.Time
	To        time.Time
	Limit     int
}

var (
	// ErrAccountRequired indicates a missing account id.
	ErrAccountRequired = shared.Validation("ledger: account required")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = shared.Validation("ledger: amount must be positive")
	// ErrInvalidTransactionType indicates neither debit nor credit.
	ErrInvalidTransactionType = shared.Validation("ledger: transaction type must be debit or credit")
	// ErrInvalidAccountType indicates an unknown account type.
	ErrInvalidAccountType = shared.Validation("ledger: invalid account type")
	// ErrNoLines indicates an empty journal entry.
	ErrNoLines = shared.Validation("ledger: journal entry requires at least one line")
	// ErrUnbalanced indicates total debit differs from total credit.
	ErrUnbalanced = shared.Validation("ledger: journal entry is not balanced")
	// ErrSameAccount indicates a transfer onto itself.
	ErrSameAccount = shared.Validation("ledger: transfer requires two different accounts")
	// ErrAlreadyPosted indicates a second posting attempt.
	ErrAlreadyPosted = shared.Conflict("ledger: journal entry already posted")
	// ErrDuplicateReference indicates a journal reference in use.
	ErrDuplicateReference = shared.Conflict("ledger: journal reference already exists")
	// ErrDuplicateCode indicates an account code in use.
	ErrDuplicateCode = shared.Conflict("ledger: account code already exists")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = shared.NotFound("ledger: account not found")
	// ErrJournalNotFound indicates a missing journal entry.
	ErrJournalNotFound = shared.NotFound("ledger: journal entry not found")
)
