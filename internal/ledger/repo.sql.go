package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, code, name, type, balance, parent_id, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var typ string
	err := row.Scan(&a.ID, &a.Code, &a.Name, &typ, &a.Balance, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Type = AccountType(typ)
	return a, nil
}

// ListAccounts returns every account ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount loads one account.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

// GetJournalEntry loads an entry with its lines.
func (r *Repository) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	entry, err := scanJournal(r.pool.QueryRow(ctx, `SELECT id, reference, entry_date, description, is_posted, posted_date, created_by, created_at
FROM journal_entries WHERE id=$1`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = loadLines(ctx, r.pool, id)
	return entry, err
}

// ListTransactions returns transactions newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tx_date, account_id, tx_type, amount, description, reference, journal_entry_id, created_by, created_at
FROM ledger_transactions
WHERE ($1::bigint = 0 OR account_id = $1)
  AND tx_date BETWEEN COALESCE($2::date, '-infinity') AND COALESCE($3::date, 'infinity')
ORDER BY tx_date DESC, id DESC
LIMIT $4`, filter.AccountID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		var typ string
		var createdBy *int64
		if err := rows.Scan(&t.ID, &t.Date, &t.AccountID, &typ, &t.Amount, &t.Description, &t.Reference, &t.JournalEntryID, &createdBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TransactionType(typ)
		if createdBy != nil {
			t.CreatedBy = *createdBy
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AccountActivity sums debit and credit transactions per account inside window.
func (r *Repository) AccountActivity(ctx context.Context, window DateRange) ([]AccountActivity, error) {
	return accountActivity(ctx, r.pool, window)
}

func (r *txRepository) AccountActivity(ctx context.Context, window DateRange) ([]AccountActivity, error) {
	return accountActivity(ctx, r.tx, window)
}

func accountActivity(ctx context.Context, q shared.DBTX, window DateRange) ([]AccountActivity, error) {
	rows, err := q.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.is_active,
       COALESCE(SUM(t.amount) FILTER (WHERE t.tx_type = 'debit'), 0),
       COALESCE(SUM(t.amount) FILTER (WHERE t.tx_type = 'credit'), 0)
FROM accounts a
LEFT JOIN ledger_transactions t ON t.account_id = a.id
 AND t.tx_date BETWEEN COALESCE($1::date, '-infinity') AND COALESCE($2::date, 'infinity')
GROUP BY a.id, a.code, a.name, a.type, a.is_active
ORDER BY a.code`, nullTime(window.From), nullTime(window.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AccountActivity{}
	for rows.Next() {
		var a AccountActivity
		var typ string
		if err := rows.Scan(&a.AccountID, &a.Code, &a.Name, &typ, &a.IsActive, &a.DebitTotal, &a.CreditTotal); err != nil {
			return nil, err
		}
		a.Type = AccountType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, account Account) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, balance, parent_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,$5,NOW(),NOW()) RETURNING id`, account.Code, account.Name, string(account.Type), account.ParentID, account.IsActive).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateCode
	}
	return id, err
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, account Account) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, updated_at=NOW() WHERE id=$1`, account.ID, account.Balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_transactions (tx_date, account_id, tx_type, amount, description, reference, journal_entry_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`, t.Date, t.AccountID, string(t.Type), t.Amount, t.Description, t.Reference, t.JournalEntryID, nullInt(t.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (reference, entry_date, description, is_posted, created_by, created_at)
VALUES ($1,$2,$3,FALSE,$4,NOW()) RETURNING id`, entry.Reference, entry.Date, entry.Description, nullInt(entry.CreatedBy)).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateReference
	}
	return id, err
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_entry_lines (journal_entry_id, account_id, description, tx_type, amount) VALUES ($1,$2,$3,$4,$5)`,
			entryID, line.AccountID, line.Description, string(line.Type), line.Amount)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) GetJournalEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	entry, err := scanJournal(r.tx.QueryRow(ctx, `SELECT id, reference, entry_date, description, is_posted, posted_date, created_by, created_at
FROM journal_entries WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = loadLines(ctx, r.tx, id)
	return entry, err
}

func (r *txRepository) MarkJournalPosted(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET is_posted=TRUE, posted_date=$2 WHERE id=$1 AND is_posted=FALSE`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPosted
	}
	return nil
}

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var createdBy *int64
	if err := row.Scan(&e.ID, &e.Reference, &e.Date, &e.Description, &e.IsPosted, &e.PostedDate, &createdBy, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if createdBy != nil {
		e.CreatedBy = *createdBy
	}
	return e, nil
}

func loadLines(ctx context.Context, q shared.DBTX, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, account_id, tx_type, amount, description FROM journal_entry_lines WHERE journal_entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []JournalLine{}
	for rows.Next() {
		var l JournalLine
		var typ string
		if err := rows.Scan(&l.ID, &l.AccountID, &typ, &l.Amount, &l.Description); err != nil {
			return nil, err
		}
		l.Type = TransactionType(typ)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
