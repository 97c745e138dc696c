package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a RepeatableRead transaction. The transaction is rolled
// back when fn returns an error and committed otherwise. Serialization failures
// surface as shared.ErrConcurrentUpdate so callers answer with a conflict.
func WithTx(ctx context.Context, db Beginner, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return concurrent(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return concurrent(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

func concurrent(err error) error {
	if shared.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", shared.ErrConcurrentUpdate, err)
	}
	return err
}
