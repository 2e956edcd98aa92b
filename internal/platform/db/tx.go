package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/franchisepos/inventory/internal/shared"
)

// Beginner starts transactions; satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
// Serialization failures are reported as shared.ErrConflict.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		if shared.IsSerializationFailure(err) {
			return fmt.Errorf("platform/db: %w: concurrent update, retry the request", shared.ErrConflict)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if shared.IsSerializationFailure(err) {
			return fmt.Errorf("platform/db: %w: concurrent update, retry the request", shared.ErrConflict)
		}
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
