package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is implemented by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxOptions tunes a posting transaction.
type TxOptions struct {
	// LockTimeout bounds every row-lock wait; zero keeps the server default.
	LockTimeout time.Duration
}

// WithTx executes a function within a READ COMMITTED transaction. Consistency
// comes from explicit SELECT ... FOR UPDATE row locks, so every statement sees
// the latest committed row after acquiring its lock.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Classify("platform/db: begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if opts.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())); err != nil {
			return Classify("platform/db: lock timeout", err)
		}
	}

	if err := fn(tx); err != nil {
		return Classify("platform/db: tx", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify("platform/db: commit tx", err)
	}

	return nil
}
