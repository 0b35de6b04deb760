// Package postgres registers the "postgres" storage backend on a pgx v5
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"httpetl/internal/storage"
)

// pool is the subset of *pgxpool.Pool the repository uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is a Postgres-backed storage.Repository. While a transaction is
// open, statements are serialized on it; pgx.Tx is not safe for concurrent
// use.
type Repository struct {
	pool    pool
	dialect Dialect
	logger  *zap.Logger

	mu sync.Mutex // guards tx and serializes statements inside it
	tx pgx.Tx
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens a pool for dsn.
func NewRepository(ctx context.Context, dsn string, logger *zap.Logger) (*Repository, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return newWithPool(p, logger), nil
}

func newWithPool(p pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: p, logger: logger}
}

func (r *Repository) Dialect() storage.Dialect { return r.dialect }

// with runs fn on the open transaction (holding the lock) or on the pool.
func (r *Repository) with(fn func(q querier) error) error {
	r.mu.Lock()
	if r.tx != nil {
		defer r.mu.Unlock()
		return fn(r.tx)
	}
	r.mu.Unlock()
	return fn(r.pool)
}

// Exec runs sql on the pool or, inside a transaction, under its own
// savepoint. A failed statement rolls back to the savepoint so the rest of
// the transaction stays usable.
func (r *Repository) Exec(ctx context.Context, sql string, args ...any) error {
	r.mu.Lock()
	if r.tx != nil {
		defer r.mu.Unlock()
		return execSavepoint(ctx, r.tx, sql, args...)
	}
	r.mu.Unlock()
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	return nil
}

func execSavepoint(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: savepoint: %w", err)
	}
	if _, err := sp.Exec(ctx, sql, args...); err != nil {
		if rerr := sp.Rollback(ctx); rerr != nil {
			return errors.Join(fmt.Errorf("postgres: exec: %w", err), fmt.Errorf("postgres: rollback to savepoint: %w", rerr))
		}
		return fmt.Errorf("postgres: exec: %w", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: release savepoint: %w", err)
	}
	return nil
}

func (r *Repository) TableExists(ctx context.Context, table string) (bool, error) {
	sql, args := r.dialect.TableExistsSQL(table)
	var n int64
	err := r.with(func(q querier) error {
		return q.QueryRow(ctx, sql, args...).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("postgres: table exists: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) Begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return errors.New("postgres: transaction already open")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	r.tx = tx
	return nil
}

// Commit commits the open transaction. Without one it is a no-op.
func (r *Repository) Commit(ctx context.Context) error {
	tx := r.take()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction. Without one it is a no-op.
func (r *Repository) Rollback(ctx context.Context) error {
	tx := r.take()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

func (r *Repository) take() pgx.Tx {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := r.tx
	r.tx = nil
	return tx
}

func (r *Repository) Close() {
	if tx := r.take(); tx != nil {
		if err := tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Warn("rollback on close", zap.Error(err))
		}
	}
	r.pool.Close()
}
