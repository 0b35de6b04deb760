// Package sqldb implements storage.Repository on top of database/sql. The
// sqlite, mssql and mysql backends share it and differ only in driver name,
// DSN and Dialect.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"httpetl/internal/storage"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository runs statements on db, or inside the open transaction if there
// is one.
type Repository struct {
	db      *sql.DB
	dialect storage.Dialect
	logger  *zap.Logger

	mu sync.Mutex // guards tx
	tx *sql.Tx
}

var _ storage.Repository = (*Repository)(nil)

// Open opens driver with dsn and pings it.
func Open(ctx context.Context, driver, dsn string, d storage.Dialect, logger *zap.Logger) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d.Name())
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name(), err)
	}
	return New(db, d, logger), nil
}

// New wraps an open handle.
func New(db *sql.DB, d storage.Dialect, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, dialect: d, logger: logger}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Dialect() storage.Dialect { return r.dialect }

func (r *Repository) conn() execer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// Exec runs one statement.
func (r *Repository) Exec(ctx context.Context, query string, args ...any) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%s: empty statement", r.dialect.Name())
	}
	if _, err := r.conn().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", r.dialect.Name(), err)
	}
	return nil
}

// TableExists runs the dialect's existence query.
func (r *Repository) TableExists(ctx context.Context, table string) (bool, error) {
	q, args := r.dialect.TableExistsSQL(table)
	var n int64
	if err := r.conn().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: table exists: %w", r.dialect.Name(), err)
	}
	return n > 0, nil
}

// Begin opens a transaction; statements run inside it until Commit or
// Rollback.
func (r *Repository) Begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return fmt.Errorf("%s: transaction already open", r.dialect.Name())
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", r.dialect.Name(), err)
	}
	r.tx = tx
	return nil
}

// Commit commits the open transaction. Without one it is a no-op.
func (r *Repository) Commit(context.Context) error {
	tx := r.take()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", r.dialect.Name(), err)
	}
	return nil
}

// Rollback aborts the open transaction. Without one it is a no-op.
func (r *Repository) Rollback(context.Context) error {
	tx := r.take()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: rollback: %w", r.dialect.Name(), err)
	}
	return nil
}

func (r *Repository) take() *sql.Tx {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := r.tx
	r.tx = nil
	return tx
}

// Close rolls back any open transaction and closes the handle.
func (r *Repository) Close() {
	if tx := r.take(); tx != nil {
		_ = tx.Rollback()
	}
	if err := r.db.Close(); err != nil {
		r.logger.Warn("close database", zap.String("dialect", r.dialect.Name()), zap.Error(err))
	}
}
