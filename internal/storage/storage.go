// Package storage holds the warehouse sink: the backend registry, the SQL
// dialect contract each backend implements, and Writer, which turns batches
// of JSON rows into CREATE/INSERT/MERGE statements.
//
// Backends live in subpackages (postgres, sqlite, mssql, mysql) and register
// a Factory from init. Import storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"httpetl/internal/schema"
)

// Config carries what a backend needs to open a connection. Backends build
// their own DSN from the structured fields unless DSN is set.
type Config struct {
	Kind string
	Name string // target name, for logs

	DSN string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	Path     string            // file path (sqlite)
	Params   map[string]string // extra driver parameters, e.g. sslmode

	Logger *zap.Logger
}

// Repository is one open warehouse connection. Implementations must be safe
// for concurrent use; while a transaction is open every statement runs inside
// it.
type Repository interface {
	Dialect() Dialect
	Exec(ctx context.Context, sql string, args ...any) error
	TableExists(ctx context.Context, table string) (bool, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close()
}

// Dialect renders backend-specific SQL.
type Dialect interface {
	Name() string

	// QuoteIdent quotes one identifier segment, doubling embedded quotes.
	QuoteIdent(name string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument
	// of a column of type t.
	Placeholder(n int, t schema.ColumnType) string

	// TypeName maps an inferred type onto a column type. pk is true for the
	// primary key column, which some backends must size.
	TypeName(t schema.ColumnType, pk bool) string

	// MaxParams is the bind parameter limit of one statement.
	MaxParams() int

	// TableExistsSQL returns a query producing a single integer, > 0 when
	// the table exists.
	TableExistsSQL(table string) (string, []any)

	CreateTableSQL(table string, cols schema.Schema, pk string) string
	TruncateSQL(table string) string

	// MergeSQL renders an upsert of rows rows keyed on pk. Arguments are
	// bound row-major in schema order.
	MergeSQL(table string, cols schema.Schema, pk string, rows int) string

	// IsUndefinedTable reports whether err means the table does not exist.
	IsUndefinedTable(err error) bool
}

// Factory opens a Repository for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
