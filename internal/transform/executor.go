// Package transform runs the per-job SQL over one page of JSON rows. Each
// page is loaded into a table on its own in-memory SQLite connection, so
// pages transformed concurrently never see each other's rows.
package transform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	jsonparser "httpetl/internal/parser/json"
	"httpetl/internal/schema"
	"httpetl/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER.
const maxParams = 32766

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("transform: executor closed")

// Executor owns the in-memory database. Create one per process with
// NewExecutor and pass it to whatever transforms pages.
type Executor struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewExecutor opens the in-memory database.
func NewExecutor(ctx context.Context, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("transform: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transform: ping: %w", err)
	}
	return &Executor{db: db, logger: logger}, nil
}

// Close releases the database. Relations still open fail on next use.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// Relation is one registered page.
type Relation struct {
	conn   *sql.Conn
	table  string
	quoted string
	schema schema.Schema
	logger *zap.Logger
}

// Register loads rows into a table named table on a dedicated connection.
// Columns are typed from the non-null values of every row. A
// schema-qualified name (public.users) is created in an in-memory database
// attached under that schema name.
func (e *Executor) Register(ctx context.Context, table string, rows []any) (*Relation, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s, err := schema.InferNonNull(rows)
	if err != nil {
		return nil, fmt.Errorf("transform: register %s: %w", table, err)
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("transform: register %s: rows have no fields", table)
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("transform: conn: %w", err)
	}
	rel := &Relation{conn: conn, table: table, schema: s, logger: e.logger}
	if err := rel.load(ctx, rows); err != nil {
		rel.Close()
		return nil, fmt.Errorf("transform: register %s: %w", table, err)
	}
	return rel, nil
}

// Schema returns the inferred input columns.
func (r *Relation) Schema() schema.Schema { return r.schema }

func (r *Relation) load(ctx context.Context, rows []any) error {
	parts := strings.Split(r.table, ".")
	for i, p := range parts {
		parts[i] = storage.QuoteDouble(p)
	}
	create := "CREATE TEMP TABLE "
	if len(parts) > 1 {
		if err := r.attach(ctx, r.table[:strings.LastIndexByte(r.table, '.')]); err != nil {
			return err
		}
		create = "CREATE TABLE "
	}
	r.quoted = strings.Join(parts, ".")

	if _, err := r.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+r.quoted); err != nil {
		return fmt.Errorf("drop stale table: %w", err)
	}

	defs := make([]string, len(r.schema))
	for i, c := range r.schema {
		defs[i] = storage.QuoteDouble(c.Name) + " " + declType(c.Type)
	}
	if _, err := r.conn.ExecContext(ctx, create+r.quoted+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	names := make([]string, len(r.schema))
	for i, c := range r.schema {
		names[i] = storage.QuoteDouble(c.Name)
	}
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(r.schema)), ", ") + ")"
	chunk := max(maxParams/len(r.schema), 1)

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		args := make([]any, 0, (end-start)*len(r.schema))
		for _, row := range rows[start:end] {
			obj := row.(map[string]any) // Infer checked every row
			for _, c := range r.schema {
				args = append(args, storage.Bind(obj[c.Name], c.Type))
			}
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", r.quoted, strings.Join(names, ", "),
			strings.TrimSuffix(strings.Repeat(one+", ", end-start), ", "))
		if _, err := r.conn.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	return nil
}

// attach makes schemaName resolvable on this connection.
func (r *Relation) attach(ctx context.Context, schemaName string) error {
	var n int
	err := r.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_database_list WHERE name = ?", schemaName).Scan(&n)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.conn.ExecContext(ctx, "ATTACH DATABASE ':memory:' AS "+storage.QuoteDouble(schemaName)); err != nil {
		return fmt.Errorf("attach %s: %w", schemaName, err)
	}
	return nil
}

// Query runs sql against the connection holding the relation and yields
// result rows lazily. BOOLEAN columns come back as bool and JSON columns as
// decoded values.
func (r *Relation) Query(ctx context.Context, query string) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		rows, err := r.conn.QueryContext(ctx, query)
		if err != nil {
			yield(nil, fmt.Errorf("transform: query: %w", err))
			return
		}
		defer rows.Close()

		cols, err := rows.ColumnTypes()
		if err != nil {
			yield(nil, fmt.Errorf("transform: columns: %w", err))
			return
		}

		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, fmt.Errorf("transform: scan: %w", err))
				return
			}

			out := make(map[string]any, len(cols))
			for i, c := range cols {
				v, err := convert(vals[i], strings.ToUpper(c.DatabaseTypeName()))
				if err != nil {
					yield(nil, fmt.Errorf("transform: column %s: %w", c.Name(), err))
					return
				}
				out[c.Name()] = v
			}
			if !yield(out, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("transform: rows: %w", err))
		}
	}
}

// Close drops the table and returns the connection to the pool.
func (r *Relation) Close() {
	if r.quoted != "" {
		if _, err := r.conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+r.quoted); err != nil {
			r.logger.Debug("drop relation", zap.String("table", r.table), zap.Error(err))
		}
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Debug("release connection", zap.String("table", r.table), zap.Error(err))
	}
}

// Transform registers rows as table, runs query and yields the result. The
// relation lives until iteration stops.
func (e *Executor) Transform(ctx context.Context, table, query string, rows []any) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		rel, err := e.Register(ctx, table, rows)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rel.Close()
		for row, err := range rel.Query(ctx, query) {
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

func declType(t schema.ColumnType) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.BigInt:
		return "BIGINT"
	case schema.Double:
		return "DOUBLE"
	case schema.Jsonb:
		return "JSON"
	default:
		return "TEXT"
	}
}

func convert(v any, declType string) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch declType {
	case "BOOLEAN":
		switch x := v.(type) {
		case int64:
			return x != 0, nil
		case string:
			return x == "1" || strings.EqualFold(x, "true"), nil
		}
	case "JSON":
		if s, ok := v.(string); ok {
			return jsonparser.Unmarshal([]byte(s))
		}
	}
	return v, nil
}
