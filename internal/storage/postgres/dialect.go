package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"httpetl/internal/schema"
	"httpetl/internal/storage"
)

// Dialect renders PostgreSQL 15+ SQL. Upserts use MERGE.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) QuoteIdent(name string) string { return storage.QuoteDouble(name) }

// Placeholder casts every parameter so VALUES rows carry the column type.
func (d Dialect) Placeholder(n int, t schema.ColumnType) string {
	return fmt.Sprintf("$%d::%s", n, d.TypeName(t, false))
}

func (Dialect) TypeName(t schema.ColumnType, _ bool) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.BigInt:
		return "BIGINT"
	case schema.Double:
		return "DOUBLE PRECISION"
	case schema.Jsonb:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (Dialect) MaxParams() int { return 65535 }

func (d Dialect) TableExistsSQL(table string) (string, []any) {
	return "SELECT CASE WHEN to_regclass($1) IS NULL THEN 0 ELSE 1 END", []any{storage.QuoteTable(d, table)}
}

func (d Dialect) CreateTableSQL(table string, cols schema.Schema, pk string) string {
	return storage.CreateTableSQL(d, table, cols, pk)
}

func (d Dialect) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + storage.QuoteTable(d, table)
}

// MergeSQL renders
//
//	MERGE INTO t AS t USING (VALUES ...) AS s(cols) ON t.pk = s.pk
//	WHEN MATCHED THEN UPDATE SET ...
//	WHEN NOT MATCHED THEN INSERT (cols) VALUES (s.cols);
//
// The WHEN MATCHED arm is omitted when every column is part of the key.
func (d Dialect) MergeSQL(table string, cols schema.Schema, pk string, rows int) string {
	names := strings.Join(storage.QuotedColumns(d, cols, ""), ", ")
	qpk := d.QuoteIdent(pk)

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS t\nUSING (VALUES %s) AS s(%s)\nON t.%s = s.%s\n",
		storage.QuoteTable(d, table), storage.ValuesBlock(d, cols, rows, ", "), names, qpk, qpk)

	nonKey := storage.NonKey(cols, pk)
	switch len(nonKey) {
	case 0:
	case 1:
		q := d.QuoteIdent(nonKey[0].Name)
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s = s.%s\n", q, q)
	default:
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET (%s) = ROW(%s)\n",
			strings.Join(storage.QuotedColumns(d, nonKey, ""), ", "),
			strings.Join(storage.QuotedColumns(d, nonKey, "s."), ", "))
	}

	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		names, strings.Join(storage.QuotedColumns(d, cols, "s."), ", "))
	return b.String()
}

// IsUndefinedTable matches SQLSTATE 42P01.
func (Dialect) IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
