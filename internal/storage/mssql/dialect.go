package mssql

import (
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"httpetl/internal/schema"
	"httpetl/internal/storage"
)

// Dialect renders T-SQL for SQL Server 2016+.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

// QuoteIdent brackets name, doubling any closing bracket.
func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int, _ schema.ColumnType) string { return fmt.Sprintf("@p%d", n) }

// TypeName sizes a text primary key to fit the 900-byte index key limit.
func (Dialect) TypeName(t schema.ColumnType, pk bool) string {
	switch t {
	case schema.Boolean:
		return "BIT"
	case schema.BigInt:
		return "BIGINT"
	case schema.Double:
		return "FLOAT"
	default:
		if pk {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}

// MaxParams stays below the 2100 parameter limit of one RPC call.
func (Dialect) MaxParams() int { return 2000 }

func (d Dialect) TableExistsSQL(table string) (string, []any) {
	return "SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END", []any{storage.QuoteTable(d, table)}
}

func (d Dialect) CreateTableSQL(table string, cols schema.Schema, pk string) string {
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		def := d.QuoteIdent(c.Name) + " " + d.TypeName(c.Type, c.Name == pk)
		if c.Name == pk {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if pk != "" && cols.Has(pk) {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", d.QuoteIdent(pk)))
	}
	qt := storage.QuoteTable(d, table)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  )\nEND",
		strings.ReplaceAll(qt, "'", "''"), qt, strings.Join(parts, ",\n    "))
}

func (d Dialect) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + storage.QuoteTable(d, table)
}

// MergeSQL renders a HOLDLOCK MERGE; the terminating semicolon is mandatory.
func (d Dialect) MergeSQL(table string, cols schema.Schema, pk string, rows int) string {
	qpk := d.QuoteIdent(pk)

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS t\nUSING (VALUES %s) AS s(%s)\nON t.%s = s.%s\n",
		storage.QuoteTable(d, table),
		storage.ValuesBlock(d, cols, rows, ", "),
		strings.Join(storage.QuotedColumns(d, cols, ""), ", "),
		qpk, qpk)

	if nonKey := storage.NonKey(cols, pk); len(nonKey) > 0 {
		sets := make([]string, len(nonKey))
		for i, c := range nonKey {
			q := d.QuoteIdent(c.Name)
			sets[i] = "t." + q + " = s." + q
		}
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(storage.QuotedColumns(d, cols, ""), ", "),
		strings.Join(storage.QuotedColumns(d, cols, "s."), ", "))
	return b.String()
}

// IsUndefinedTable matches error 208 (invalid object name) and 4701
// (cannot find the object, raised by TRUNCATE).
func (Dialect) IsUndefinedTable(err error) bool {
	var e mssql.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Number == 208 || e.Number == 4701
}
