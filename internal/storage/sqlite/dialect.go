package sqlite

import (
	"fmt"
	"strings"

	"httpetl/internal/schema"
	"httpetl/internal/storage"
)

// Dialect renders SQLite SQL. Upserts use INSERT ... ON CONFLICT.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) QuoteIdent(name string) string { return storage.QuoteDouble(name) }

func (Dialect) Placeholder(int, schema.ColumnType) string { return "?" }

func (Dialect) TypeName(t schema.ColumnType, _ bool) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.BigInt:
		return "INTEGER"
	case schema.Double:
		return "REAL"
	default:
		return "TEXT"
	}
}

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER for builds since 3.32.
func (Dialect) MaxParams() int { return 32766 }

func (Dialect) TableExistsSQL(table string) (string, []any) {
	// sqlite_master holds unqualified names.
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

func (d Dialect) CreateTableSQL(table string, cols schema.Schema, pk string) string {
	return storage.CreateTableSQL(d, table, cols, pk)
}

func (d Dialect) TruncateSQL(table string) string {
	return "DELETE FROM " + storage.QuoteTable(d, table)
}

func (d Dialect) MergeSQL(table string, cols schema.Schema, pk string, rows int) string {
	var b strings.Builder
	b.WriteString(storage.InsertSQL(d, table, cols, rows))
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", d.QuoteIdent(pk))

	nonKey := storage.NonKey(cols, pk)
	if len(nonKey) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	for i, c := range nonKey {
		if i > 0 {
			b.WriteString(", ")
		}
		q := d.QuoteIdent(c.Name)
		fmt.Fprintf(&b, "%s = excluded.%s", q, q)
	}
	return b.String()
}

func (Dialect) IsUndefinedTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
