package mysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"httpetl/internal/schema"
	"httpetl/internal/storage"
)

// Dialect renders MySQL 8 SQL. Upserts use ON DUPLICATE KEY UPDATE.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(int, schema.ColumnType) string { return "?" }

// TypeName uses VARCHAR for a text key; TEXT columns cannot be indexed
// without a prefix length.
func (Dialect) TypeName(t schema.ColumnType, pk bool) string {
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
		if pk {
			return "VARCHAR(255)"
		}
		return "LONGTEXT"
	}
}

func (Dialect) MaxParams() int { return 65535 }

func (Dialect) TableExistsSQL(table string) (string, []any) {
	q := "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
			[]any{table[:i], table[i+1:]}
	}
	return q, []any{table}
}

func (d Dialect) CreateTableSQL(table string, cols schema.Schema, pk string) string {
	return storage.CreateTableSQL(d, table, cols, pk)
}

func (d Dialect) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + storage.QuoteTable(d, table)
}

func (d Dialect) MergeSQL(table string, cols schema.Schema, pk string, rows int) string {
	var b strings.Builder
	b.WriteString(storage.InsertSQL(d, table, cols, rows))
	b.WriteString(" ON DUPLICATE KEY UPDATE ")

	nonKey := storage.NonKey(cols, pk)
	if len(nonKey) == 0 {
		q := d.QuoteIdent(pk)
		fmt.Fprintf(&b, "%s = %s", q, q)
		return b.String()
	}
	for i, c := range nonKey {
		if i > 0 {
			b.WriteString(", ")
		}
		q := d.QuoteIdent(c.Name)
		fmt.Fprintf(&b, "%s = VALUES(%s)", q, q)
	}
	return b.String()
}

// IsUndefinedTable matches ER_NO_SUCH_TABLE (1146).
func (Dialect) IsUndefinedTable(err error) bool {
	var e *mysql.MySQLError
	return errors.As(err, &e) && e.Number == 1146
}
