package storage

import (
	"fmt"
	"strings"

	"httpetl/internal/schema"
)

// QuoteTable quotes a possibly schema-qualified name segment by segment:
// public.events -> "public"."events".
func QuoteTable(d Dialect, table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// QuoteDouble is ANSI identifier quoting: wrap in double quotes and double
// any embedded double quote.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuotedColumns returns the quoted column names, optionally prefixed with an
// alias ("s." etc).
func QuotedColumns(d Dialect, cols schema.Schema, prefix string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + d.QuoteIdent(c.Name)
	}
	return out
}

// ValuesBlock renders "(p1, p2), (p3, p4)" for rows rows of cols.
func ValuesBlock(d Dialect, cols schema.Schema, rows int, sep string) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(sep)
		}
		b.WriteByte('(')
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n, c.Type))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// InsertSQL renders one multi-row INSERT.
func InsertSQL(d Dialect, table string, cols schema.Schema, rows int) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		QuoteTable(d, table),
		strings.Join(QuotedColumns(d, cols, ""), ", "),
		ValuesBlock(d, cols, rows, ", "),
	)
}

// CreateTableSQL renders the portable
//
//	CREATE TABLE IF NOT EXISTS t (
//	    "col" TYPE,
//	    PRIMARY KEY ("pk")
//	)
//
// form. pk is ignored when empty or absent from cols.
func CreateTableSQL(d Dialect, table string, cols schema.Schema, pk string) string {
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		parts = append(parts, d.QuoteIdent(c.Name)+" "+d.TypeName(c.Type, c.Name == pk))
	}
	if pk != "" && cols.Has(pk) {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", d.QuoteIdent(pk)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", QuoteTable(d, table), strings.Join(parts, ",\n    "))
}

// NonKey returns cols without pk.
func NonKey(cols schema.Schema, pk string) schema.Schema {
	out := make(schema.Schema, 0, len(cols))
	for _, c := range cols {
		if c.Name != pk {
			out = append(out, c)
		}
	}
	return out
}
