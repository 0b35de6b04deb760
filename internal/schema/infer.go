// Package schema infers warehouse column types from sampled JSON rows.
//
// Inference is a heuristic: each sampled value is classified with TypeOf and
// the candidates for one column are folded with Merge. The resulting Schema is
// ordered lexicographically by column name so generated DDL is stable.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

var (
	// ErrEmptySample is returned when there is nothing to infer from.
	ErrEmptySample = errors.New("schema: need sample data to infer columns")
	// ErrNotObject is returned when a sampled row is not a JSON object.
	ErrNotObject = errors.New("schema: expected JSON object")
)

// Column is one inferred column.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered list of columns, sorted by name.
type Schema []Column

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the type of the named column.
func (s Schema) Lookup(name string) (ColumnType, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Name >= name })
	if i < len(s) && s[i].Name == name {
		return s[i].Type, true
	}
	return Text, false
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Fingerprint hashes the column names and types. Two schemas with the same
// columns and types share a fingerprint.
func (s Schema) Fingerprint() uint64 {
	var b strings.Builder
	for _, c := range s {
		b.WriteString(c.Name)
		b.WriteByte(0)
		b.WriteString(c.Type.String())
		b.WriteByte(0x1f)
	}
	return xxh3.HashString(b.String())
}

// String renders "name:type" pairs, mainly for logs.
func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Name + ":" + c.Type.String()
	}
	return strings.Join(parts, ", ")
}

// Infer derives a Schema from up to sampleSize rows. A non-positive
// sampleSize samples every row. Each row must be a map[string]any.
func Infer(rows []any, sampleSize int) (Schema, error) {
	return infer(rows, sampleSize, false)
}

// InferNonNull is Infer over every row, except that null values do not
// take part in the fold. A column that is null in every row is Text.
func InferNonNull(rows []any) (Schema, error) {
	return infer(rows, 0, true)
}

func infer(rows []any, sampleSize int, skipNull bool) (Schema, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySample
	}
	if sampleSize <= 0 || sampleSize > len(rows) {
		sampleSize = len(rows)
	}

	types := make(map[string]ColumnType)
	nonNull := make(map[string]bool)
	for i, r := range rows[:sampleSize] {
		obj, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is %T", ErrNotObject, i, r)
		}
		for k, v := range obj {
			if skipNull && v == nil {
				if _, seen := types[k]; !seen {
					types[k] = Text
				}
				continue
			}
			t := TypeOf(v)
			if prev, seen := types[k]; seen && (!skipNull || nonNull[k]) {
				t = Merge(prev, t)
			}
			types[k] = t
			nonNull[k] = true
		}
	}
	return fromMap(types), nil
}

// InferObjects is Infer for rows that are already typed as objects.
func InferObjects(rows []map[string]any, sampleSize int) (Schema, error) {
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = r
	}
	return Infer(anyRows, sampleSize)
}

func fromMap(types map[string]ColumnType) Schema {
	out := make(Schema, 0, len(types))
	for name, t := range types {
		out = append(out, Column{Name: name, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
