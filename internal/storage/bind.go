package storage

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"httpetl/internal/schema"
)

// number matches json.Number values produced by the decoders.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// Bind coerces a decoded JSON value into a driver argument for a column of
// type t. Values that cannot be represented bind as NULL instead of failing
// the statement:
//
//   - numeric strings are parsed for BigInt/Double columns;
//   - "true" (any case) and "1" are true for Boolean columns, other strings false;
//   - arrays and objects bind as JSON text for Jsonb and Text columns;
//   - Text columns receive the JSON text of non-string scalars.
func Bind(v any, t schema.ColumnType) any {
	if n, ok := asNumber(v); ok {
		return bindNumber(n, t)
	}
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return bindBool(x, t)
	case string:
		return bindString(x, t)
	case []any, map[string]any:
		if t == schema.Jsonb || t == schema.Text {
			return marshalText(x)
		}
		return nil
	case []byte:
		return bindString(string(x), t)
	default:
		if t == schema.Jsonb || t == schema.Text {
			return marshalText(x)
		}
		return nil
	}
}

func bindNumber(n number, t schema.ColumnType) any {
	switch t {
	case schema.BigInt:
		if i, err := n.Int64(); err == nil {
			return i
		}
		return nil
	case schema.Double:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return nil
	case schema.Text, schema.Jsonb:
		return n.String()
	default:
		return nil
	}
}

func bindBool(b bool, t schema.ColumnType) any {
	switch t {
	case schema.Boolean:
		return b
	case schema.BigInt:
		if b {
			return int64(1)
		}
		return int64(0)
	case schema.Double:
		if b {
			return 1.0
		}
		return 0.0
	default:
		return strconv.FormatBool(b)
	}
}

func bindString(s string, t schema.ColumnType) any {
	switch t {
	case schema.Text:
		return s
	case schema.Jsonb:
		return marshalText(s)
	case schema.BigInt:
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
		return nil
	case schema.Double:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
		return nil
	case schema.Boolean:
		return strings.EqualFold(s, "true") || s == "1"
	default:
		return nil
	}
}

// asNumber normalizes json.Number and native numeric values.
func asNumber(v any) (number, bool) {
	switch x := v.(type) {
	case number:
		return x, true
	case int:
		return json.Number(strconv.FormatInt(int64(x), 10)), true
	case int32:
		return json.Number(strconv.FormatInt(int64(x), 10)), true
	case int64:
		return json.Number(strconv.FormatInt(x, 10)), true
	case uint64:
		return json.Number(strconv.FormatUint(x, 10)), true
	case float32:
		return json.Number(strconv.FormatFloat(float64(x), 'f', -1, 32)), true
	case float64:
		return json.Number(strconv.FormatFloat(x, 'f', -1, 64)), true
	default:
		return nil, false
	}
}

func marshalText(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// BindRows flattens rows into row-major arguments in schema order. Missing
// keys bind as NULL; keys outside the schema are dropped.
func BindRows(rows []map[string]any, cols schema.Schema) []any {
	args := make([]any, 0, len(rows)*len(cols))
	for _, r := range rows {
		for _, c := range cols {
			args = append(args, Bind(r[c.Name], c.Type))
		}
	}
	return args
}
