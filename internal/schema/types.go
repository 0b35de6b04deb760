package schema

import "strconv"

// ColumnType is the warehouse-facing type assigned to an inferred column.
type ColumnType int

const (
	Text ColumnType = iota
	Boolean
	BigInt
	Double
	Jsonb
)

// String returns the lower-case type name used in logs and tests.
func (t ColumnType) String() string {
	switch t {
	case Text:
		return "text"
	case Boolean:
		return "boolean"
	case BigInt:
		return "bigint"
	case Double:
		return "double"
	case Jsonb:
		return "jsonb"
	default:
		return "ColumnType(" + strconv.Itoa(int(t)) + ")"
	}
}

// number matches json.Number from encoding/json and goccy/go-json alike.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// TypeOf classifies a single decoded JSON value.
//
//	nil            -> Text
//	bool           -> Boolean
//	integer number -> BigInt
//	other number   -> Double
//	string         -> Text
//	array, object  -> Jsonb
func TypeOf(v any) ColumnType {
	switch x := v.(type) {
	case nil:
		return Text
	case bool:
		return Boolean
	case string:
		return Text
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return BigInt
	case uint, uint64:
		return Double
	case float32, float64:
		return Double
	case number:
		return numberType(x)
	case []any, map[string]any:
		return Jsonb
	default:
		return Text
	}
}

func numberType(n number) ColumnType {
	if _, err := n.Int64(); err == nil {
		return BigInt
	}
	return Double
}

// Merge widens two candidate types into one. Text absorbs everything,
// BigInt and Double meet at Double, and any other disagreement degrades to
// Text. Merge is commutative and associative.
func Merge(a, b ColumnType) ColumnType {
	switch {
	case a == Text || b == Text:
		return Text
	case a == b:
		return a
	case (a == BigInt && b == Double) || (a == Double && b == BigInt):
		return Double
	default:
		return Text
	}
}
