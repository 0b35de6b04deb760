package storage

import (
	"fmt"
	"strings"
)

// WriteMode selects plain inserts or upserts keyed on the primary key.
type WriteMode int

const (
	Append WriteMode = iota
	Merge
)

func (m WriteMode) String() string {
	switch m {
	case Append:
		return "append"
	case Merge:
		return "merge"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// ParseWriteMode accepts "append" (also "insert") and "merge" (also
// "upsert"). Empty means Append.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append", "insert":
		return Append, nil
	case "merge", "upsert":
		return Merge, nil
	default:
		return Append, fmt.Errorf("unknown write_mode %q (want append or merge)", s)
	}
}
