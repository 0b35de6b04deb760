package storage

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// dedupeByKey collapses rows sharing the same primary key value, keeping the
// last occurrence in its original position. MERGE statements reject a batch
// that touches one target row twice. Rows without a key value are kept.
func dedupeByKey(rows []map[string]any, pk string) []map[string]any {
	if len(rows) < 2 {
		return rows
	}

	last := make(map[uint64]int, len(rows))
	for i, r := range rows {
		if h, ok := keyHash(r, pk); ok {
			last[h] = i
		}
	}
	if len(last) == len(rows) {
		return rows
	}

	out := make([]map[string]any, 0, len(last))
	for i, r := range rows {
		h, ok := keyHash(r, pk)
		if !ok || last[h] == i {
			out = append(out, r)
		}
	}
	return out
}

func keyHash(r map[string]any, pk string) (uint64, bool) {
	v, ok := r[pk]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case string:
		return xxh3.HashString("s" + t), true
	default:
		if n, ok := asNumber(v); ok {
			return xxh3.HashString("n" + n.String()), true
		}
		return xxh3.HashString(fmt.Sprintf("%T:%v", v, v)), true
	}
}
