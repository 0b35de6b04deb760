package jsonparser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPointer is returned for pointers that are neither empty nor
// start with "/".
var ErrInvalidPointer = errors.New("jsonparser: invalid JSON pointer")

// ParsePointer splits an RFC 6901 pointer into unescaped reference tokens.
// The empty pointer refers to the whole document and yields no tokens.
func ParsePointer(ptr string) ([]string, error) {
	if ptr == "" {
		return nil, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPointer, ptr)
	}
	parts := strings.Split(ptr[1:], "/")
	for i, p := range parts {
		// ~1 before ~0 so that "~01" decodes to "~1".
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return parts, nil
}

// Lookup walks doc along tokens. Objects are indexed by key, arrays by a
// base-10 index without leading zeros.
func Lookup(doc any, tokens []string) (any, bool) {
	cur := doc
	for _, tok := range tokens {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if tok == "" || (len(tok) > 1 && tok[0] == '0') {
				return nil, false
			}
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Pointer resolves ptr against doc. Invalid pointers resolve to nothing.
func Pointer(doc any, ptr string) (any, bool) {
	tokens, err := ParsePointer(ptr)
	if err != nil {
		return nil, false
	}
	return Lookup(doc, tokens)
}
