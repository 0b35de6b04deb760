package jsonparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPointer_RFC6901 runs the lookup examples from RFC 6901 section 5.
func TestPointer_RFC6901(t *testing.T) {
	t.Parallel()

	doc, err := Unmarshal([]byte(`{
		"foo": ["bar", "baz"],
		"": 0,
		"a/b": 1,
		"m~n": 8,
		"k\"l": 6
	}`))
	require.NoError(t, err)

	v, ok := Pointer(doc, "")
	require.True(t, ok)
	require.Equal(t, doc, v)

	v, ok = Pointer(doc, "/foo/0")
	require.True(t, ok)
	require.Equal(t, "bar", v)

	for ptr, want := range map[string]string{"/": "0", "/a~1b": "1", "/m~0n": "8", "/k\"l": "6"} {
		v, ok := Pointer(doc, ptr)
		require.True(t, ok, ptr)
		require.Equal(t, want, v.(interface{ String() string }).String(), ptr)
	}
}

// TestPointer_Misses covers absent keys, bad indices and scalar traversal.
func TestPointer_Misses(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"arr": []any{"x"}, "s": "str"}
	for _, ptr := range []string{"/nope", "/arr/1", "/arr/-1", "/arr/01", "/arr/x", "/s/0", "no-slash"} {
		_, ok := Pointer(doc, ptr)
		require.False(t, ok, ptr)
	}

	toks, err := ParsePointer("/~01")
	require.NoError(t, err)
	require.Equal(t, []string{"~1"}, toks)
}
