package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"httpetl/internal/datasource/httpds"
	"httpetl/internal/storage"
)

type write struct {
	page int
	rows int
}

// recorder is a PageWriter that remembers every call.
type recorder struct {
	mu         sync.Mutex
	writes     []write
	errs       map[int][]string
	began      bool
	committed  bool
	rolledBack bool
	failPage   int
}

func newRecorder() *recorder { return &recorder{errs: map[int][]string{}, failPage: -1} }

func (r *recorder) Begin(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.began = true
	return nil
}

func (r *recorder) WritePage(_ context.Context, page int, rows []any, _ storage.WriteMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page == r.failPage {
		return errors.New("sink rejected batch")
	}
	r.writes = append(r.writes, write{page, len(rows)})
	return nil
}

func (r *recorder) OnPageError(_ context.Context, page int, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[page] = append(r.errs[page], msg)
}

func (r *recorder) Commit(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = true
	return nil
}

func (r *recorder) Rollback(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolledBack = true
	return nil
}

func (r *recorder) pages() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, w := range r.writes {
		out = append(out, w.page)
	}
	sort.Ints(out)
	return out
}

func newClient(t *testing.T) *httpds.Client {
	t.Helper()
	c, err := httpds.NewClient(httpds.Config{
		Retry:  httpds.RetryPolicy{MaxAttempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func items(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"id":%d}`, from+i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestFetch_LimitOffsetUnknownTotalStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		if off < 3 {
			fmt.Fprintf(w, `{"data":%s}`, items(off, 1))
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(LimitOffset("limit", "offset")),
		WithPageSize(1),
		WithDataPath("/data"),
		WithLogger(zaptest.NewLogger(t)),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)

	require.Equal(t, []int{0, 1, 2}, rec.pages())
	require.Equal(t, FetchStats{SuccessCount: 3, TotalItems: 3}, st)
	require.EqualValues(t, 4, requests.Load())
	require.True(t, rec.began)
	require.True(t, rec.committed)
}

func TestFetch_PageNumberKnownTotalBoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		fmt.Fprintf(w, `{"data":%s,"meta":{"pages":5}}`, items(page*10, 1))
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(PageNumber("page", "per_page")),
		WithPageSize(10),
		WithConcurrency(2),
		WithDataPath("/data"),
		WithTotalHint(&TotalHint{Kind: HintPages, Pointer: "/meta/pages"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Merge)
	require.NoError(t, err)

	require.Equal(t, []int{1, 2, 3, 4, 5}, rec.pages())
	require.EqualValues(t, 5, st.SuccessCount)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetch_ItemsHintRoundsUp(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		n := min(3, 7-off)
		fmt.Fprintf(w, `{"total":"7","rows":%s}`, items(off, n))
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(LimitOffset("limit", "offset")),
		WithPageSize(3),
		WithDataPath("/rows"),
		WithTotalHint(&TotalHint{Kind: HintItems, Pointer: "/total"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, rec.pages())
	require.EqualValues(t, 7, st.TotalItems)
	require.EqualValues(t, 3, requests.Load())
}

func TestFetch_BatchesLargePages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if off == 0 {
			fmt.Fprintf(w, `{"count":50,"data":%s}`, items(0, 25))
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i := 0; i < 25; i++ {
			fmt.Fprintf(w, "{\"data\":[{\"id\":%d}]}\n", off+i)
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(LimitOffset("limit", "offset")),
		WithPageSize(25),
		WithBatchSize(10),
		WithDataPath("/data"),
		WithTotalHint(&TotalHint{Kind: HintItems, Pointer: "/count"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)

	require.Equal(t, []write{{0, 10}, {0, 10}, {0, 5}, {1, 10}, {1, 10}, {1, 5}}, rec.writes)
	require.Equal(t, FetchStats{SuccessCount: 6, TotalItems: 50}, st)
}

func TestFetch_DefaultIsSingleRequest(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Empty(t, r.URL.RawQuery)
		fmt.Fprint(w, items(0, 25))
	}))
	defer srv.Close()

	rec := newRecorder()
	st, err := New(newClient(t), srv.URL, WithBatchSize(10)).Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []write{{0, 10}, {0, 10}, {0, 5}}, rec.writes)
	require.EqualValues(t, 25, st.TotalItems)
	require.EqualValues(t, 1, requests.Load())
}

func TestFetch_PageOnly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Len(t, q, 1)
		page, _ := strconv.Atoi(q.Get("p"))
		if page <= 2 {
			fmt.Fprint(w, items(page, 2))
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	rec := newRecorder()
	st, err := New(newClient(t), srv.URL, WithStrategy(PageOnly("p"))).Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, rec.pages())
	require.EqualValues(t, 4, st.TotalItems)
}

func TestFetch_CursorIsUnsupported(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	f := New(newClient(t), "http://127.0.0.1:1", WithStrategy(Strategy{Kind: KindCursor, CursorParam: "after"}))
	_, err := f.Fetch(context.Background(), rec, storage.Append)
	require.ErrorIs(t, err, ErrUnsupportedStrategy)
	require.False(t, rec.began)
}

func TestFetch_PageFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 2:
			http.Error(w, "gone", http.StatusNotFound)
		default:
			fmt.Fprintf(w, `{"pages":4,"data":%s}`, items(page, 1))
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	rec.failPage = 3
	f := New(newClient(t), srv.URL,
		WithStrategy(PageNumber("page", "size")),
		WithDataPath("/data"),
		WithTotalHint(&TotalHint{Kind: HintPages, Pointer: "/pages"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)

	require.Equal(t, []int{1, 4}, rec.pages())
	require.Equal(t, FetchStats{SuccessCount: 2, ErrorCount: 2, TotalItems: 2}, st)
	require.Len(t, rec.errs[2], 1)
	require.Len(t, rec.errs[3], 1)
	require.True(t, rec.committed)
}

func TestFetch_FirstPageFailureRollsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	rec := newRecorder()
	_, err := New(newClient(t), srv.URL, WithStrategy(PageOnly("page"))).Fetch(context.Background(), rec, storage.Append)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, httpds.StatusCode(err))
	require.True(t, rec.rolledBack)
	require.False(t, rec.committed)
}

func TestFetch_BadNDJSONLineIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `{"pages":2,"data":[{"id":1}]}`)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "{\"data\":[{\"id\":2}]}\n{broken\n{\"data\":[{\"id\":3}]}\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(PageNumber("page", "per_page")),
		WithDataPath("/data"),
		WithTotalHint(&TotalHint{Kind: HintPages, Pointer: "/pages"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []write{{1, 1}, {2, 2}}, rec.writes)
	require.Equal(t, FetchStats{SuccessCount: 2, ErrorCount: 1, TotalItems: 3}, st)
	require.Len(t, rec.errs[2], 1)
}

func TestFetch_BadNDJSONLineOnFirstPageIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, "{\"id\":1}\n{broken\n{\"id\":2}\n")
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	st, err := New(newClient(t), srv.URL, WithStrategy(PageOnly("page"))).Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []write{{1, 2}}, rec.writes)
	require.Equal(t, FetchStats{SuccessCount: 1, ErrorCount: 1, TotalItems: 2}, st)
	require.Len(t, rec.errs[1], 1)
	require.True(t, rec.committed)
	require.False(t, rec.rolledBack)
}

// With batch size 1 the known-total walk must still keep every slot busy.
func TestFetch_KnownTotalFillsConcurrencySlots(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 1 {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
		}
		fmt.Fprintf(w, `{"pages":7,"data":%s}`, items(page, 1))
	}))
	defer srv.Close()

	rec := newRecorder()
	f := New(newClient(t), srv.URL,
		WithStrategy(PageNumber("page", "per_page")),
		WithBatchSize(1),
		WithConcurrency(3),
		WithDataPath("/data"),
		WithTotalHint(&TotalHint{Kind: HintPages, Pointer: "/pages"}),
	)
	st, err := f.Fetch(context.Background(), rec, storage.Append)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, rec.pages())
	require.EqualValues(t, 7, st.SuccessCount)
	require.Equal(t, int32(3), peak.Load())
}
