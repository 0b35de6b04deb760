// Package pagination walks paginated HTTP endpoints and hands each page of
// decoded rows to a PageWriter.
package pagination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"httpetl/internal/metrics"
	jsonparser "httpetl/internal/parser/json"
	"httpetl/internal/storage"
)

const (
	DefaultConcurrency = 5
	DefaultPageSize    = 50
	DefaultBatchSize   = 256
)

// Getter issues one logical GET. *httpds.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error)
}

// Fetcher pulls every page of one endpoint.
type Fetcher struct {
	client      Getter
	baseURL     string
	strategy    Strategy
	concurrency int
	pageSize    int
	batchSize   int
	totalHint   *TotalHint
	dataPath    string
	job         string
	logger      *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithStrategy(s Strategy) Option { return func(f *Fetcher) { f.strategy = s } }

// WithConcurrency bounds in-flight page requests when the total is known.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithPageSize sets the limit / per_page value sent to the API.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithBatchSize sets how many rows go into one WritePage call.
func WithBatchSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

func WithTotalHint(h *TotalHint) Option { return func(f *Fetcher) { f.totalHint = h } }
func WithDataPath(p string) Option      { return func(f *Fetcher) { f.dataPath = p } }
func WithJob(name string) Option        { return func(f *Fetcher) { f.job = name } }

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New returns a Fetcher for baseURL. Without WithStrategy it issues a
// single request.
func New(client Getter, baseURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		baseURL:     baseURL,
		strategy:    Strategy{Kind: KindDefault},
		concurrency: DefaultConcurrency,
		pageSize:    DefaultPageSize,
		batchSize:   DefaultBatchSize,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// stats is FetchStats updated from concurrent page tasks.
type stats struct {
	success, errors, items atomic.Int64
}

func (s *stats) snapshot() FetchStats {
	return FetchStats{
		SuccessCount: s.success.Load(),
		ErrorCount:   s.errors.Load(),
		TotalItems:   s.items.Load(),
	}
}

// Fetch walks the endpoint and writes every page to w inside one
// Begin/Commit. Failures of individual pages after the first are reported
// to w.OnPageError and counted; they do not fail the fetch.
func (f *Fetcher) Fetch(ctx context.Context, w PageWriter, mode storage.WriteMode) (FetchStats, error) {
	if f.strategy.Kind == KindCursor {
		return FetchStats{}, fmt.Errorf("%w: %s", ErrUnsupportedStrategy, f.strategy.Kind)
	}
	if err := f.strategy.Validate(); err != nil {
		return FetchStats{}, err
	}

	start := time.Now()
	log := f.logger.With(zap.String("url", f.baseURL), zap.String("pagination", string(f.strategy.Kind)))

	if err := w.Begin(ctx); err != nil {
		return FetchStats{}, fmt.Errorf("begin: %w", err)
	}

	st := &stats{}
	if err := f.walk(ctx, w, mode, st, log); err != nil {
		if rbErr := w.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
		return st.snapshot(), err
	}

	if err := w.Commit(ctx); err != nil {
		if rbErr := w.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
		return st.snapshot(), fmt.Errorf("commit: %w", err)
	}

	out := st.snapshot()
	log.Info("fetch complete",
		zap.Int64("success", out.SuccessCount),
		zap.Int64("errors", out.ErrorCount),
		zap.Int64("items", out.TotalItems),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)),
	)
	return out, nil
}

func (f *Fetcher) walk(ctx context.Context, w PageWriter, mode storage.WriteMode, st *stats, log *zap.Logger) error {
	single := f.strategy.Kind == KindDefault || f.strategy.Kind == ""

	first := 0
	var params url.Values
	if !single {
		first = f.strategy.firstPage()
		params = f.strategy.params(first, f.pageSize)
	}

	rows, doc, lineErrs, err := f.fetchFirst(ctx, params)
	if err != nil {
		return fmt.Errorf("fetch first page: %w", err)
	}
	for _, lerr := range lineErrs {
		f.pageError(ctx, w, st, first, lerr)
	}
	if err := f.writeRows(ctx, w, mode, st, first, rows); err != nil {
		return fmt.Errorf("write page %d: %w", first, err)
	}
	if single {
		return nil
	}

	if total, ok := f.totalPages(doc); ok {
		log.Debug("total pages known", zap.Int64("pages", total))
		return f.fetchKnown(ctx, w, mode, st, first+1, first+int(total)-1)
	}
	if len(rows) == 0 {
		return nil
	}
	return f.fetchUntilEmpty(ctx, w, mode, st, first+1, log)
}

// fetchFirst reads the discovery page in full. A JSON document is parsed
// once so the total hint can be read from it; NDJSON bodies carry no hint.
// Malformed NDJSON lines are returned separately and do not fail the page.
func (f *Fetcher) fetchFirst(ctx context.Context, params url.Values) (rows []any, doc any, lineErrs []error, err error) {
	resp, err := f.client.Get(ctx, f.baseURL, params)
	if err != nil {
		return nil, nil, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if jsonparser.IsNDJSON(ct) {
		for v, err := range jsonparser.DecodeReader(bytes.NewReader(body), ct, f.dataPath) {
			if err != nil {
				var lineErr *jsonparser.LineError
				if errors.As(err, &lineErr) {
					lineErrs = append(lineErrs, err)
					continue
				}
				return nil, nil, nil, err
			}
			rows = append(rows, v)
		}
		return rows, nil, lineErrs, nil
	}

	doc, err = jsonparser.Unmarshal(body)
	if err != nil {
		return nil, nil, nil, err
	}
	rows, err = jsonparser.Items(doc, f.dataPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return rows, doc, nil, nil
}

// totalPages reads the total hint from the discovery document.
func (f *Fetcher) totalPages(doc any) (int64, bool) {
	if f.totalHint == nil || doc == nil {
		return 0, false
	}
	v, ok := jsonparser.Pointer(doc, f.totalHint.Pointer)
	if !ok || v == nil {
		f.logger.Warn("total hint not found in first page", zap.String("pointer", f.totalHint.Pointer))
		return 0, false
	}
	n, err := cast.ToInt64E(v)
	if err != nil || n < 0 {
		f.logger.Warn("total hint is not a non-negative integer", zap.String("pointer", f.totalHint.Pointer), zap.Any("value", v))
		return 0, false
	}
	if f.totalHint.Kind == HintItems {
		n = (n + int64(f.pageSize) - 1) / int64(f.pageSize)
	}
	return n, true
}

// writeRows writes rows as batches of batchSize. The first failed batch is
// returned; used for the discovery page, where a failure is fatal.
func (f *Fetcher) writeRows(ctx context.Context, w PageWriter, mode storage.WriteMode, st *stats, page int, rows []any) error {
	for start := 0; start < len(rows); start += f.batchSize {
		end := min(start+f.batchSize, len(rows))
		if err := w.WritePage(ctx, page, rows[start:end], mode); err != nil {
			metrics.RecordPage(f.job, "error")
			return err
		}
		f.recordWrite(st, end-start)
	}
	return nil
}

func (f *Fetcher) recordWrite(st *stats, n int) {
	st.success.Add(1)
	st.items.Add(int64(n))
	metrics.RecordPage(f.job, "ok")
	metrics.RecordRow(f.job, "fetched", int64(n))
}

func (f *Fetcher) pageError(ctx context.Context, w PageWriter, st *stats, page int, err error) {
	st.errors.Add(1)
	metrics.RecordPage(f.job, "error")
	w.OnPageError(ctx, page, err.Error())
}

// fetchKnown fetches pages from..to (inclusive) with at most concurrency
// requests in flight. A new request starts as soon as any slot frees up.
func (f *Fetcher) fetchKnown(ctx context.Context, w PageWriter, mode storage.WriteMode, st *stats, from, to int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for page := from; page <= to; page++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			f.fetchPage(gctx, w, mode, st, page)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// fetchUntilEmpty walks pages sequentially from page until one yields no
// rows or fails.
func (f *Fetcher) fetchUntilEmpty(ctx context.Context, w PageWriter, mode storage.WriteMode, st *stats, page int, log *zap.Logger) error {
	for ; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := f.fetchPage(ctx, w, mode, st, page)
		if !ok || n == 0 {
			log.Debug("pagination finished", zap.Int("last_page", page), zap.Bool("failed", !ok))
			return ctx.Err()
		}
	}
}

// fetchPage streams one page through the decoder and writes it in batches.
// It reports the rows seen and whether the request itself succeeded.
func (f *Fetcher) fetchPage(ctx context.Context, w PageWriter, mode storage.WriteMode, st *stats, page int) (int, bool) {
	resp, err := f.client.Get(ctx, f.baseURL, f.strategy.params(page, f.pageSize))
	if err != nil {
		if ctx.Err() == nil {
			f.pageError(ctx, w, st, page, err)
		}
		return 0, false
	}

	seen := 0
	buf := make([]any, 0, f.batchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := w.WritePage(ctx, page, buf, mode); err != nil {
			f.pageError(ctx, w, st, page, err)
		} else {
			f.recordWrite(st, len(buf))
		}
		buf = make([]any, 0, f.batchSize)
	}

	for v, err := range jsonparser.Decode(resp, f.dataPath) {
		if err != nil {
			var lineErr *jsonparser.LineError
			f.pageError(ctx, w, st, page, err)
			if errors.As(err, &lineErr) {
				continue
			}
			break
		}
		seen++
		buf = append(buf, v)
		if len(buf) == f.batchSize {
			flush()
		}
	}
	flush()
	return seen, true
}
