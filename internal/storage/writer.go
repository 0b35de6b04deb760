package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"httpetl/internal/metrics"
	"httpetl/internal/schema"
)

const (
	DefaultBatchSize  = 100
	DefaultSampleSize = 10
)

var (
	// ErrNeedSample is returned when the table schema is not cached yet and
	// the caller supplied no rows to infer it from.
	ErrNeedSample = errors.New("storage: need sample rows to resolve table schema")

	// ErrNoPrimaryKey is returned for Merge writes without a primary key.
	ErrNoPrimaryKey = errors.New("storage: merge requires a primary key")

	// ErrTableMissing is returned when the table does not exist and
	// auto-create is disabled.
	ErrTableMissing = errors.New("storage: table does not exist")
)

// Options configure a Writer.
type Options struct {
	Table      string
	PrimaryKey string
	BatchSize  int
	SampleSize int

	AutoCreate   bool
	AutoTruncate bool

	Job    string // metric label
	Logger *zap.Logger
}

// Writer writes JSON rows into one table. It is safe for concurrent use:
// pages fetched in parallel share one Writer, and the table is created at
// most once.
type Writer struct {
	repo    Repository
	dialect Dialect
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex // guards schema
	schema schema.Schema

	initMu sync.Mutex // serializes schema resolution
}

// NewWriter returns a Writer for opts.Table on repo.
func NewWriter(repo Repository, opts Options) (*Writer, error) {
	if repo == nil {
		return nil, errors.New("storage: nil repository")
	}
	if strings.TrimSpace(opts.Table) == "" {
		return nil, errors.New("storage: table name is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		repo:    repo,
		dialect: repo.Dialect(),
		opts:    opts,
		logger:  logger.With(zap.String("table", opts.Table), zap.String("dialect", repo.Dialect().Name())),
	}, nil
}

// Table returns the destination table name.
func (w *Writer) Table() string { return w.opts.Table }

// Schema returns the cached schema, or nil before the first write.
func (w *Writer) Schema() schema.Schema {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.schema
}

// EnsureTable resolves the table schema, creating the table if needed. The
// first successful call caches the schema; later calls return it without
// touching the database.
func (w *Writer) EnsureTable(ctx context.Context, sample []map[string]any) (schema.Schema, error) {
	if s := w.Schema(); s != nil {
		return s, nil
	}

	w.initMu.Lock()
	defer w.initMu.Unlock()

	// Another goroutine may have finished while we waited.
	if s := w.Schema(); s != nil {
		return s, nil
	}

	exists, err := w.repo.TableExists(ctx, w.opts.Table)
	if err != nil {
		return nil, fmt.Errorf("check table %s: %w", w.opts.Table, err)
	}
	if !exists && !w.opts.AutoCreate {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, w.opts.Table)
	}
	if len(sample) == 0 {
		return nil, ErrNeedSample
	}

	s, err := schema.InferObjects(sample, w.opts.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("infer schema for %s: %w", w.opts.Table, err)
	}

	if !exists {
		if err := w.create(ctx, s); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	w.schema = s
	w.mu.Unlock()
	return s, nil
}

func (w *Writer) create(ctx context.Context, s schema.Schema) error {
	pk := w.opts.PrimaryKey
	if pk != "" && !s.Has(pk) {
		w.logger.Warn("primary key not found in inferred schema; creating table without it",
			zap.String("primary_key", pk), zap.Strings("columns", s.Names()))
		pk = ""
	}

	q := w.dialect.CreateTableSQL(w.opts.Table, s, pk)
	if err := w.repo.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", w.opts.Table, err)
	}
	w.logger.Info("created table",
		zap.Int("columns", len(s)),
		zap.String("schema", s.String()),
		zap.String("fingerprint", fmt.Sprintf("%016x", s.Fingerprint())),
	)
	return nil
}

// Truncate empties the table. A missing table is not an error.
func (w *Writer) Truncate(ctx context.Context) error {
	w.logger.Info("truncating table")
	err := w.repo.Exec(ctx, w.dialect.TruncateSQL(w.opts.Table))
	if err == nil {
		return nil
	}
	if w.dialect.IsUndefinedTable(err) {
		w.logger.Warn("table does not exist, skipping truncate")
		return nil
	}
	return fmt.Errorf("truncate %s: %w", w.opts.Table, err)
}

// AutoTruncate reports whether the table should be emptied before the first
// write of a job.
func (w *Writer) AutoTruncate() bool { return w.opts.AutoTruncate }

// WriteBatch writes rows using mode. Rows are split into statements of at
// most BatchSize rows, fewer when the backend's parameter limit requires it.
func (w *Writer) WriteBatch(ctx context.Context, rows []map[string]any, mode WriteMode) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if mode == Merge && w.opts.PrimaryKey == "" {
		return 0, ErrNoPrimaryKey
	}

	s, err := w.EnsureTable(ctx, rows)
	if err != nil {
		return 0, err
	}
	if mode == Merge {
		if !s.Has(w.opts.PrimaryKey) {
			return 0, fmt.Errorf("%w: column %q not in schema [%s]", ErrNoPrimaryKey, w.opts.PrimaryKey, s.String())
		}
		rows = dedupeByKey(rows, w.opts.PrimaryKey)
	}

	chunk := w.chunkSize(len(s))
	var written int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		part := rows[start:end]

		var q string
		if mode == Merge {
			q = w.dialect.MergeSQL(w.opts.Table, s, w.opts.PrimaryKey, len(part))
		} else {
			q = InsertSQL(w.dialect, w.opts.Table, s, len(part))
		}
		if err := w.repo.Exec(ctx, q, BindRows(part, s)...); err != nil {
			return written, fmt.Errorf("%s %d rows into %s: %w", mode, len(part), w.opts.Table, err)
		}
		written += int64(len(part))
		metrics.RecordBatches(w.opts.Job, 1)
	}

	metrics.RecordRow(w.opts.Job, "written", written)
	return written, nil
}

func (w *Writer) chunkSize(cols int) int {
	n := w.opts.BatchSize
	if cols > 0 {
		if limit := w.dialect.MaxParams() / cols; limit < n {
			n = max(limit, 1)
		}
	}
	return n
}

// Write streams seq into the table in BatchSize batches.
func (w *Writer) Write(ctx context.Context, seq iter.Seq2[map[string]any, error], mode WriteMode) (int64, error) {
	return LoadBatches(ctx, seq, w.opts.BatchSize, func(ctx context.Context, rows []map[string]any) (int64, error) {
		return w.WriteBatch(ctx, rows, mode)
	}, w.logger)
}

func (w *Writer) Begin(ctx context.Context) error    { return w.repo.Begin(ctx) }
func (w *Writer) Commit(ctx context.Context) error   { return w.repo.Commit(ctx) }
func (w *Writer) Rollback(ctx context.Context) error { return w.repo.Rollback(ctx) }
