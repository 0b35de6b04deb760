package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"httpetl/internal/storage"
	"httpetl/internal/transform"
)

// TransformPageWriter runs the job SQL over every fetched page and writes
// the result to the sink. It implements pagination.PageWriter.
type TransformPageWriter struct {
	exec   *transform.Executor
	writer *storage.Writer
	table  string // relation name the SQL selects from
	sql    string
	logger *zap.Logger

	truncateOnce sync.Once
	truncateErr  error
}

// NewTransformPageWriter registers each page as table in exec, runs sql
// against it and streams the rows into w.
func NewTransformPageWriter(exec *transform.Executor, w *storage.Writer, table, sql string, logger *zap.Logger) *TransformPageWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransformPageWriter{exec: exec, writer: w, table: table, sql: sql, logger: logger}
}

// Begin empties the table once when the writer asks for it, then opens the
// sink transaction.
func (p *TransformPageWriter) Begin(ctx context.Context) error {
	if p.writer.AutoTruncate() {
		p.truncateOnce.Do(func() { p.truncateErr = p.writer.Truncate(ctx) })
		if p.truncateErr != nil {
			return p.truncateErr
		}
	}
	return p.writer.Begin(ctx)
}

func (p *TransformPageWriter) WritePage(ctx context.Context, page int, rows []any, mode storage.WriteMode) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := p.writer.Write(ctx, p.exec.Transform(ctx, p.table, p.sql, rows), mode)
	if err != nil {
		return err
	}
	p.logger.Debug("page written", zap.Int("page", page), zap.Int("fetched", len(rows)), zap.Int64("written", n))
	return nil
}

func (p *TransformPageWriter) OnPageError(_ context.Context, page int, msg string) {
	p.logger.Warn("page failed", zap.Int("page", page), zap.String("error", msg))
}

func (p *TransformPageWriter) Commit(ctx context.Context) error   { return p.writer.Commit(ctx) }
func (p *TransformPageWriter) Rollback(ctx context.Context) error { return p.writer.Rollback(ctx) }
