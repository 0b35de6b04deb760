// Package pipeline runs jobs: one rendered SQL module bound to one HTTP
// source and one warehouse target.
//
// Jobs run one after another. A failed job is logged and the next one still
// runs; Run returns every failure joined.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"httpetl/internal/config"
	"httpetl/internal/datasource/httpds"
	"httpetl/internal/metrics"
	"httpetl/internal/pagination"
	"httpetl/internal/storage"
	"httpetl/internal/templates"
	"httpetl/internal/transform"
)

// OpenFunc opens a sink repository. storage.New is the default.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

// Runner executes jobs against a loaded config.
type Runner struct {
	cfg       *config.Config
	exec      *transform.Executor
	logger    *zap.Logger
	transport http.RoundTripper
	open      OpenFunc
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTransport sets the RoundTripper used by every source client.
func WithTransport(t http.RoundTripper) Option { return func(r *Runner) { r.transport = t } }

// WithOpener replaces storage.New.
func WithOpener(f OpenFunc) Option { return func(r *Runner) { r.open = f } }

// NewRunner returns a Runner. cfg must be indexed; exec is shared by every
// job.
func NewRunner(cfg *config.Config, exec *transform.Executor, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		exec:   exec,
		logger: zap.NewNop(),
		open:   storage.New,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// JobResult is the outcome of one job.
type JobResult struct {
	Job     string
	RunID   string
	Source  string
	Sink    string
	Table   string
	Stats   pagination.FetchStats
	Elapsed time.Duration
	Err     error
}

// Summary collects the results of a Run.
type Summary struct {
	Results []JobResult
	Failed  int
}

// Run executes jobs serially.
func (r *Runner) Run(ctx context.Context, jobs []templates.Job) (Summary, error) {
	var (
		sum  Summary
		errs []error
	)
	start := time.Now()
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := r.RunJob(ctx, job)
		sum.Results = append(sum.Results, res)
		if res.Err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, res.Err))
		}
	}

	var items int64
	for _, res := range sum.Results {
		items += res.Stats.TotalItems
	}
	r.logger.Info("run complete",
		zap.Int("jobs", len(jobs)),
		zap.Int("failed", sum.Failed),
		zap.String("items", humanize.Comma(items)),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)),
	)
	return sum, errors.Join(errs...)
}

// RunJob executes one job. Failures, including an unknown source or target,
// are reported in the result.
func (r *Runner) RunJob(ctx context.Context, job templates.Job) JobResult {
	start := time.Now()
	res := JobResult{Job: job.Name, RunID: uuid.NewString(), Source: job.Source, Sink: job.Sink}
	log := r.logger.With(
		zap.String("job", job.Name),
		zap.String("run_id", res.RunID),
		zap.String("source", job.Source),
		zap.String("sink", job.Sink),
	)

	stats, table, err := r.runJob(ctx, job, log)
	res.Stats = stats
	res.Table = table
	res.Err = err
	res.Elapsed = time.Since(start)
	metrics.RecordStep(job.Name, "job", err, res.Elapsed)

	if err != nil {
		log.Error("job failed",
			zap.String("table", table),
			zap.Duration("elapsed", res.Elapsed.Truncate(time.Millisecond)),
			zap.Error(err),
		)
		return res
	}
	log.Info("job complete",
		zap.String("table", table),
		zap.Int64("pages", stats.SuccessCount),
		zap.Int64("failed_pages", stats.ErrorCount),
		zap.String("items", humanize.Comma(stats.TotalItems)),
		zap.Duration("elapsed", res.Elapsed.Truncate(time.Millisecond)),
	)
	return res
}

func (r *Runner) runJob(ctx context.Context, job templates.Job, log *zap.Logger) (pagination.FetchStats, string, error) {
	src, ok := r.cfg.Source(job.Source)
	if !ok {
		return pagination.FetchStats{}, "", fmt.Errorf("source not found in config: %s", job.Source)
	}
	tgt, ok := r.cfg.Target(job.Sink)
	if !ok {
		return pagination.FetchStats{}, "", fmt.Errorf("target not found in config: %s", job.Sink)
	}
	table := src.TableDestinationName
	if strings.TrimSpace(table) == "" {
		return pagination.FetchStats{}, "", fmt.Errorf("table_destination_name is required for source: %s", src.Name)
	}
	log = log.With(zap.String("table", table))

	mode, err := src.Mode()
	if err != nil {
		return pagination.FetchStats{}, table, err
	}
	sql := strings.ReplaceAll(job.SQL, src.Name, table)

	hc := src.HTTPConfig(log)
	hc.Transport = r.transport
	client, err := httpds.NewClient(hc)
	if err != nil {
		return pagination.FetchStats{}, table, fmt.Errorf("http client: %w", err)
	}

	openStart := time.Now()
	repo, err := r.open(ctx, tgt.StorageConfig(log))
	metrics.RecordStep(job.Name, "open", err, time.Since(openStart))
	if err != nil {
		return pagination.FetchStats{}, table, fmt.Errorf("open target %s: %w", tgt.Name, err)
	}
	defer repo.Close()

	writer, err := storage.NewWriter(repo, storage.Options{
		Table:        table,
		PrimaryKey:   src.PrimaryKey.Column(),
		BatchSize:    src.BatchSize,
		SampleSize:   src.SampleSize,
		AutoCreate:   src.AutoCreateTable(),
		AutoTruncate: src.TruncateFirst,
		Job:          job.Name,
		Logger:       log,
	})
	if err != nil {
		return pagination.FetchStats{}, table, err
	}
	pw := NewTransformPageWriter(r.exec, writer, table, sql, log)

	opts := []pagination.Option{
		pagination.WithStrategy(src.Strategy()),
		pagination.WithTotalHint(src.Hint()),
		pagination.WithDataPath(src.DataPath),
		pagination.WithJob(job.Name),
		pagination.WithLogger(log),
	}
	if src.Concurrency > 0 {
		opts = append(opts, pagination.WithConcurrency(src.Concurrency))
	}
	if src.PageSize > 0 {
		opts = append(opts, pagination.WithPageSize(src.PageSize))
	}
	if src.FetchBatchSize > 0 {
		opts = append(opts, pagination.WithBatchSize(src.FetchBatchSize))
	}

	fetchStart := time.Now()
	stats, err := pagination.New(client, src.URL, opts...).Fetch(ctx, pw, mode)
	metrics.RecordStep(job.Name, "fetch", err, time.Since(fetchStart))
	return stats, table, err
}
