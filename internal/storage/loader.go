package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// FlushFn writes one batch and returns the number of rows it wrote.
type FlushFn func(ctx context.Context, rows []map[string]any) (int64, error)

// LoadBatches drains seq, groups rows into batches of batchSize and calls
// flush for each non-empty batch. It returns the total reported by flush and
// the first error, whether it came from the sequence or from flush.
//
// Cancellation: returns (total, ctx.Err()) between batches. Progress is
// logged at debug level on each successful flush.
func LoadBatches(
	ctx context.Context,
	seq iter.Seq2[map[string]any, error],
	batchSize int,
	flush FlushFn,
	logger *zap.Logger,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if flush == nil {
		return 0, errors.New("flush must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		total     int64
		batches   int64
		batch     = make([]map[string]any, 0, batchSize)
		start     = time.Now()
		lastFlush = start
		lastTotal int64
	)

	doFlush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := flush(ctx, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			logger.Warn("batch flush failed", zap.Int64("written", n), zap.Int64("total", total), zap.Error(err))
			return err
		}

		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlush)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		logger.Debug("batch flushed",
			zap.Int64("batch", batches),
			zap.String("rps", humanize.Commaf(float64(int64(rps)))),
			zap.Int64("rows", n),
			zap.String("total", humanize.Comma(total)),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		lastFlush = now
		lastTotal = total
		return nil
	}

	for row, err := range seq {
		if err != nil {
			return total, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return total, cerr
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := doFlush(); err != nil {
				return total, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, doFlush()
}

// Rows adapts a slice into the sequence LoadBatches consumes.
func Rows(rows []map[string]any) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}
