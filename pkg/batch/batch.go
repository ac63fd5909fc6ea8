// Package batch resolves key lists that are too large for a single upstream query by
// splitting them into fixed-size chunks and merging the partial answers.
//
// Chunks are issued in passes of up to Parallelism chunks. Resolution stops after the
// pass in which a chunk returned fewer entries than the chunk size (the upstream has no
// more data for this list) or once every key has been sent. With Parallelism 1 this is
// the plain sequential chunk loop.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/lpreturns/pkg/metrics"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrFetchFailed matches every *FetchFailedError.
var ErrFetchFailed = errors.New("batch fetch failed")

// FetchFailedError identifies the chunk whose fetch failed after all retries.
type FetchFailedError struct {
	Operation string
	// Offset and End delimit the chunk within the input keys, End exclusive.
	Offset   int
	End      int
	FirstKey string
	LastKey  string
	Err      error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("%s: chunk [%d:%d) keys %s..%s: %v", e.Operation, e.Offset, e.End, e.FirstKey, e.LastKey, e.Err)
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

func (e *FetchFailedError) Is(target error) bool { return target == ErrFetchFailed }

// Fetcher resolves one chunk of keys. Keys the upstream knows nothing about may be
// omitted from the result, which also signals the end of data for the list.
type Fetcher[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Options configures an Executor.
type Options struct {
	// Parallelism bounds the number of chunks in flight. Defaults to 1.
	Parallelism int
	// ChunkTimeout bounds a single chunk attempt. Zero means only the caller's context applies.
	ChunkTimeout time.Duration
	Retry        retry.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Executor owns the worker pool shared by every Run issued through it.
type Executor struct {
	pool         pond.Pool
	parallelism  int
	chunkTimeout time.Duration
	retry        retry.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewExecutor returns an Executor. Close it to release the pool.
func NewExecutor(o Options) *Executor {
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Executor{
		pool:         pond.NewPool(o.Parallelism),
		parallelism:  o.Parallelism,
		chunkTimeout: o.ChunkTimeout,
		retry:        o.Retry,
		logger:       o.Logger,
		metrics:      o.Metrics,
	}
}

// Parallelism reports the configured number of chunks per pass.
func (e *Executor) Parallelism() int { return e.parallelism }

// Close stops the pool after in-flight chunks complete.
func (e *Executor) Close() {
	e.pool.StopAndWait()
}

type span struct {
	start, end int
}

// Run resolves keys in chunks of chunkSize through fetch and returns the merged result.
// Any chunk failing after retries, or cancellation of ctx, fails the whole call and no
// partial result is returned.
func Run[K comparable, V any](ctx context.Context, e *Executor, operation string, keys []K, chunkSize int, fetch Fetcher[K, V]) (map[K]V, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%s: chunk size must be positive, got %d", operation, chunkSize)
	}
	if len(keys) == 0 {
		return map[K]V{}, nil
	}

	merged := xsync.NewMap[K, V]()
	offset := 0
	passes := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}

		spans := make([]span, 0, e.parallelism)
		for i := 0; i < e.parallelism && offset < len(keys); i++ {
			end := min(offset+chunkSize, len(keys))
			spans = append(spans, span{start: offset, end: end})
			offset = end
		}
		passes++

		var short atomic.Bool
		group := e.pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		for _, sp := range spans {
			group.SubmitErr(func() error {
				chunk := keys[sp.start:sp.end]
				got, err := runChunk(groupCtx, e, operation, chunk, fetch)
				if err != nil {
					return &FetchFailedError{
						Operation: operation,
						Offset:    sp.start,
						End:       sp.end,
						FirstKey:  fmt.Sprint(chunk[0]),
						LastKey:   fmt.Sprint(chunk[len(chunk)-1]),
						Err:       err,
					}
				}
				for k, v := range got {
					merged.Store(k, v)
				}
				if len(got) < chunkSize {
					short.Store(true)
				}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", operation, ctxErr)
			}
			return nil, err
		}

		if short.Load() || offset >= len(keys) {
			break
		}
	}

	out := xsync.ToPlainMap(merged)

	e.logger.Debug("batch resolved",
		zap.String("operation", operation),
		zap.Int("keys", len(keys)),
		zap.Int("sent", offset),
		zap.Int("passes", passes),
		zap.Int("results", len(out)))

	return out, nil
}

func runChunk[K comparable, V any](ctx context.Context, e *Executor, operation string, chunk []K, fetch Fetcher[K, V]) (map[K]V, error) {
	var (
		got      map[K]V
		attempts int
	)
	start := time.Now()
	err := retry.WithBackoff(ctx, e.retry, e.logger, operation, func() error {
		attempts++
		attemptCtx := ctx
		if e.chunkTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.chunkTimeout)
			defer cancel()
		}
		res, err := fetch(attemptCtx, chunk)
		if err != nil {
			return err
		}
		got = res
		return nil
	})
	e.metrics.ObserveChunk(operation, time.Since(start), attempts, err)
	if err != nil {
		return nil, err
	}
	return got, nil
}
