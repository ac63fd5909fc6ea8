package returns

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/metrics"
	"go.uber.org/zap"
)

// BlockResolverOpts configures a BlockResolver.
type BlockResolverOpts struct {
	Source    BlockSource
	Executor  *batch.Executor
	Cache     BlockCache // optional
	ChunkSize int
	Window    int64
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// BlockResolver maps calendar timestamps to the first block at or shortly after them.
type BlockResolver struct {
	source    BlockSource
	executor  *batch.Executor
	cache     BlockCache
	chunkSize int
	window    int64
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewBlockResolver(o BlockResolverOpts) *BlockResolver {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultBlockChunkSize
	}
	if o.Window <= 0 {
		o.Window = DefaultBlockWindow
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &BlockResolver{
		source:    o.Source,
		executor:  o.Executor,
		cache:     o.Cache,
		chunkSize: o.ChunkSize,
		window:    o.Window,
		logger:    o.Logger,
		metrics:   o.Metrics,
	}
}

// Resolve returns one BlockReference per resolvable timestamp, ascending by timestamp.
// Timestamps without a block inside the window are left out.
func (r *BlockResolver) Resolve(ctx context.Context, timestamps []int64) ([]BlockReference, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	pending := slices.Clone(timestamps)
	slices.Sort(pending)
	pending = slices.Compact(pending)
	requested := len(pending)

	resolved := make(map[int64]uint64, len(pending))
	if r.cache != nil {
		cached, err := r.cache.GetBlocks(ctx, pending)
		if err != nil {
			r.logger.Warn("block cache read failed, querying block index", zap.Error(err))
		} else {
			for ts, n := range cached {
				resolved[ts] = n
			}
			pending = slices.DeleteFunc(pending, func(ts int64) bool {
				_, ok := cached[ts]
				return ok
			})
		}
		r.metrics.ObserveBlockCache(len(resolved), len(pending))
	}

	if len(pending) > 0 {
		found, err := batch.Run(ctx, r.executor, "blocks", pending, r.chunkSize,
			func(ctx context.Context, chunk []int64) (map[int64][]uint64, error) {
				return r.source.BlocksNearTimestamps(ctx, chunk, r.window)
			})
		if err != nil {
			return nil, fmt.Errorf("resolve blocks: %w", err)
		}

		fresh := make(map[int64]uint64, len(found))
		for ts, numbers := range found {
			if len(numbers) == 0 {
				continue
			}
			fresh[ts] = numbers[0]
			resolved[ts] = numbers[0]
		}

		if r.cache != nil && len(fresh) > 0 {
			if err := r.cache.PutBlocks(ctx, fresh); err != nil {
				r.logger.Warn("block cache write failed", zap.Error(err))
			}
		}
	}

	out := make([]BlockReference, 0, len(resolved))
	for ts, n := range resolved {
		out = append(out, BlockReference{Timestamp: ts, Number: n})
	}
	slices.SortFunc(out, func(a, b BlockReference) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	if len(out) < requested {
		r.logger.Debug("timestamps without a block in window",
			zap.Int("requested", requested),
			zap.Int("resolved", len(out)),
			zap.Int64("window", r.window))
	}
	return out, nil
}
