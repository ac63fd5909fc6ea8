package returns

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/pairmath"
	"go.uber.org/zap"
)

// ShareValueFetcherOpts configures a ShareValueFetcher.
type ShareValueFetcherOpts struct {
	Source    HistoricalStateSource
	Executor  *batch.Executor
	ChunkSize int
	Logger    *zap.Logger
}

// ShareValueFetcher reads pool state at resolved blocks and values one liquidity token there.
type ShareValueFetcher struct {
	source    HistoricalStateSource
	executor  *batch.Executor
	chunkSize int
	logger    *zap.Logger
}

func NewShareValueFetcher(o ShareValueFetcherOpts) *ShareValueFetcher {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultPairChunkSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &ShareValueFetcher{
		source:    o.Source,
		executor:  o.Executor,
		chunkSize: o.ChunkSize,
		logger:    o.Logger,
	}
}

// Fetch returns one sample per block at which the pair existed, ascending by timestamp.
// Token USD prices stay zero for blocks without a reference price.
func (f *ShareValueFetcher) Fetch(ctx context.Context, pairID string, blocks []BlockReference) ([]ShareValueSample, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	ordered := slices.Clone(blocks)
	slices.SortFunc(ordered, func(a, b BlockReference) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	byTimestamp := make(map[int64]BlockReference, len(ordered))
	keys := make([]int64, 0, len(ordered))
	for _, b := range ordered {
		if _, dup := byTimestamp[b.Timestamp]; dup {
			continue
		}
		byTimestamp[b.Timestamp] = b
		keys = append(keys, b.Timestamp)
	}
	refs := func(chunk []int64) []BlockReference {
		out := make([]BlockReference, len(chunk))
		for i, ts := range chunk {
			out[i] = byTimestamp[ts]
		}
		return out
	}

	states, err := batch.Run(ctx, f.executor, "pair_states", keys, f.chunkSize,
		func(ctx context.Context, chunk []int64) (map[int64]*PairState, error) {
			return f.source.PairStatesAtBlocks(ctx, pairID, refs(chunk))
		})
	if err != nil {
		return nil, fmt.Errorf("fetch pair states for %s: %w", pairID, err)
	}

	prices, err := batch.Run(ctx, f.executor, "reference_prices", keys, f.chunkSize,
		func(ctx context.Context, chunk []int64) (map[int64]*float64, error) {
			return f.source.ReferencePricesAtBlocks(ctx, refs(chunk))
		})
	if err != nil {
		return nil, fmt.Errorf("fetch reference prices: %w", err)
	}

	samples := make([]ShareValueSample, 0, len(keys))
	for _, ts := range keys {
		state := states[ts]
		if state == nil {
			f.logger.Debug("pair absent at block", zap.String("pair", pairID), zap.Int64("timestamp", ts))
			continue
		}

		share, err := pairmath.ShareValue(state.ReserveUSD, state.TotalSupply)
		if err != nil {
			return nil, fmt.Errorf("share value of %s at %d: %w", pairID, ts, err)
		}

		roi := 1.0
		if len(samples) > 0 {
			first := samples[0].SharePriceUSD
			if first == 0 {
				return nil, fmt.Errorf("roi of %s at %d against zero first share price: %w", pairID, ts, pairmath.ErrDivisionByZero)
			}
			roi = share / first
		}

		sample := ShareValueSample{
			Timestamp:     ts,
			Block:         byTimestamp[ts].Number,
			SharePriceUSD: share,
			TotalSupply:   state.TotalSupply,
			Reserve0:      state.Reserve0,
			Reserve1:      state.Reserve1,
			ReserveUSD:    state.ReserveUSD,
			ROIUSD:        roi,
		}
		if ref := prices[ts]; ref != nil {
			sample.ReferencePriceUSD = *ref
			sample.Token0PriceUSD = *ref * state.Token0DerivedReference
			sample.Token1PriceUSD = *ref * state.Token1DerivedReference
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
