package returns

import "context"

// PoolDataSource is everything the reconstruction reads from the outside world.
type PoolDataSource interface {
	// UserPositionSnapshots returns every balance-change snapshot of user, across pairs.
	UserPositionSnapshots(ctx context.Context, user string) ([]PositionSnapshot, error)
	// PairState returns the live state of a pair.
	PairState(ctx context.Context, pairID string) (PairState, error)
	// ReferencePrice returns the live USD price of the native reference asset.
	ReferencePrice(ctx context.Context) (float64, error)
	BlockSource
	HistoricalStateSource
}

// BlockSource resolves calendar timestamps to blocks.
type BlockSource interface {
	// BlocksNearTimestamps returns, for every requested timestamp, the blocks whose time lies in
	// (t, t+window], latest first. A timestamp without such a block maps to an empty list.
	BlocksNearTimestamps(ctx context.Context, timestamps []int64, window int64) (map[int64][]uint64, error)
}

// HistoricalStateSource reads pool state at past blocks. Results are keyed by the
// BlockReference timestamp.
type HistoricalStateSource interface {
	// PairStatesAtBlocks maps each block to the pair state there, nil if the pair did not exist yet.
	PairStatesAtBlocks(ctx context.Context, pairID string, blocks []BlockReference) (map[int64]*PairState, error)
	// ReferencePricesAtBlocks maps every block to the reference asset's USD price there,
	// nil where the price is unknown.
	ReferencePricesAtBlocks(ctx context.Context, blocks []BlockReference) (map[int64]*float64, error)
}

// BlockCache remembers resolved blocks. Block times never change, so entries do not expire.
type BlockCache interface {
	GetBlocks(ctx context.Context, timestamps []int64) (map[int64]uint64, error)
	PutBlocks(ctx context.Context, blocks map[int64]uint64) error
}
