package returns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"go.uber.org/zap/zaptest"
)

const day = SecondsPerDay

// fakeSource is an in-memory PoolDataSource keyed by block number.
type fakeSource struct {
	mu sync.Mutex

	snapshots []PositionSnapshot
	pairs     map[string]PairState
	refPrice  float64

	blocks map[int64]uint64      // timestamp -> block
	states map[uint64]*PairState // block -> pair state
	prices map[uint64]float64    // block -> reference price

	blockRequests [][]int64
	stateCalls    int
	priceCalls    int
	failBlocks    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pairs:  map[string]PairState{},
		blocks: map[int64]uint64{},
		states: map[uint64]*PairState{},
		prices: map[uint64]float64{},
	}
}

func (f *fakeSource) UserPositionSnapshots(context.Context, string) ([]PositionSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeSource) PairState(_ context.Context, pairID string) (PairState, error) {
	return f.pairs[pairID], nil
}

func (f *fakeSource) ReferencePrice(context.Context) (float64, error) {
	return f.refPrice, nil
}

func (f *fakeSource) BlocksNearTimestamps(_ context.Context, timestamps []int64, _ int64) (map[int64][]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockRequests = append(f.blockRequests, append([]int64(nil), timestamps...))
	if f.failBlocks != nil {
		return nil, f.failBlocks
	}
	out := make(map[int64][]uint64, len(timestamps))
	for _, ts := range timestamps {
		if n, ok := f.blocks[ts]; ok {
			out[ts] = []uint64{n}
		} else {
			out[ts] = []uint64{}
		}
	}
	return out, nil
}

func (f *fakeSource) PairStatesAtBlocks(_ context.Context, _ string, blocks []BlockReference) (map[int64]*PairState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	out := make(map[int64]*PairState, len(blocks))
	for _, b := range blocks {
		out[b.Timestamp] = f.states[b.Number]
	}
	return out, nil
}

func (f *fakeSource) ReferencePricesAtBlocks(_ context.Context, blocks []BlockReference) (map[int64]*float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	out := make(map[int64]*float64, len(blocks))
	for _, b := range blocks {
		out[b.Timestamp] = nil
		if p, ok := f.prices[b.Number]; ok {
			out[b.Timestamp] = &p
		}
	}
	return out, nil
}

// memoryCache is a trivial BlockCache.
type memoryCache struct {
	entries map[int64]uint64
	puts    int
}

func (m *memoryCache) GetBlocks(_ context.Context, timestamps []int64) (map[int64]uint64, error) {
	out := map[int64]uint64{}
	for _, ts := range timestamps {
		if n, ok := m.entries[ts]; ok {
			out[ts] = n
		}
	}
	return out, nil
}

func (m *memoryCache) PutBlocks(_ context.Context, blocks map[int64]uint64) error {
	m.puts++
	for ts, n := range blocks {
		m.entries[ts] = n
	}
	return nil
}

func newExecutor(t *testing.T) *batch.Executor {
	t.Helper()
	e := batch.NewExecutor(batch.Options{
		Retry:  retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(e.Close)
	return e
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0).UTC() }
}
