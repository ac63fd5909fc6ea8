// Package cache holds BlockCache implementations. Block numbers for a timestamp never
// change once the chain is past it, so entries are never invalidated, only expired.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/canopy-network/lpreturns/pkg/redis"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/puzpuzpuz/xsync/v4"
)

var (
	_ returns.BlockCache = (*Memory)(nil)
	_ returns.BlockCache = (*Redis)(nil)
)

// Memory is a process-local block cache.
type Memory struct {
	blocks *xsync.Map[int64, uint64]
}

func NewMemory() *Memory {
	return &Memory{blocks: xsync.NewMap[int64, uint64]()}
}

func (m *Memory) GetBlocks(_ context.Context, timestamps []int64) (map[int64]uint64, error) {
	out := make(map[int64]uint64, len(timestamps))
	for _, ts := range timestamps {
		if n, ok := m.blocks.Load(ts); ok {
			out[ts] = n
		}
	}
	return out, nil
}

func (m *Memory) PutBlocks(_ context.Context, blocks map[int64]uint64) error {
	for ts, n := range blocks {
		m.blocks.Store(ts, n)
	}
	return nil
}

// Len is the number of cached timestamps.
func (m *Memory) Len() int { return m.blocks.Size() }

const keyPrefix = "lpreturns:block:"

// Redis shares block lookups between processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a cache writing entries with the given expiry; zero keeps them forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func blockKey(ts int64) string {
	return keyPrefix + strconv.FormatInt(ts, 10)
}

func (r *Redis) GetBlocks(ctx context.Context, timestamps []int64) (map[int64]uint64, error) {
	keys := make([]string, len(timestamps))
	for i, ts := range timestamps {
		keys[i] = blockKey(ts)
	}
	found, err := r.client.MGetUint64(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]uint64, len(found))
	for i, ts := range timestamps {
		if n, ok := found[keys[i]]; ok {
			out[ts] = n
		}
	}
	return out, nil
}

func (r *Redis) PutBlocks(ctx context.Context, blocks map[int64]uint64) error {
	entries := make(map[string]uint64, len(blocks))
	for ts, n := range blocks {
		entries[blockKey(ts)] = n
	}
	return r.client.SetUint64(ctx, entries, r.ttl)
}
