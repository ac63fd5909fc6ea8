package subgraph

import (
	"testing"

	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pairAddr = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
	userAddr = "0x001B71fad769B3cd47fD4C9849c704FdFaBF6096"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(pairAddr)
	require.NoError(t, err)
	assert.Equal(t, "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc", got)

	for _, bad := range []string{"", "0x123", `0xb4e16d0168e52d35cacd2c6185b44281ec28c9d"`, "pair"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestAlias(t *testing.T) {
	a := alias{kind: aliasPair, ts: 86400}
	assert.Equal(t, "pair_86400", a.String())

	back, err := parseAlias(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, back)

	for _, bad := range []string{"pair", "pair_x", "swap_1"} {
		_, err := parseAlias(bad)
		assert.Error(t, err, bad)
	}
}

func TestBlocksQuery(t *testing.T) {
	q, err := BlocksQuery([]int64{86400, 172800}, 600)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
	s := q.String()
	assert.Contains(t, s, "blocks_86400: blocks(first: 1, orderBy: timestamp, orderDirection: desc")
	assert.Contains(t, s, "timestamp_gt: 86400, timestamp_lte: 87000")
	assert.Contains(t, s, "blocks_172800:")

	_, err = BlocksQuery([]int64{-1}, 600)
	assert.Error(t, err)
	_, err = BlocksQuery([]int64{1}, 0)
	assert.Error(t, err)
}

func TestPairAtBlocksQuery(t *testing.T) {
	q, err := PairAtBlocksQuery(pairAddr, []returns.BlockReference{{Timestamp: 86400, Number: 11}})
	require.NoError(t, err)
	assert.Contains(t, q.String(), `pair_86400: pair(id: "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc", block: { number: 11 })`)

	_, err = PairAtBlocksQuery(`x") { id } evil: pair(id: "`, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSnapshotsQuery(t *testing.T) {
	q, err := SnapshotsQuery(userAddr, 100, 1600000000, 3)
	require.NoError(t, err)
	assert.Contains(t, q.String(), `first: 100, skip: 3,`)
	assert.Contains(t, q.String(), `user: "0x001b71fad769b3cd47fd4c9849c704fdfabf6096", timestamp_gte: 1600000000 }`)

	_, err = SnapshotsQuery(userAddr, 0, 0, 0)
	assert.Error(t, err)
	_, err = SnapshotsQuery(userAddr, 10, -1, 0)
	assert.Error(t, err)
	_, err = SnapshotsQuery(userAddr, 10, 0, -1)
	assert.Error(t, err)
}
