package subgraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/ethereum/go-ethereum/common"
)

// aliasKind tags the top level fields of a batched query so answers can be routed back
// to the timestamp they were asked for.
type aliasKind string

const (
	aliasBlocks aliasKind = "blocks"
	aliasPair   aliasKind = "pair"
	aliasBundle aliasKind = "bundle"
)

type alias struct {
	kind aliasKind
	ts   int64
}

func (a alias) String() string {
	return string(a.kind) + "_" + strconv.FormatInt(a.ts, 10)
}

func parseAlias(s string) (alias, error) {
	kind, ts, ok := strings.Cut(s, "_")
	if !ok {
		return alias{}, fmt.Errorf("alias %q has no timestamp", s)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return alias{}, fmt.Errorf("alias %q: %w", s, err)
	}
	switch k := aliasKind(kind); k {
	case aliasBlocks, aliasPair, aliasBundle:
		return alias{kind: k, ts: n}, nil
	default:
		return alias{}, fmt.Errorf("alias %q has unknown kind", s)
	}
}

// NormalizeAddress validates a hex address and returns it in the lowercase form the
// subgraph indexes ids by.
func NormalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidAddress)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// Query assembles one GraphQL document from top level fields.
type Query struct {
	name   string
	fields []string
}

func NewQuery(name string) *Query {
	return &Query{name: name}
}

func (q *Query) field(a string, body string) *Query {
	if a != "" {
		body = a + ": " + body
	}
	q.fields = append(q.fields, body)
	return q
}

// Len is the number of top level fields.
func (q *Query) Len() int { return len(q.fields) }

func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("query ")
	b.WriteString(q.name)
	b.WriteString(" {\n")
	for _, f := range q.fields {
		b.WriteString("  ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

const (
	pairSelection = `{ id createdAtTimestamp reserve0 reserve1 reserveUSD totalSupply ` +
		`token0 { symbol derivedETH } token1 { symbol derivedETH } }`
	bundleSelection   = `{ ethPrice }`
	snapshotSelection = `{ timestamp pair { id } liquidityTokenBalance liquidityTokenTotalSupply ` +
		`reserve0 reserve1 reserveUSD token0PriceUSD token1PriceUSD }`

	bundleID = `"1"`
)

func checkTimestamp(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("negative timestamp %d", ts)
	}
	return nil
}

// BlocksQuery asks, per timestamp, for the latest block in (ts, ts+window].
func BlocksQuery(timestamps []int64, window int64) (*Query, error) {
	if window <= 0 {
		return nil, fmt.Errorf("block window must be positive, got %d", window)
	}
	q := NewQuery("blocks")
	for _, ts := range timestamps {
		if err := checkTimestamp(ts); err != nil {
			return nil, err
		}
		q.field(alias{aliasBlocks, ts}.String(), fmt.Sprintf(
			`blocks(first: 1, orderBy: timestamp, orderDirection: desc, where: { timestamp_gt: %d, timestamp_lte: %d }) { number }`,
			ts, ts+window))
	}
	return q, nil
}

// PairAtBlocksQuery reads pairID at every block.
func PairAtBlocksQuery(pairID string, blocks []returns.BlockReference) (*Query, error) {
	id, err := NormalizeAddress(pairID)
	if err != nil {
		return nil, err
	}
	q := NewQuery("pairAtBlocks")
	for _, b := range blocks {
		if err := checkTimestamp(b.Timestamp); err != nil {
			return nil, err
		}
		q.field(alias{aliasPair, b.Timestamp}.String(),
			fmt.Sprintf(`pair(id: %q, block: { number: %d }) %s`, id, b.Number, pairSelection))
	}
	return q, nil
}

// BundleAtBlocksQuery reads the reference asset price at every block.
func BundleAtBlocksQuery(blocks []returns.BlockReference) (*Query, error) {
	q := NewQuery("bundleAtBlocks")
	for _, b := range blocks {
		if err := checkTimestamp(b.Timestamp); err != nil {
			return nil, err
		}
		q.field(alias{aliasBundle, b.Timestamp}.String(),
			fmt.Sprintf(`bundle(id: %s, block: { number: %d }) %s`, bundleID, b.Number, bundleSelection))
	}
	return q, nil
}

// PairQuery reads the live state of pairID.
func PairQuery(pairID string) (*Query, error) {
	id, err := NormalizeAddress(pairID)
	if err != nil {
		return nil, err
	}
	return NewQuery("pair").field("", fmt.Sprintf(`pair(id: %q) %s`, id, pairSelection)), nil
}

// BundleQuery reads the live reference asset price.
func BundleQuery() *Query {
	return NewQuery("bundle").field("", fmt.Sprintf(`bundle(id: %s) %s`, bundleID, bundleSelection))
}

// SnapshotsQuery reads up to first of user's position snapshots taken at or after since,
// in timestamp order, skipping the first skip of them. Paging moves since forward and
// only skips snapshots already read at since, so skip stays far below the cap hosted
// subgraphs put on it.
func SnapshotsQuery(user string, first int, since int64, skip int) (*Query, error) {
	id, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}
	if first <= 0 || skip < 0 {
		return nil, fmt.Errorf("invalid page first=%d skip=%d", first, skip)
	}
	if err := checkTimestamp(since); err != nil {
		return nil, err
	}
	return NewQuery("snapshots").field("", fmt.Sprintf(
		`liquidityPositionSnapshots(first: %d, skip: %d, orderBy: timestamp, orderDirection: asc, where: { user: %q, timestamp_gte: %d }) %s`,
		first, skip, id, since, snapshotSelection)), nil
}
