// Package subgraph reads liquidity positions, pool state and the block index from
// GraphQL subgraphs of a constant product exchange.
package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/lpreturns/pkg/metrics"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"go.uber.org/zap"
)

var _ returns.PoolDataSource = (*Client)(nil)

// Opts is the set of options for a new Client.
type Opts struct {
	ExchangeURL     string
	BlocksURL       string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	// PageSize bounds the snapshots read per request. Defaults to 1000.
	PageSize   int
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Client is a returns.PoolDataSource backed by an exchange subgraph and a block subgraph.
type Client struct {
	exchange *endpoint
	blocks   *endpoint
	pageSize int
	logger   *zap.Logger
}

func New(o Opts) (*Client, error) {
	if o.ExchangeURL == "" || o.BlocksURL == "" {
		return nil, errors.New("subgraph: exchange and blocks urls are required")
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	ep := func(name, url string) *endpoint {
		return newEndpoint(endpointOpts{
			Name:            name,
			URL:             url,
			RPS:             o.RPS,
			Burst:           o.Burst,
			BreakerFailures: o.BreakerFailures,
			BreakerCooldown: o.BreakerCooldown,
			HTTPClient:      client,
			Logger:          o.Logger,
			Metrics:         o.Metrics,
		})
	}
	return &Client{
		exchange: ep("exchange", o.ExchangeURL),
		blocks:   ep("blocks", o.BlocksURL),
		pageSize: o.PageSize,
		logger:   o.Logger,
	}, nil
}

// UserPositionSnapshots reads every snapshot of user, oldest first.
//
// Pages are keyed on the last timestamp read. The next page starts at that timestamp
// and skips the snapshots already read there, so ties across a page boundary survive.
func (c *Client) UserPositionSnapshots(ctx context.Context, user string) ([]returns.PositionSnapshot, error) {
	var (
		out   []returns.PositionSnapshot
		since int64
		ties  int
	)
	for {
		q, err := SnapshotsQuery(user, c.pageSize, since, ties)
		if err != nil {
			return nil, err
		}
		data, err := c.exchange.do(ctx, q.String())
		if err != nil {
			return nil, fmt.Errorf("snapshots of %s: %w", user, err)
		}
		var page []snapshotResponse
		if _, err := decode("liquidityPositionSnapshots", data["liquidityPositionSnapshots"], &page); err != nil {
			return nil, err
		}

		for _, s := range page {
			snap := s.snapshot()
			if snap.Timestamp < since {
				return nil, &ParseError{Field: "liquidityPositionSnapshots",
					Err: fmt.Errorf("timestamp %d out of order after %d", snap.Timestamp, since)}
			}
			if snap.Timestamp == since {
				ties++
			} else {
				since, ties = snap.Timestamp, 1
			}
			out = append(out, snap)
		}
		if len(page) < c.pageSize {
			break
		}
	}
	c.logger.Debug("read position snapshots", zap.String("user", user), zap.Int("count", len(out)))
	return out, nil
}

// PairState reads the live state of pairID. An unknown pair yields the zero PairState.
func (c *Client) PairState(ctx context.Context, pairID string) (returns.PairState, error) {
	q, err := PairQuery(pairID)
	if err != nil {
		return returns.PairState{}, err
	}
	data, err := c.exchange.do(ctx, q.String())
	if err != nil {
		return returns.PairState{}, fmt.Errorf("pair %s: %w", pairID, err)
	}
	var p pairResponse
	ok, err := decode("pair", data["pair"], &p)
	if err != nil || !ok {
		return returns.PairState{}, err
	}
	return p.state(), nil
}

// ReferencePrice reads the live USD price of the reference asset.
func (c *Client) ReferencePrice(ctx context.Context) (float64, error) {
	data, err := c.exchange.do(ctx, BundleQuery().String())
	if err != nil {
		return 0, fmt.Errorf("bundle: %w", err)
	}
	var b bundleResponse
	ok, err := decode("bundle", data["bundle"], &b)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &ParseError{Field: "bundle", Err: errors.New("missing")}
	}
	return b.ETHPrice.InexactFloat64(), nil
}

// BlocksNearTimestamps returns an entry for every timestamp, empty when the block
// index has nothing inside the window.
func (c *Client) BlocksNearTimestamps(ctx context.Context, timestamps []int64, window int64) (map[int64][]uint64, error) {
	q, err := BlocksQuery(timestamps, window)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	data, err := c.blocks.do(ctx, q.String())
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]uint64, len(timestamps))
	for _, ts := range timestamps {
		out[ts] = []uint64{}
	}
	err = eachAlias(data, aliasBlocks, func(a alias, raw json.RawMessage) error {
		var blocks []blockResponse
		if _, err := decode(a.String(), raw, &blocks); err != nil {
			return err
		}
		numbers := make([]uint64, 0, len(blocks))
		for _, b := range blocks {
			if b.Number.IsNegative() {
				return &ParseError{Field: a.String(), Err: fmt.Errorf("negative block number %s", b.Number)}
			}
			numbers = append(numbers, b.Number.BigInt().Uint64())
		}
		out[a.ts] = numbers
		return nil
	})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return out, nil
}

// PairStatesAtBlocks returns an entry for every block, nil where the pair did not exist.
func (c *Client) PairStatesAtBlocks(ctx context.Context, pairID string, blocks []returns.BlockReference) (map[int64]*returns.PairState, error) {
	q, err := PairAtBlocksQuery(pairID, blocks)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	data, err := c.exchange.do(ctx, q.String())
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*returns.PairState, len(blocks))
	for _, b := range blocks {
		out[b.Timestamp] = nil
	}
	err = eachAlias(data, aliasPair, func(a alias, raw json.RawMessage) error {
		var p pairResponse
		ok, err := decode(a.String(), raw, &p)
		if err != nil || !ok {
			return err
		}
		state := p.state()
		out[a.ts] = &state
		return nil
	})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return out, nil
}

// ReferencePricesAtBlocks returns an entry for every block, nil where the bundle is missing.
func (c *Client) ReferencePricesAtBlocks(ctx context.Context, blocks []returns.BlockReference) (map[int64]*float64, error) {
	q, err := BundleAtBlocksQuery(blocks)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	data, err := c.exchange.do(ctx, q.String())
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*float64, len(blocks))
	for _, b := range blocks {
		out[b.Timestamp] = nil
	}
	err = eachAlias(data, aliasBundle, func(a alias, raw json.RawMessage) error {
		var b bundleResponse
		ok, err := decode(a.String(), raw, &b)
		if err != nil || !ok {
			return err
		}
		price := b.ETHPrice.InexactFloat64()
		out[a.ts] = &price
		return nil
	})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return out, nil
}

// eachAlias calls fn for every field of data tagged with kind.
func eachAlias(data map[string]json.RawMessage, kind aliasKind, fn func(alias, json.RawMessage) error) error {
	for key, raw := range data {
		a, err := parseAlias(key)
		if err != nil {
			return &ParseError{Field: key, Err: err}
		}
		if a.kind != kind {
			continue
		}
		if err := fn(a, raw); err != nil {
			return err
		}
	}
	return nil
}
