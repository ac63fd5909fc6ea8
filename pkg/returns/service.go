package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/metrics"
	"go.uber.org/zap"
)

// ServiceOpts is the set of options for a new Service.
type ServiceOpts struct {
	Source   PoolDataSource
	Executor *batch.Executor
	// Cache is optional; without it every block lookup hits the block index.
	Cache          BlockCache
	BlockChunkSize int
	PairChunkSize  int
	BlockWindow    int64
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service reconstructs the daily history of liquidity positions.
type Service struct {
	source  PoolDataSource
	blocks  *BlockResolver
	shares  *ShareValueFetcher
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(o ServiceOpts) *Service {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{
		source: o.Source,
		blocks: NewBlockResolver(BlockResolverOpts{
			Source:    o.Source,
			Executor:  o.Executor,
			Cache:     o.Cache,
			ChunkSize: o.BlockChunkSize,
			Window:    o.BlockWindow,
			Logger:    o.Logger.Named("blocks"),
			Metrics:   o.Metrics,
		}),
		shares: NewShareValueFetcher(ShareValueFetcherOpts{
			Source:    o.Source,
			Executor:  o.Executor,
			ChunkSize: o.PairChunkSize,
			Logger:    o.Logger.Named("shares"),
		}),
		logger:  o.Logger,
		metrics: o.Metrics,
		now:     o.Now,
	}
}

// HistoricalReturns rebuilds the daily value and cumulative fees of user's position in
// pairID from start onwards. A pair that has not been indexed yet, or a user who never
// held it, yields an empty reconstruction.
func (s *Service) HistoricalReturns(ctx context.Context, user, pairID string, start int64) (Reconstruction, error) {
	begin := s.now()
	rec, err := s.historicalReturns(ctx, user, pairID, start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveReconstruction(status, len(rec.Returns), len(rec.LiveStateDays), time.Since(begin))
	return rec, err
}

func (s *Service) historicalReturns(ctx context.Context, user, pairID string, start int64) (Reconstruction, error) {
	logger := s.logger.With(zap.String("user", user), zap.String("pair", pairID))

	snapshots, err := s.pairSnapshots(ctx, user, pairID)
	if err != nil {
		return Reconstruction{}, err
	}
	if len(snapshots) == 0 {
		logger.Debug("no snapshots for pair")
		return Reconstruction{}, nil
	}

	pair, err := s.source.PairState(ctx, pairID)
	if err != nil {
		return Reconstruction{}, fmt.Errorf("fetch pair %s: %w", pairID, err)
	}
	if pair.CreatedAtTimestamp == 0 {
		logger.Info("pair has no creation time yet, nothing to reconstruct")
		return Reconstruction{}, nil
	}

	refPrice, err := s.source.ReferencePrice(ctx)
	if err != nil {
		return Reconstruction{}, fmt.Errorf("fetch reference price: %w", err)
	}

	buckets := DayTimestamps(start, pair.CreatedAtTimestamp, s.now().Unix(), snapshots)
	if len(buckets) == 0 {
		return Reconstruction{}, nil
	}

	// each day closes on the next day's start
	closes := make([]int64, len(buckets))
	for i, b := range buckets {
		closes[i] = b + SecondsPerDay
	}

	blocks, err := s.blocks.Resolve(ctx, closes)
	if err != nil {
		return Reconstruction{}, err
	}
	samples, err := s.shares.Fetch(ctx, pairID, blocks)
	if err != nil {
		return Reconstruction{}, err
	}
	byTimestamp := make(map[int64]ShareValueSample, len(samples))
	for _, sample := range samples {
		byTimestamp[sample.Timestamp] = sample
	}

	rec, err := Aggregate(AggregateInput{
		Buckets:               buckets,
		Snapshots:             snapshots,
		Samples:               byTimestamp,
		CurrentPair:           pair,
		CurrentReferencePrice: refPrice,
	})
	if err != nil {
		return Reconstruction{}, fmt.Errorf("aggregate %s for %s: %w", pairID, user, err)
	}

	logger.Info("reconstructed position history",
		zap.Int("days", len(rec.Returns)),
		zap.Int("snapshots", len(snapshots)),
		zap.Int("samples", len(samples)),
		zap.Int("liveStateDays", len(rec.LiveStateDays)))
	if len(rec.LiveStateDays) > 1 {
		logger.Warn("several days closed on live pair state; history is approximate",
			zap.Int64s("days", rec.LiveStateDays))
	}
	return rec, nil
}

func (s *Service) pairSnapshots(ctx context.Context, user, pairID string) ([]PositionSnapshot, error) {
	all, err := s.source.UserPositionSnapshots(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots of %s: %w", user, err)
	}
	out := make([]PositionSnapshot, 0, len(all))
	for _, snap := range all {
		if strings.EqualFold(snap.PairID, pairID) {
			out = append(out, snap)
		}
	}
	return out, nil
}
