// Package stack builds the reconstruction service and its collaborators from config.
package stack

import (
	"context"
	"errors"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/cache"
	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/canopy-network/lpreturns/pkg/metrics"
	"github.com/canopy-network/lpreturns/pkg/redis"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/canopy-network/lpreturns/pkg/subgraph"
	"go.uber.org/zap"
)

// Stack owns everything a process needs to reconstruct positions.
type Stack struct {
	Metrics  *metrics.Metrics
	Source   *subgraph.Client
	Executor *batch.Executor
	Cache    returns.BlockCache
	// Redis is nil when no server is configured.
	Redis   *redis.Client
	Service *returns.Service
}

// New wires a Stack. A configured but unreachable Redis is an error; without one the
// block cache lives in memory.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stack, error) {
	m := metrics.New()

	source, err := subgraph.New(subgraph.Opts{
		ExchangeURL:     cfg.Subgraph.ExchangeURL,
		BlocksURL:       cfg.Subgraph.BlocksURL,
		Timeout:         cfg.Subgraph.Timeout,
		RPS:             cfg.Subgraph.RPS,
		Burst:           cfg.Subgraph.Burst,
		BreakerFailures: cfg.Subgraph.BreakerFailures,
		BreakerCooldown: cfg.Subgraph.BreakerCooldown,
		PageSize:        cfg.Subgraph.PageSize,
		Logger:          logger.Named("subgraph"),
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}

	s := &Stack{Metrics: m, Source: source}

	if cfg.Redis.Enabled() {
		s.Redis, err = redis.NewClient(ctx, cfg.Redis, logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		s.Cache = cache.NewRedis(s.Redis, cfg.Redis.BlockTTL)
	} else {
		logger.Info("Redis disabled, caching blocks in memory")
		s.Cache = cache.NewMemory()
	}

	s.Executor = batch.NewExecutor(batch.Options{
		Parallelism:  cfg.Batch.Parallelism,
		ChunkTimeout: cfg.Batch.ChunkTimeout,
		Retry: retry.Config{
			MaxAttempts:   cfg.Batch.MaxAttempts,
			InitialDelay:  cfg.Batch.InitialDelay,
			MaxDelay:      cfg.Batch.MaxDelay,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
		Logger:  logger.Named("batch"),
		Metrics: m,
	})

	s.Service = returns.NewService(returns.ServiceOpts{
		Source:         source,
		Executor:       s.Executor,
		Cache:          s.Cache,
		BlockChunkSize: cfg.Batch.BlockChunkSize,
		PairChunkSize:  cfg.Batch.PairChunkSize,
		BlockWindow:    cfg.Batch.BlockWindow,
		Logger:         logger.Named("returns"),
		Metrics:        m,
	})
	return s, nil
}

// Close stops the worker pool and disconnects from Redis.
func (s *Stack) Close() error {
	var errs []error
	if s.Executor != nil {
		s.Executor.Close()
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}
