package query

import (
	"context"

	"github.com/canopy-network/lpreturns/app/query/types"
	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/canopy-network/lpreturns/pkg/logging"
	"github.com/canopy-network/lpreturns/pkg/stack"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	s, err := stack.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize reconstruction stack", zap.Error(err))
	}

	return &types.App{
		Config: cfg,
		Stack:  s,
		Logger: logger,
	}
}
