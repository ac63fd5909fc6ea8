// Command query serves reconstructed liquidity position histories over HTTP.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/lpreturns/app/query"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := query.Initialize(ctx)
	if err := query.NewServer(app); err != nil {
		app.Logger.Fatal("Unable to build returns API server", zap.Error(err))
	}

	app.Logger.Info("Serving position returns",
		zap.String("addr", app.Server.Addr),
		zap.String("exchangeSubgraph", app.Config.Subgraph.ExchangeURL),
		zap.Bool("redisBlockCache", app.Config.Redis.Enabled()))
	app.Start(ctx)
}
