// Command reporter recomputes the watched positions every day and publishes the last
// closed day of each to Redis.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/lpreturns/app/reporter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := reporter.Initialize(ctx)

	// publish once on boot so subscribers do not wait for the first cron tick
	if err := app.Run(ctx); err != nil {
		app.Logger.Warn("Initial report pass incomplete", zap.Error(err))
	}
	app.Start(ctx)
}
