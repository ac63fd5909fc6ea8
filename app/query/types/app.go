package types

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/canopy-network/lpreturns/pkg/stack"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config
	Stack  *stack.Stack
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start serves until ctx is done, then shuts the server down and releases the stack.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	timeout := 10 * time.Second
	if a.Config != nil && a.Config.Query.ShutdownTimeout > 0 {
		timeout = a.Config.Query.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Failed to shut down server", zap.Error(err))
	}
	if err := a.Stack.Close(); err != nil {
		a.Logger.Error("Failed to close stack", zap.Error(err))
	}
	_ = a.Logger.Sync()
	a.Logger.Info("さようなら!")
}
