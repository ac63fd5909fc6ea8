package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/canopy-network/lpreturns/pkg/logging"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/canopy-network/lpreturns/pkg/stack"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconstructor is the part of returns.Service the reporter drives.
type Reconstructor interface {
	HistoricalReturns(ctx context.Context, user, pairID string, start int64) (returns.Reconstruction, error)
}

// Publisher delivers reports. *redis.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any)
	XAdd(ctx context.Context, stream string, values map[string]any) string
}

// Report is the latest closed day of one watched position.
type Report struct {
	User       string  `json:"user"`
	Pair       string  `json:"pair"`
	Date       int64   `json:"date"`
	USDValue   float64 `json:"usdValue"`
	Fees       float64 `json:"fees"`
	LiveState  bool    `json:"liveState"`
	ComputedAt int64   `json:"computedAt"`
}

type App struct {
	Service Reconstructor
	// Publisher is nil when reports are only logged.
	Publisher Publisher
	Watches   []config.Watch
	Channel   string
	Lookback  int
	CronSpec  string
	Cron      *cron.Cron
	// Latest holds the last report produced per watch.
	Latest *xsync.Map[config.Watch, Report]
	Logger *zap.Logger
	Now    func() time.Time

	stack *stack.Stack
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	watches, err := cfg.Reporter.Watches()
	if err != nil {
		logger.Fatal("Invalid watch list", zap.Error(err))
	}
	if len(watches) == 0 {
		logger.Warn("Watch list is empty, every run will be a no-op")
	}

	s, err := stack.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize reconstruction stack", zap.Error(err))
	}

	app := &App{
		Service:  s.Service,
		Watches:  watches,
		Channel:  cfg.Reporter.Channel,
		Lookback: cfg.Reporter.Lookback,
		CronSpec: cfg.Reporter.Schedule,
		Latest:   xsync.NewMap[config.Watch, Report](),
		Logger:   logger,
		stack:    s,
	}
	if s.Redis != nil {
		app.Publisher = s.Redis
	} else {
		logger.Info("Redis disabled, reports will only be logged")
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		logger.Fatal("Unable to schedule reporter", zap.Error(err), zap.String("cronSpec", app.CronSpec))
	}
	return app
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		if err := a.Run(ctx); err != nil {
			a.Logger.Warn("[reporter] run finished with errors", zap.Error(err))
		}
	})
	return err
}

// Run reconstructs every watched position once and publishes its latest closed day.
// A failing watch does not stop the others.
func (a *App) Run(ctx context.Context) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	start := now().Unix() - int64(a.Lookback)*returns.SecondsPerDay
	if start < 0 {
		start = 0
	}

	var errs []error
	published := 0
	for _, w := range a.Watches {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		logger := a.Logger.With(zap.String("user", w.User), zap.String("pair", w.Pair))

		rec, err := a.Service.HistoricalReturns(ctx, w.User, w.Pair, start)
		if err != nil {
			logger.Error("[reporter] reconstruction failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("%s/%s: %w", w.User, w.Pair, err))
			continue
		}
		if len(rec.Returns) == 0 {
			logger.Debug("[reporter] nothing to report")
			continue
		}

		last := rec.Returns[len(rec.Returns)-1]
		report := Report{
			User:       w.User,
			Pair:       w.Pair,
			Date:       last.Date,
			USDValue:   last.USDValue,
			Fees:       last.Fees,
			LiveState:  len(rec.LiveStateDays) > 0 && rec.LiveStateDays[len(rec.LiveStateDays)-1] == last.Date,
			ComputedAt: now().Unix(),
		}
		if err := a.publish(ctx, report); err != nil {
			errs = append(errs, err)
			continue
		}
		a.Latest.Store(w, report)
		published++
		logger.Info("[reporter] position reported",
			zap.Int64("date", report.Date),
			zap.Float64("usdValue", report.USDValue),
			zap.Float64("fees", report.Fees))
	}

	a.Logger.Info("[reporter] run done", zap.Int("watches", len(a.Watches)), zap.Int("published", published))
	return errors.Join(errs...)
}

func (a *App) publish(ctx context.Context, r Report) error {
	if a.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	a.Publisher.Publish(ctx, a.Channel, string(payload))
	a.Publisher.XAdd(ctx, a.Channel, map[string]any{
		"user":   r.User,
		"pair":   r.Pair,
		"date":   r.Date,
		"report": string(payload),
	})
	return nil
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[reporter] Cron started", zap.String("cronSpec", a.CronSpec), zap.Int("watches", len(a.Watches)))
}

// StopCron waits for a running job and stops the scheduler.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start runs the scheduler until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.StartCron()
	<-ctx.Done()
	a.Logger.Info("[reporter] shutting down…")
	a.StopCron()
	if a.stack != nil {
		if err := a.stack.Close(); err != nil {
			a.Logger.Error("Failed to close stack", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
	a.Logger.Info("さようなら!")
}
