package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stufio-com/eventsched/internal/tier"
)

// Engine owns the four background workers and their lifecycle: New -> Start
// -> Stop, no global state (§9's "process-wide singletons" redesign note).
type Engine struct {
	Generator *CronGenerator
	Promoter  *Promoter
	Dispatcher *Dispatcher
	Janitor   *Janitor

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles everything New needs to build all four workers. Fields are
// plain time.Duration/int so internal/scheduler stays free of an import on
// the config package; cmd/scheduler populates this from config.Config's
// duration-getter methods.
type Config struct {
	CronTick, PromoteTick, DispatchTick, JanitorTick time.Duration

	PromotionHorizon                        time.Duration
	CronBatch, PromoteBatch, DispatchBatch  int

	ClaimTTL, BusPublishTimeout time.Duration
	Backoff                     BackoffConfig
	MaxDelayDefault             time.Duration
	StaleIsFatal                bool

	RetentionC, RetentionAnalytics time.Duration
	JanitorBatch                   int
}

func New(d tier.DStore, c tier.CStore, k tier.KStore, bus tier.Bus, analytics AnalyticsSink, analyticsRetention AnalyticsRetention, logger *slog.Logger, cfg Config) *Engine {
	gen := NewCronGenerator(d, c, analytics, logger, cfg.CronTick, cfg.CronBatch)
	prom := NewPromoter(c, k, analytics, logger, cfg.PromoteTick, cfg.PromotionHorizon, cfg.PromoteBatch)
	disp := NewDispatcher(k, bus, analytics, logger, DispatcherConfig{
		Tick:            cfg.DispatchTick,
		Batch:           cfg.DispatchBatch,
		ClaimTTL:        cfg.ClaimTTL,
		PublishTimeout:  cfg.BusPublishTimeout,
		Backoff:         cfg.Backoff,
		MaxDelayDefault: cfg.MaxDelayDefault,
		StaleIsFatal:    cfg.StaleIsFatal,
	})
	jan := NewJanitor(c, k, d, analyticsRetention, logger, JanitorConfig{
		Tick:               cfg.JanitorTick,
		ClaimTTL:           cfg.ClaimTTL,
		RetentionC:         cfg.RetentionC,
		RetentionAnalytics: cfg.RetentionAnalytics,
		Batch:              cfg.JanitorBatch,
	})

	return &Engine{
		Generator:  gen,
		Promoter:   prom,
		Dispatcher: disp,
		Janitor:    jan,
		logger:     logger.With("component", "engine"),
	}
}

// Start launches all four workers as goroutines under a child context
// derived from ctx; it returns immediately.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	workers := []func(context.Context){
		e.Generator.Start,
		e.Promoter.Start,
		e.Dispatcher.Start,
		e.Janitor.Start,
	}
	for _, start := range workers {
		e.wg.Add(1)
		go func(start func(context.Context)) {
			defer e.wg.Done()
			start(ctx)
		}(start)
	}
	e.logger.Info("engine started")
}

// Stop signals all workers to shut down and blocks until they finish (or the
// passed-in ctx is cancelled first, in which case Stop returns early and
// leaves state recoverable by the Janitor on next boot).
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine stop deadline exceeded, workers may still be draining")
	}
}
