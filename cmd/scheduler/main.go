// scheduler is the main process: it owns the four background workers (§1
// of SPEC_FULL.md), the Scheduling API used by the Kafka intake consumer,
// and the internal health/metrics/stats HTTP surface.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stufio-com/eventsched/config"
	"github.com/stufio-com/eventsched/internal/api"
	"github.com/stufio-com/eventsched/internal/health"
	"github.com/stufio-com/eventsched/internal/httpserver"
	"github.com/stufio-com/eventsched/internal/infrastructure/kafkabus"
	"github.com/stufio-com/eventsched/internal/infrastructure/postgres"
	"github.com/stufio-com/eventsched/internal/infrastructure/redisstore"
	"github.com/stufio-com/eventsched/internal/intake"
	ctxlog "github.com/stufio-com/eventsched/internal/log"
	"github.com/stufio-com/eventsched/internal/metrics"
	"github.com/stufio-com/eventsched/internal/observability"
	"github.com/stufio-com/eventsched/internal/registry"
	"github.com/stufio-com/eventsched/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	shutdownTracer, err := observability.InitTracer(ctx, "eventsched-scheduler", cfg.OTelExporterEndpoint)
	if err != nil {
		stop()
		log.Fatalf("tracer: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	d := postgres.NewDocumentRepository(pool)
	c := postgres.NewColumnarRepository(pool)
	analyticsRepo := postgres.NewAnalyticsRepository(pool)

	if manifest, err := registry.Load(cfg.RegistryManifestPath); err != nil {
		logger.Error("load registry manifest", "path", cfg.RegistryManifestPath, "error", err)
	} else {
		result := registry.NewSyncer(d, logger).Sync(ctx, manifest)
		logger.Info("registry synced", "created", result.Created, "updated", result.Updated, "skipped", len(result.Skipped))
	}

	k := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer k.Close()

	bus := kafkabus.New(kafkabus.Config{
		Brokers:        cfg.KafkaBrokers,
		PublishTimeout: cfg.BusPublishTimeout(),
	})
	defer bus.Close()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(metrics.NewGaugeCollector(c, k, logger))

	checker := health.NewChecker(d, c, k, bus, logger, reg)

	engine := scheduler.New(d, c, k, bus, analyticsRepo, analyticsRepo, logger, scheduler.Config{
		CronTick:           cfg.CronTick(),
		PromoteTick:        cfg.PromoteTick(),
		DispatchTick:       cfg.DispatchTick(),
		JanitorTick:        cfg.JanitorTick(),
		PromotionHorizon:   cfg.PromotionHorizon(),
		CronBatch:          cfg.CronBatch,
		PromoteBatch:       cfg.PromoteBatch,
		DispatchBatch:      cfg.DispatchBatch,
		ClaimTTL:           cfg.ClaimTTL(),
		BusPublishTimeout:  cfg.BusPublishTimeout(),
		Backoff: scheduler.BackoffConfig{
			BaseMS:     cfg.RetryBaseMS,
			Multiplier: cfg.RetryMultiplier,
			MaxMS:      cfg.RetryMaxMS,
			Jitter:     cfg.RetryJitter,
		},
		MaxDelayDefault:    time.Duration(cfg.MaxDelayDefaultSeconds) * time.Second,
		StaleIsFatal:       cfg.StaleIsFatal,
		RetentionC:         cfg.RetentionC(),
		RetentionAnalytics: cfg.RetentionAnalytics(),
		JanitorBatch:       cfg.JanitorBatch,
	})
	engine.Start(ctx)

	schedulingAPI := api.NewEngine(d, c, k, logger,
		cfg.PromotionHorizon(), cfg.ScheduleSkew(), time.Duration(cfg.MaxDelayDefaultSeconds)*time.Second)

	intakeConsumer := intake.New(intake.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   "eventsched.intake",
		GroupID: "eventsched-scheduler",
	}, scheduleFromIntake(schedulingAPI), logger)
	go func() {
		if err := intakeConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("intake consumer stopped", "error", err)
		}
	}()
	defer intakeConsumer.Close()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: httpserver.New(checker, reg, analyticsRepo, logger),
	}
	go func() {
		logger.Info("internal http server started", "port", cfg.MetricsPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("internal http server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine.Stop(shutdownCtx)

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("internal http server shutdown", "error", err)
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

// scheduleFromIntake adapts the Kafka intake consumer's narrow
// ScheduleFunc to the Scheduling API's ScheduleEvent, the same way it
// would be driven by a future HTTP admin route.
func scheduleFromIntake(eng *api.Engine) intake.ScheduleFunc {
	return func(ctx context.Context, req intake.ScheduleRequest) error {
		_, err := eng.ScheduleEvent(ctx, api.ScheduleEventInput{
			Topic:         req.Topic,
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			Action:        req.Action,
			Actor:         req.Actor,
			Payload:       req.Payload,
			Headers:       req.Headers,
			ScheduledAt:   req.ScheduledAt,
			Priority:      req.Priority,
			MaxDelaySecs:  req.MaxDelaySecs,
			CorrelationID: req.CorrelationID,
		})
		return err
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
