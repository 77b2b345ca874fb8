package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/stufio-com/eventsched/internal/correlation"
	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/metrics"
	"github.com/stufio-com/eventsched/internal/tier"
)

// CronGenerator walks due cron definitions in D and emits one C-tier event
// per due firing (§4.2). Shaped after the teacher's Dispatcher (the fixed-
// tick select-then-advance loop in internal/scheduler/dispatcher.go) —
// renamed here since "Dispatcher" in this spec means something else.
type CronGenerator struct {
	d      tier.DStore
	c      tier.CStore
	sink   AnalyticsSink
	logger *slog.Logger

	tick  time.Duration
	batch int

	// tickCh lets tests force an immediate tick without waiting on the
	// ticker, per §9's "deterministic test hooks: tick_now() entrypoints".
	tickCh chan struct{}
}

func NewCronGenerator(d tier.DStore, c tier.CStore, sink AnalyticsSink, logger *slog.Logger, tick time.Duration, batch int) *CronGenerator {
	return &CronGenerator{
		d:      d,
		c:      c,
		sink:   sink,
		logger: logger.With("component", "cron_generator"),
		tick:   tick,
		batch:  batch,
		tickCh: make(chan struct{}, 1),
	}
}

// TickNow requests an out-of-band tick; non-blocking, coalesces with any
// pending request.
func (g *CronGenerator) TickNow() {
	select {
	case g.tickCh <- struct{}{}:
	default:
	}
}

func (g *CronGenerator) Start(ctx context.Context) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	g.logger.Info("cron generator started", "tick", g.tick, "batch", g.batch)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("cron generator shut down")
			return
		case <-ticker.C:
			g.runTick(ctx)
		case <-g.tickCh:
			g.runTick(ctx)
		}
	}
}

func (g *CronGenerator) runTick(ctx context.Context) {
	now := time.Now().UTC()
	metrics.CronTicksTotal.Inc()
	defer metrics.CronLastTickTimestamp.Set(float64(time.Now().UTC().Unix()))

	defs, err := g.d.FindDue(ctx, now, g.batch)
	if err != nil {
		g.logger.ErrorContext(ctx, "find due cron definitions", "error", err)
		return
	}
	if len(defs) == 0 {
		return
	}

	for _, def := range defs {
		g.fire(ctx, def, now)
	}
}

// fire implements one definition's firing (§4.2, steps 1-5). Failure to
// insert into C leaves bookkeeping untouched so the next tick retries —
// idempotence comes from the (definition-id, fire-time) pair, not from a
// unique constraint this repository enforces.
func (g *CronGenerator) fire(ctx context.Context, def *domain.CronDefinition, now time.Time) {
	fireTime := def.NextFire
	corrID := correlation.New()

	event := &domain.DelayedEvent{
		Topic:         def.EventType,
		EntityType:    def.EventType,
		Action:        def.Action,
		Actor:         def.ActorID,
		Payload:       def.DefaultPayload,
		Headers:       def.Headers,
		ScheduledAt:   fireTime,
		MaxDelaySecs:  86400,
		Status:        domain.EventPending,
		Source:        domain.SourceCron,
		SourceID:      def.ID,
		CorrelationID: corrID,
		MaxRetries:    def.Retry.MaxRetries,
	}

	cID, err := g.c.Insert(ctx, event)
	if err != nil {
		g.logger.ErrorContext(ctx, "insert generated event failed, bookkeeping not advanced",
			"definition_id", def.ID, "fire_time", fireTime, "error", err)
		return
	}
	metrics.EventsGeneratedTotal.Inc()

	next, err := NextFireAfter(def.CronExpr, def.Timezone, now)
	patch := map[string]any{
		"exec_count": def.ExecCount + 1,
		"last_fire":  fireTime,
	}
	outcome := domain.ExecutionSuccess
	var execErr string
	if err != nil {
		g.logger.ErrorContext(ctx, "advance cron definition failed, disabling",
			"definition_id", def.ID, "error", err)
		patch["status"] = domain.CronDisabled
		patch["error_count"] = def.ErrorCount + 1
		patch["last_error"] = err.Error()
		outcome = domain.ExecutionFailure
		execErr = err.Error()
	} else {
		patch["next_fire"] = next
	}

	if err := g.d.UpdateByID(ctx, def.ID, patch); err != nil {
		g.logger.ErrorContext(ctx, "persist cron bookkeeping failed", "definition_id", def.ID, "error", err)
	}

	rec := &domain.ExecutionRecord{
		DefinitionID: def.ID,
		FireTime:     fireTime,
		Outcome:      outcome,
		GeneratedID:  cID,
		Error:        execErr,
	}
	if err := g.d.AppendExecution(ctx, rec); err != nil {
		g.logger.ErrorContext(ctx, "append execution record failed", "definition_id", def.ID, "error", err)
	}

	if err := g.sink.Append(ctx, &domain.AnalyticsRow{
		OriginTier:    domain.TierD,
		ScheduleID:    def.ID,
		EventID:       cID,
		CorrelationID: corrID,
		Topic:         def.EventType,
		Action:        def.Action,
		ScheduledAt:   fireTime,
		Result:        domain.ResultSuccess,
		Level:         domain.LevelInfo,
		CreatedAt:     now,
	}); err != nil {
		g.logger.ErrorContext(ctx, "append analytics row failed", "definition_id", def.ID, "error", err)
	}
}
