package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/metrics"
	"github.com/stufio-com/eventsched/internal/tier"
)

var tracer = otel.Tracer("eventsched-dispatcher")

// Dispatcher pops due events from K, claims each under a short TTL lock,
// publishes to the bus, and acknowledges (§4.4).
type Dispatcher struct {
	k    tier.KStore
	bus  tier.Bus
	sink AnalyticsSink

	logger *slog.Logger
	id     string

	tick           time.Duration
	batch          int
	claimTTL       time.Duration
	publishTimeout time.Duration
	backoff        BackoffConfig
	maxDelayDefault time.Duration
	staleIsFatal   bool

	tickCh chan struct{}
}

type DispatcherConfig struct {
	Tick            time.Duration
	Batch           int
	ClaimTTL        time.Duration
	PublishTimeout  time.Duration
	Backoff         BackoffConfig
	MaxDelayDefault time.Duration
	StaleIsFatal    bool
}

func NewDispatcher(k tier.KStore, bus tier.Bus, sink AnalyticsSink, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	hostname, _ := os.Hostname()
	return &Dispatcher{
		k:               k,
		bus:             bus,
		sink:            sink,
		logger:          logger.With("component", "dispatcher"),
		id:              fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		tick:            cfg.Tick,
		batch:           cfg.Batch,
		claimTTL:        cfg.ClaimTTL,
		publishTimeout:  cfg.PublishTimeout,
		backoff:         cfg.Backoff,
		maxDelayDefault: cfg.MaxDelayDefault,
		staleIsFatal:    cfg.StaleIsFatal,
		tickCh:          make(chan struct{}, 1),
	}
}

func (d *Dispatcher) TickNow() {
	select {
	case d.tickCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "id", d.id, "tick", d.tick, "batch", d.batch)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
			d.runTick(ctx)
		case <-d.tickCh:
			d.runTick(ctx)
		}
	}
}

// runTick implements §4.4 step 1 plus the ordering guarantee: within this
// replica, candidates are processed in score order, one at a time, so a
// tick never holds more than one claim lock concurrently with an unrelated
// blocking call.
func (d *Dispatcher) runTick(ctx context.Context) {
	now := float64(time.Now().UTC().Unix())

	ids, err := d.k.IndexRangeByScore(ctx, math.Inf(-1), now, d.batch)
	if err != nil {
		d.logger.ErrorContext(ctx, "index range scan failed", "error", err)
		return
	}

	for _, id := range ids {
		d.dispatchOne(ctx, id)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, id string) {
	ctx, span := tracer.Start(ctx, "dispatcher.claim_and_publish", trace.WithAttributes(
		attribute.String("event.id", id),
		attribute.String("dispatcher.id", d.id),
	))
	defer span.End()

	token, ok, err := d.k.TryLock(ctx, id, d.claimTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "try_lock_failed")
		d.logger.ErrorContext(ctx, "try lock failed", "id", id, "error", err)
		return
	}
	if !ok {
		// Another replica holds it — not an error, just skip this tick.
		return
	}
	metrics.ClaimLockHeld.Inc()
	defer metrics.ClaimLockHeld.Dec()
	defer d.k.Unlock(ctx, id, token)

	var claimed *domain.HotEvent
	reserved, err := d.k.CASValueStatus(ctx, id, domain.EventPending, domain.EventProcessing, func(h *domain.HotEvent) {
		now := time.Now().UTC()
		h.ProcessorID = d.id
		h.ClaimedAt = &now
		h.StartedProcessingAt = &now
		claimed = h
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim_cas_failed")
		d.logger.ErrorContext(ctx, "claim CAS failed", "id", id, "error", err)
		return
	}
	if !reserved || claimed == nil {
		// CAS miss: someone else claimed it, or the value vanished. Next
		// tick naturally retries (transient-contention, §7).
		return
	}

	span.SetStatus(codes.Ok, "claimed")
	d.publish(ctx, claimed)
}

// publish implements §4.4 steps 3-5 and §4.5's max-delay policy.
func (d *Dispatcher) publish(ctx context.Context, ev *domain.HotEvent) {
	now := time.Now().UTC()

	maxDelay := time.Duration(ev.MaxDelaySecs) * time.Second
	if maxDelay <= 0 {
		maxDelay = d.maxDelayDefault
	}
	stale := now.Sub(ev.ScheduledAt) > maxDelay

	if stale && (ev.StaleIsFatal || d.staleIsFatal) {
		d.skip(ctx, ev, now)
		return
	}

	headers := map[string]string{}
	for k, v := range ev.Headers {
		headers[k] = v
	}
	headers["correlation_id"] = ev.CorrelationID
	headers["schedule_id"] = ev.EventID
	if stale {
		headers["stale"] = "true"
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	result, err := d.bus.Publish(pubCtx, ev.Topic, []byte(ev.Payload), headers)
	if err != nil {
		d.fail(ctx, ev, err, now)
		return
	}

	d.complete(ctx, ev, result, stale, now)
}

func (d *Dispatcher) complete(ctx context.Context, ev *domain.HotEvent, result tier.PublishResult, stale bool, now time.Time) {
	metrics.DispatchedTotal.WithLabelValues(string(domain.ResultSuccess)).Inc()

	ok, err := d.k.CASValueStatus(ctx, ev.ID, domain.EventProcessing, domain.EventCompleted, func(h *domain.HotEvent) {
		h.CompletedAt = &now
	})
	if err != nil || !ok {
		d.logger.ErrorContext(ctx, "mark completed failed", "id", ev.ID, "error", err)
	}
	if err := d.k.IndexRemove(ctx, ev.ID); err != nil {
		d.logger.ErrorContext(ctx, "index remove failed", "id", ev.ID, "error", err)
	}
	ev.Status = domain.EventCompleted
	ev.CompletedAt = &now
	if blob, mErr := json.Marshal(ev); mErr == nil {
		if err := d.k.SetValue(ctx, ev.ID, blob, time.Hour); err != nil {
			d.logger.ErrorContext(ctx, "shorten completed TTL failed", "id", ev.ID, "error", err)
		}
	}

	level := domain.LevelInfo
	if stale {
		level = domain.LevelWarning
	}

	row := &domain.AnalyticsRow{
		OriginTier:          domain.TierK,
		EventID:             ev.EventID,
		CorrelationID:       ev.CorrelationID,
		Topic:               ev.Topic,
		Action:              ev.Action,
		ScheduledAt:         ev.ScheduledAt,
		StartedProcessingAt: ev.StartedProcessingAt,
		CompletedAt:         &now,
		Result:              domain.ResultSuccess,
		RetryCount:          ev.RetryCount,
		BusTopic:            ev.Topic,
		BusPartition:        result.Partition,
		BusOffset:           result.Offset,
		ProcessingNode:      d.id,
		Level:               level,
		CreatedAt:           now,
	}
	row.TimeInKQueueMS = d.timeInKQueueMS(ev, now)
	row.TotalMS = int64Ptr(domain.ClampNonNegative(now.Sub(ev.ScheduledAt).Milliseconds()))
	if err := d.sink.Append(ctx, row); err != nil {
		d.logger.ErrorContext(ctx, "append analytics row failed", "id", ev.ID, "error", err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, ev *domain.HotEvent, pubErr error, now time.Time) {
	class := domain.ClassificationOf(pubErr)
	retryCount := ev.RetryCount + 1

	if retryCount <= ev.MaxRetries && PolicyFor(class).Retryable {
		metrics.DispatchedTotal.WithLabelValues(string(domain.ResultRetry)).Inc()
		delay := Backoff(d.backoff, class, ev.RetryCount)
		nextScore := float64(now.Add(delay).Unix())

		ok, err := d.k.CASValueStatus(ctx, ev.ID, domain.EventProcessing, domain.EventPending, func(h *domain.HotEvent) {
			h.RetryCount = retryCount
		})
		if err != nil || !ok {
			d.logger.ErrorContext(ctx, "requeue after publish failure failed", "id", ev.ID, "error", err)
			return
		}
		if err := d.k.IndexAdd(ctx, ev.ID, nextScore); err != nil {
			d.logger.ErrorContext(ctx, "re-score index after failure failed", "id", ev.ID, "error", err)
		}

		if err := d.sink.Append(ctx, &domain.AnalyticsRow{
			OriginTier:    domain.TierK,
			EventID:       ev.EventID,
			CorrelationID: ev.CorrelationID,
			Topic:         ev.Topic,
			Action:        ev.Action,
			ScheduledAt:   ev.ScheduledAt,
			Result:        domain.ResultRetry,
			RetryCount:    retryCount,
			ProcessingNode: d.id,
			Error:         pubErr.Error(),
			Level:         domain.LevelWarning,
			CreatedAt:     now,
		}); err != nil {
			d.logger.ErrorContext(ctx, "append analytics row failed", "id", ev.ID, "error", err)
		}
		return
	}

	// Exhausted retries, or non-retryable classification: terminal error.
	metrics.DispatchedTotal.WithLabelValues(string(domain.ResultFailure)).Inc()
	ok, err := d.k.CASValueStatus(ctx, ev.ID, domain.EventProcessing, domain.EventError, func(h *domain.HotEvent) {
		h.RetryCount = retryCount
		h.CompletedAt = &now
	})
	if err != nil || !ok {
		d.logger.ErrorContext(ctx, "mark errored failed", "id", ev.ID, "error", err)
	}
	if err := d.k.IndexRemove(ctx, ev.ID); err != nil {
		d.logger.ErrorContext(ctx, "index remove failed", "id", ev.ID, "error", err)
	}

	row := &domain.AnalyticsRow{
		OriginTier:     domain.TierK,
		EventID:        ev.EventID,
		CorrelationID:  ev.CorrelationID,
		Topic:          ev.Topic,
		Action:         ev.Action,
		ScheduledAt:    ev.ScheduledAt,
		CompletedAt:    &now,
		Result:         domain.ResultFailure,
		RetryCount:     retryCount,
		ProcessingNode: d.id,
		Error:          pubErr.Error(),
		Level:          domain.LevelError,
		CreatedAt:      now,
	}
	row.TotalMS = int64Ptr(domain.ClampNonNegative(now.Sub(ev.ScheduledAt).Milliseconds()))
	if err := d.sink.Append(ctx, row); err != nil {
		d.logger.ErrorContext(ctx, "append analytics row failed", "id", ev.ID, "error", err)
	}
}

func (d *Dispatcher) skip(ctx context.Context, ev *domain.HotEvent, now time.Time) {
	metrics.DispatchedTotal.WithLabelValues(string(domain.ResultCancelled)).Inc()

	ok, err := d.k.CASValueStatus(ctx, ev.ID, domain.EventProcessing, domain.EventSkipped, func(h *domain.HotEvent) {
		h.CompletedAt = &now
	})
	if err != nil || !ok {
		d.logger.ErrorContext(ctx, "mark skipped failed", "id", ev.ID, "error", err)
	}
	if err := d.k.IndexRemove(ctx, ev.ID); err != nil {
		d.logger.ErrorContext(ctx, "index remove failed", "id", ev.ID, "error", err)
	}

	if err := d.sink.Append(ctx, &domain.AnalyticsRow{
		OriginTier:     domain.TierK,
		EventID:        ev.EventID,
		CorrelationID:  ev.CorrelationID,
		Topic:          ev.Topic,
		Action:         ev.Action,
		ScheduledAt:    ev.ScheduledAt,
		CompletedAt:    &now,
		Result:         domain.ResultCancelled,
		ProcessingNode: d.id,
		Level:          domain.LevelWarning,
		CreatedAt:      now,
	}); err != nil {
		d.logger.ErrorContext(ctx, "append analytics row failed", "id", ev.ID, "error", err)
	}
}

// timeInKQueueMS is started_processing_at - promoted_at for a promoted
// event, or - created_at for a K-direct one (§4.7).
func (d *Dispatcher) timeInKQueueMS(ev *domain.HotEvent, now time.Time) *int64 {
	if ev.StartedProcessingAt == nil {
		return nil
	}
	// PromotedAt is set for events that reached K through C (by
	// Promoter.promote, or copied from the C row by the Janitor's
	// re-enqueue) and is nil for K-direct events (see HotEvent.IsDirect);
	// ID/EventID are equal for both kinds in this store, since the K key is
	// always the event's own id.
	base := ev.CreatedAt
	if ev.PromotedAt != nil {
		base = *ev.PromotedAt
	}
	ms := ev.StartedProcessingAt.Sub(base).Milliseconds()
	return int64Ptr(domain.ClampNonNegative(ms))
}
