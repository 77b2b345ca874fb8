package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/metrics"
	"github.com/stufio-com/eventsched/internal/tier"
)

// Promoter moves C-tier events whose fire time is within the promotion
// horizon to K, in fire-time order (§4.3).
type Promoter struct {
	c    tier.CStore
	k    tier.KStore
	sink AnalyticsSink

	logger   *slog.Logger
	tick     time.Duration
	batch    int
	horizon  time.Duration

	tickCh chan struct{}
}

func NewPromoter(c tier.CStore, k tier.KStore, sink AnalyticsSink, logger *slog.Logger, tick, horizon time.Duration, batch int) *Promoter {
	return &Promoter{
		c:       c,
		k:       k,
		sink:    sink,
		logger:  logger.With("component", "promoter"),
		tick:    tick,
		batch:   batch,
		horizon: horizon,
		tickCh:  make(chan struct{}, 1),
	}
}

func (p *Promoter) TickNow() {
	select {
	case p.tickCh <- struct{}{}:
	default:
	}
}

func (p *Promoter) Start(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	p.logger.Info("promoter started", "tick", p.tick, "horizon", p.horizon, "batch", p.batch)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("promoter shut down")
			return
		case <-ticker.C:
			p.runTick(ctx)
		case <-p.tickCh:
			p.runTick(ctx)
		}
	}
}

func (p *Promoter) runTick(ctx context.Context) {
	upper := time.Now().UTC().Add(p.horizon)

	rows, err := p.c.RangeScan(ctx, domain.EventPending, upper, p.batch, tier.OrderScheduledAtAscPriorityDesc)
	if err != nil {
		p.logger.ErrorContext(ctx, "range scan pending events", "error", err)
		return
	}

	for _, row := range rows {
		p.promote(ctx, row)
	}
}

// promote implements §4.3 steps 2-3: write the K value + index, then CAS the
// C row to promoted. It is idempotent — a retried promote overwrites the K
// value and re-scores the (unchanged) index entry.
func (p *Promoter) promote(ctx context.Context, row *domain.DelayedEvent) {
	promotedAt := time.Now().UTC()
	hot := &domain.HotEvent{
		ID:           row.ID,
		EventID:      row.ID,
		Topic:        row.Topic,
		EntityType:   row.EntityType,
		Action:       row.Action,
		EntityID:     row.EntityID,
		Actor:        row.Actor,
		Payload:      row.Payload,
		Headers:      row.Headers,
		ScheduledAt:  row.ScheduledAt,
		Priority:     row.Priority,
		MaxDelaySecs: row.MaxDelaySecs,
		Status:       domain.EventPending,
		Source:       row.Source,
		SourceID:     row.SourceID,
		CorrelationID: row.CorrelationID,
		RetryCount:   row.RetryCount,
		MaxRetries:   row.MaxRetries,
		CreatedAt:    row.CreatedAt,
		PromotedAt:   &promotedAt,
	}

	blob, err := json.Marshal(hot)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal hot event failed", "id", row.ID, "error", err)
		return
	}

	ttl := time.Until(row.ScheduledAt) + 2*time.Hour
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	if err := p.k.SetValue(ctx, row.ID, blob, ttl); err != nil {
		p.logger.ErrorContext(ctx, "write K value failed, left pending for retry", "id", row.ID, "error", err)
		return
	}
	if err := p.k.IndexAdd(ctx, row.ID, float64(row.ScheduledAt.Unix())); err != nil {
		p.logger.ErrorContext(ctx, "index add failed, left pending for retry", "id", row.ID, "error", err)
		return
	}

	now := promotedAt
	ok, err := p.c.Mutate(ctx, row.ID, domain.EventPending, map[string]any{
		"status":       domain.EventPromoted,
		"promoted_at":  now,
		"promoted_key": row.ID,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "mutate C row to promoted failed", "id", row.ID, "error", err)
		// K already has the row; the Janitor's promotion-integrity sweep
		// will reconcile this on its next cycle (§4.6).
		return
	}
	if !ok {
		// Lost the CAS race (another replica already promoted, or the row
		// moved on) — no-op, nothing to reconcile.
		return
	}
	metrics.PromotionsTotal.Inc()

	if err := p.sink.Append(ctx, &domain.AnalyticsRow{
		OriginTier:     domain.TierC,
		EventID:        row.ID,
		CorrelationID:  row.CorrelationID,
		Topic:          row.Topic,
		Action:         row.Action,
		ScheduledAt:    row.ScheduledAt,
		Result:         domain.ResultRetry, // promotion is an intermediate transition, not a terminal result
		RetryCount:     row.RetryCount,
		TimeInCQueueMS: int64Ptr(domain.ClampNonNegative(now.Sub(row.CreatedAt).Milliseconds())),
		Level:          domain.LevelInfo,
		CreatedAt:      now,
	}); err != nil {
		p.logger.ErrorContext(ctx, "append analytics row failed", "id", row.ID, "error", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
