package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/metrics"
	"github.com/stufio-com/eventsched/internal/tier"
)

// Janitor performs the periodic cleanup/reconciliation sweep (§4.6):
// stuck-claim recovery, orphan detection, promotion integrity, retention,
// and expired index entry pruning.
type Janitor struct {
	c tier.CStore
	k tier.KStore
	d tier.DStore

	analytics AnalyticsRetention

	logger *slog.Logger

	tick               time.Duration
	claimTTL           time.Duration
	retentionC         time.Duration
	retentionAnalytics time.Duration
	batch              int

	tickCh chan struct{}
}

type JanitorConfig struct {
	Tick               time.Duration
	ClaimTTL           time.Duration
	RetentionC         time.Duration
	RetentionAnalytics time.Duration
	Batch              int
}

// AnalyticsRetention is the narrow slice of AnalyticsSink the Janitor needs
// for its retention sweep.
type AnalyticsRetention interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewJanitor(c tier.CStore, k tier.KStore, d tier.DStore, analyticsRetention AnalyticsRetention, logger *slog.Logger, cfg JanitorConfig) *Janitor {
	return &Janitor{
		c:                  c,
		k:                  k,
		d:                  d,
		analytics:          analyticsRetention,
		logger:             logger.With("component", "janitor"),
		tick:               cfg.Tick,
		claimTTL:           cfg.ClaimTTL,
		retentionC:         cfg.RetentionC,
		retentionAnalytics: cfg.RetentionAnalytics,
		batch:              cfg.Batch,
		tickCh:             make(chan struct{}, 1),
	}
}

func (j *Janitor) TickNow() {
	select {
	case j.tickCh <- struct{}{}:
	default:
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.tick)
	defer ticker.Stop()

	j.logger.Info("janitor started", "tick", j.tick)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shut down")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		case <-j.tickCh:
			j.runCycle(ctx)
		}
	}
}

func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.JanitorCycleDuration.Observe(time.Since(start).Seconds()) }()

	j.recoverStuckClaims(ctx)
	j.detectOrphans(ctx)
	j.reconcilePromotions(ctx)
	j.enforceRetention(ctx)
	j.pruneExpiredIndexEntries(ctx)
}

// recoverStuckClaims resets K entries left `processing` whose claim has
// expired back to pending, preserving retry-count (§4.6 bullet 1). Both the
// teacher's reaper.go and the Janitor share the same "sweep by deadline,
// reset to pending" shape — here on K state instead of a Postgres row.
func (j *Janitor) recoverStuckClaims(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.claimTTL)

	ids, err := j.k.IndexRangeByScore(ctx, 0, float64(cutoff.Unix()), j.batch)
	if err != nil {
		j.logger.ErrorContext(ctx, "scan for stuck claims failed", "error", err)
		return
	}

	recovered := 0
	for _, id := range ids {
		blob, err := j.k.GetValue(ctx, id)
		if err != nil {
			continue
		}
		var ev domain.HotEvent
		if err := json.Unmarshal(blob, &ev); err != nil {
			continue
		}
		if ev.Status != domain.EventProcessing {
			continue
		}
		if ev.ClaimedAt == nil || ev.ClaimedAt.After(cutoff) {
			continue
		}

		ok, err := j.k.CASValueStatus(ctx, id, domain.EventProcessing, domain.EventPending, func(h *domain.HotEvent) {
			h.ProcessorID = ""
			h.ClaimedAt = nil
		})
		if err != nil {
			j.logger.ErrorContext(ctx, "recover stuck claim failed", "id", id, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		j.logger.Info("janitor recovered stuck claims", "count", recovered)
	}
}

// detectOrphans is the §4.6 bullet 2 slot and does nothing. tier.KStore has
// no primitive that lists value keys or tests index membership, so a K value
// left pending without its index entry is not re-indexed by any Janitor
// pass: reconcilePromotions acts only on promoted C rows whose K value is
// gone, and leaves a row whose K value survived untouched whether or not its
// index entry exists (see DESIGN.md).
func (j *Janitor) detectOrphans(ctx context.Context) {
}

// reconcilePromotions implements §4.6 bullet 3: verify K still has rows C
// marked promoted a while ago; re-enqueue or re-promote as needed.
func (j *Janitor) reconcilePromotions(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.tick * 3)

	rows, err := j.c.GetStuck(ctx, cutoff, j.batch)
	if err != nil {
		j.logger.ErrorContext(ctx, "get stuck C rows failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, row := range rows {
		if row.Status != domain.EventPromoted {
			continue
		}

		_, err := j.k.GetValue(ctx, row.ID)
		if err == nil {
			// K still has it — nothing to do, it's just mid-flight.
			continue
		}
		if !isNotFound(err) {
			j.logger.ErrorContext(ctx, "check K value for promoted row failed", "id", row.ID, "error", err)
			continue
		}

		// K lost the row. If its fire time has passed, re-enqueue directly
		// at K; if still in the future, fall back to pending so the
		// Promoter re-promotes it next tick.
		if row.ScheduledAt.Before(now) {
			j.reenqueueAtK(ctx, row)
		} else {
			if _, err := j.c.Mutate(ctx, row.ID, domain.EventPromoted, map[string]any{
				"status": domain.EventPending,
			}); err != nil {
				j.logger.ErrorContext(ctx, "revert orphaned promotion failed", "id", row.ID, "error", err)
			}
		}
	}
}

func (j *Janitor) reenqueueAtK(ctx context.Context, row *domain.DelayedEvent) {
	hot := &domain.HotEvent{
		ID: row.ID, EventID: row.ID, Topic: row.Topic, EntityType: row.EntityType,
		Action: row.Action, EntityID: row.EntityID, Actor: row.Actor, Payload: row.Payload,
		Headers: row.Headers, ScheduledAt: row.ScheduledAt, Priority: row.Priority,
		MaxDelaySecs: row.MaxDelaySecs, Status: domain.EventPending, Source: row.Source,
		SourceID: row.SourceID, CorrelationID: row.CorrelationID, RetryCount: row.RetryCount,
		MaxRetries: row.MaxRetries, CreatedAt: row.CreatedAt, PromotedAt: row.PromotedAt,
	}
	blob, err := json.Marshal(hot)
	if err != nil {
		j.logger.ErrorContext(ctx, "marshal re-enqueue event failed", "id", row.ID, "error", err)
		return
	}
	if err := j.k.SetValue(ctx, row.ID, blob, 2*time.Hour); err != nil {
		j.logger.ErrorContext(ctx, "re-enqueue K value failed", "id", row.ID, "error", err)
		return
	}
	if err := j.k.IndexAdd(ctx, row.ID, float64(row.ScheduledAt.Unix())); err != nil {
		j.logger.ErrorContext(ctx, "re-enqueue index add failed", "id", row.ID, "error", err)
	}
}

func (j *Janitor) enforceRetention(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := j.c.DeleteBefore(ctx, domain.EventCompleted, now.Add(-j.retentionC)); err != nil {
		j.logger.ErrorContext(ctx, "retention delete completed C rows failed", "error", err)
	} else if n > 0 {
		j.logger.Info("janitor pruned completed C rows", "count", n)
	}

	if n, err := j.c.DeleteBefore(ctx, domain.EventError, now.Add(-j.retentionC)); err != nil {
		j.logger.ErrorContext(ctx, "retention delete errored C rows failed", "error", err)
	} else if n > 0 {
		j.logger.Info("janitor pruned errored C rows", "count", n)
	}

	if n, err := j.d.DeleteExecutionsBefore(ctx, now.Add(-j.retentionC)); err != nil {
		j.logger.ErrorContext(ctx, "retention delete execution records failed", "error", err)
	} else if n > 0 {
		j.logger.Info("janitor pruned execution records", "count", n)
	}

	if j.analytics != nil {
		if n, err := j.analytics.DeleteBefore(ctx, now.Add(-j.retentionAnalytics)); err != nil {
			j.logger.ErrorContext(ctx, "retention delete analytics rows failed", "error", err)
		} else if n > 0 {
			j.logger.Info("janitor pruned analytics rows", "count", n)
		}
	}
}

// pruneExpiredIndexEntries removes index members more than 5 minutes past
// their score with no live value (§4.6 bullet 5).
func (j *Janitor) pruneExpiredIndexEntries(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-5 * time.Minute)

	ids, err := j.k.IndexRangeByScore(ctx, 0, float64(cutoff.Unix()), j.batch)
	if err != nil {
		j.logger.ErrorContext(ctx, "scan for expired index entries failed", "error", err)
		return
	}

	pruned := 0
	for _, id := range ids {
		_, err := j.k.GetValue(ctx, id)
		if err == nil {
			continue // value still live, leave it
		}
		if !isNotFound(err) {
			j.logger.ErrorContext(ctx, "check expired index entry value failed", "id", id, "error", err)
			continue
		}
		if err := j.k.IndexRemove(ctx, id); err != nil {
			j.logger.ErrorContext(ctx, "prune expired index entry failed", "id", id, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		j.logger.Info("janitor pruned expired index entries", "count", pruned)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
