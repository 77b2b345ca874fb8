// Package api implements the Scheduling API (§4.1): the three engine-level
// operations callers go through to create or cancel work; in this
// repository the caller is the Kafka delayed-intake consumer wired in
// cmd/scheduler (cmd/registry writes definitions through registry.Syncer). It never talks to D/C/K directly; it depends only on
// tier.DStore/CStore/KStore, the same narrow interfaces the background
// workers use.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stufio-com/eventsched/internal/correlation"
	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/scheduler"
	"github.com/stufio-com/eventsched/internal/tier"
)

var validate = validator.New()

// Engine is the Scheduling API surface. Unrelated to scheduler.Engine (the
// worker lifecycle) — this one is a thin, synchronous request/response
// facade callers hold a reference to.
type Engine struct {
	d tier.DStore
	c tier.CStore
	k tier.KStore

	logger *slog.Logger

	horizon   time.Duration
	skew      time.Duration
	maxDelay  time.Duration
}

func NewEngine(d tier.DStore, c tier.CStore, k tier.KStore, logger *slog.Logger, horizon, skew, maxDelayDefault time.Duration) *Engine {
	return &Engine{
		d:        d,
		c:        c,
		k:        k,
		logger:   logger.With("component", "api"),
		horizon:  horizon,
		skew:     skew,
		maxDelay: maxDelayDefault,
	}
}

// ScheduleEventInput is the request shape for ScheduleEvent (§4.1).
type ScheduleEventInput struct {
	Topic         string            `validate:"required"`
	EntityType    string            `validate:"required"`
	EntityID      string            `validate:"required"`
	Action        string            `validate:"required"`
	Actor         string
	Payload       string            `validate:"required"`
	Headers       map[string]string
	ScheduledAt   time.Time         `validate:"required"`
	Priority      int
	MaxRetries    int
	MaxDelaySecs  int64
	StaleIsFatal  bool
	CorrelationID string
}

// ScheduleEvent implements §4.1: it picks the tier by comparing
// scheduled-at against the promotion horizon H1, and returns the id the
// event was created under (a C-id, or a fresh K-direct id).
func (e *Engine) ScheduleEvent(ctx context.Context, in ScheduleEventInput) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidArg, err)
	}

	now := time.Now().UTC()
	if in.ScheduledAt.Before(now.Add(-e.skew)) {
		return "", fmt.Errorf("%w: scheduled_at %s is in the past", domain.ErrInvalidArg, in.ScheduledAt)
	}

	corrID := in.CorrelationID
	if corrID == "" {
		corrID = correlation.New()
	}

	maxDelay := in.MaxDelaySecs
	if maxDelay <= 0 {
		maxDelay = int64(e.maxDelay / time.Second)
	}

	if in.ScheduledAt.Sub(now) <= e.horizon {
		return e.scheduleDirectK(ctx, in, corrID, maxDelay, now)
	}
	return e.scheduleViaC(ctx, in, corrID, maxDelay)
}

func (e *Engine) scheduleDirectK(ctx context.Context, in ScheduleEventInput, corrID string, maxDelay int64, now time.Time) (string, error) {
	id := uuid.NewString()

	hot := &domain.HotEvent{
		ID:            id,
		EventID:       id, // K-direct: no C row, own id namespace (§4.1).
		Topic:         in.Topic,
		EntityType:    in.EntityType,
		Action:        in.Action,
		EntityID:      in.EntityID,
		Actor:         in.Actor,
		Payload:       in.Payload,
		Headers:       in.Headers,
		ScheduledAt:   in.ScheduledAt,
		Priority:      in.Priority,
		MaxDelaySecs:  maxDelay,
		StaleIsFatal:  in.StaleIsFatal,
		Status:        domain.EventPending,
		Source:        domain.SourceAPI,
		CorrelationID: corrID,
		MaxRetries:    in.MaxRetries,
		CreatedAt:     now,
	}

	blob, err := json.Marshal(hot)
	if err != nil {
		return "", fmt.Errorf("marshal hot event: %w", err)
	}

	ttl := time.Until(in.ScheduledAt) + 2*time.Hour
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	if err := e.k.SetValue(ctx, id, blob, ttl); err != nil {
		return "", fmt.Errorf("write K value: %w", err)
	}
	if err := e.k.IndexAdd(ctx, id, float64(in.ScheduledAt.Unix())); err != nil {
		return "", fmt.Errorf("index add: %w", err)
	}

	return id, nil
}

func (e *Engine) scheduleViaC(ctx context.Context, in ScheduleEventInput, corrID string, maxDelay int64) (string, error) {
	row := &domain.DelayedEvent{
		Topic:         in.Topic,
		EntityType:    in.EntityType,
		Action:        in.Action,
		EntityID:      in.EntityID,
		Actor:         in.Actor,
		Payload:       in.Payload,
		Headers:       in.Headers,
		ScheduledAt:   in.ScheduledAt,
		Priority:      in.Priority,
		MaxDelaySecs:  maxDelay,
		Status:        domain.EventPending,
		Source:        domain.SourceAPI,
		CorrelationID: corrID,
		MaxRetries:    in.MaxRetries,
	}

	id, err := e.c.Insert(ctx, row)
	if err != nil {
		return "", fmt.Errorf("insert delayed event: %w", err)
	}
	return id, nil
}

// ScheduleCronDefinitionInput is the request shape for
// ScheduleCronDefinition (§4.1).
type ScheduleCronDefinitionInput struct {
	Name           string `validate:"required"`
	EventType      string `validate:"required"`
	Action         string `validate:"required"`
	DefaultPayload string
	Headers        map[string]string
	ActorID        string
	CronExpr       string `validate:"required"`
	Timezone       string `validate:"required"`
	MaxRetries     int
}

// ScheduleCronDefinition implements §4.1: validates name uniqueness, cron
// parseability, and timezone resolvability, then computes the first
// next-fire immediately so the CronGenerator has something to select on its
// very next tick.
func (e *Engine) ScheduleCronDefinition(ctx context.Context, in ScheduleCronDefinitionInput) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidArg, err)
	}

	if existing, err := e.d.Find(ctx, in.Name); err == nil && existing != nil {
		return "", fmt.Errorf("%w: name %q already in use", domain.ErrDuplicate, in.Name)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("check existing definition: %w", err)
	}

	if err := scheduler.ValidateCron(in.CronExpr, in.Timezone); err != nil {
		return "", fmt.Errorf("%w: %v", classifyCronErr(in.Timezone), err)
	}

	now := time.Now().UTC()
	next, err := scheduler.NextFireAfter(in.CronExpr, in.Timezone, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCron, err)
	}

	def := &domain.CronDefinition{
		Name:           in.Name,
		EventType:      in.EventType,
		Action:         in.Action,
		DefaultPayload: in.DefaultPayload,
		Headers:        in.Headers,
		ActorID:        in.ActorID,
		CronExpr:       in.CronExpr,
		Timezone:       in.Timezone,
		Retry:          domain.RetryPolicy{MaxRetries: in.MaxRetries},
		Status:         domain.CronActive,
		ManualOverride: map[string]bool{},
		NextFire:       next,
	}

	created, err := e.d.Create(ctx, def)
	if err != nil {
		return "", fmt.Errorf("create cron definition: %w", err)
	}
	return created.ID, nil
}

// classifyCronErr distinguishes an unparseable expression from an unknown
// timezone so ScheduleCronDefinition returns the right classified error.
func classifyCronErr(timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return domain.ErrUnknownTZ
	}
	return domain.ErrInvalidCron
}

// CancelEvent implements §4.1: it removes the event from its tier if still
// pending, trying K first (direct events and already-promoted ones both
// live there) and falling back to C. Returns false, nil if nothing was
// found to cancel; returns CONFLICT if the event is already processing.
func (e *Engine) CancelEvent(ctx context.Context, id string) (bool, error) {
	ok, err := e.cancelInK(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	return e.cancelInC(ctx, id)
}

func (e *Engine) cancelInK(ctx context.Context, id string) (bool, error) {
	blob, err := e.k.GetValue(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get K value: %w", err)
	}

	var hot domain.HotEvent
	if err := json.Unmarshal(blob, &hot); err != nil {
		return false, fmt.Errorf("unmarshal hot event: %w", err)
	}

	switch hot.Status {
	case domain.EventProcessing:
		return false, fmt.Errorf("%w: event %s is already processing", domain.ErrConflict, id)
	case domain.EventPending:
		ok, err := e.k.CASValueStatus(ctx, id, domain.EventPending, domain.EventSkipped, func(h *domain.HotEvent) {})
		if err != nil {
			return false, fmt.Errorf("cas cancel: %w", err)
		}
		if !ok {
			return false, nil
		}
		if err := e.k.IndexRemove(ctx, id); err != nil {
			e.logger.ErrorContext(ctx, "index remove on cancel failed", "id", id, "error", err)
		}
		return true, nil
	default:
		// Already terminal (completed/error/skipped) — nothing to cancel.
		return false, nil
	}
}

func (e *Engine) cancelInC(ctx context.Context, id string) (bool, error) {
	row, err := e.c.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get C row: %w", err)
	}

	if row.Status == domain.EventProcessing {
		return false, fmt.Errorf("%w: event %s is already processing", domain.ErrConflict, id)
	}
	if row.Status != domain.EventPending && row.Status != domain.EventPromoted {
		return false, nil
	}

	ok, err := e.c.Mutate(ctx, id, row.Status, map[string]any{"status": domain.EventSkipped})
	if err != nil {
		return false, fmt.Errorf("cas cancel: %w", err)
	}
	return ok, nil
}
