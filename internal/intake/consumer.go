// Package intake consumes the delayed-event intake topic (§3 of
// SPEC_FULL.md): other services publish "schedule this for later" messages
// here instead of calling the Scheduling API directly, and the consumer
// turns each one into a C-tier (or, inside the promotion horizon, direct
// K-tier) insert the same way api.ScheduleEvent would.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ScheduleFunc is the subset of the Scheduling API the consumer drives.
// Kept as a func type (not the full *api.Engine) so tests can
// stub exactly one call.
type ScheduleFunc func(ctx context.Context, req ScheduleRequest) error

type ScheduleRequest struct {
	Topic         string            `json:"topic"`
	EntityType    string            `json:"entityType"`
	Action        string            `json:"action"`
	EntityID      string            `json:"entityId"`
	Actor         string            `json:"actor"`
	Payload       string            `json:"payload"`
	Headers       map[string]string `json:"headers"`
	ScheduledAt   time.Time         `json:"scheduledAt"`
	Priority      int               `json:"priority"`
	MaxDelaySecs  int64             `json:"maxDelaySeconds"`
	CorrelationID string            `json:"correlationId"`
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type Consumer struct {
	reader   *kafka.Reader
	schedule ScheduleFunc
	log      *slog.Logger
}

func New(cfg Config, schedule ScheduleFunc, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, schedule: schedule, log: log}
}

// Run consumes until ctx is cancelled. A message that fails to parse or
// schedule is logged and skipped rather than retried forever — the
// original's "no catch-up" philosophy for malformed intake, not the
// classified retry policy the Dispatcher uses for its own publish path.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch intake message: %w", err)
		}

		var req ScheduleRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			c.log.ErrorContext(ctx, "discarding malformed intake message", "error", err, "offset", msg.Offset)
			c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.schedule(ctx, req); err != nil {
			c.log.ErrorContext(ctx, "schedule intake event failed", "error", err, "topic", req.Topic, "entity_id", req.EntityID)
			// Still commit: a transient store failure here would otherwise
			// wedge the consumer group on one message forever.
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.ErrorContext(ctx, "commit intake offset failed", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
