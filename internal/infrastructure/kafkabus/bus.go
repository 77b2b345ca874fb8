// Package kafkabus is the Bus adapter (tier.Bus): publishes dispatched
// events onto the downstream message bus (§6). The delayed-intake consumer
// lives in internal/intake. Grounded on the domain dep pack's consistent choice of
// segmentio/kafka-go for Kafka clients, and on the original Python
// system's three_tier_scheduler.py:_publish_to_kafka call site.
package kafkabus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stufio-com/eventsched/internal/tier"
)

type Config struct {
	Brokers      []string
	PublishTimeout time.Duration
}

// Bus publishes dispatched events. One Writer is shared across all topics —
// segmentio/kafka-go routes per-message by the Topic field on each kafka.Message.
type Bus struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func New(cfg Config) *Bus {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: timeout,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, value []byte, headers map[string]string) (tier.PublishResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	hdrs := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		hdrs = append(hdrs, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   topic,
		Value:   value,
		Headers: hdrs,
		Time:    time.Now(),
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return tier.PublishResult{}, fmt.Errorf("publish to %s: %w", topic, err)
	}

	// kafka-go's Writer doesn't surface the partition/offset a message landed
	// on, so Partition is -1 and Offset carries the Writes figure from the
	// writer's Stats(), not a broker offset.
	stats := b.writer.Stats()
	return tier.PublishResult{Partition: -1, Offset: stats.Writes}, nil
}

func (b *Bus) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.writer.Addr.String())
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	return nil
}

func (b *Bus) Close() error {
	return b.writer.Close()
}
