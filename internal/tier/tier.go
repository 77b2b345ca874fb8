// Package tier defines the narrow store/bus interfaces spec.md §6 requires.
// CronGenerator, Promoter, Dispatcher, and Janitor depend only on these
// interfaces, never on a concrete store — the duck-typed CRUD layers of the
// source become one Go interface per concern (§9).
package tier

import (
	"context"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
)

// DStore is the document-tier interface: cron-recurring schedule
// definitions plus execution history.
type DStore interface {
	Find(ctx context.Context, name string) (*domain.CronDefinition, error)
	FindByID(ctx context.Context, id string) (*domain.CronDefinition, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.CronDefinition, error)
	Create(ctx context.Context, def *domain.CronDefinition) (*domain.CronDefinition, error)
	UpdateByID(ctx context.Context, id string, patch map[string]any) error
	AppendExecution(ctx context.Context, row *domain.ExecutionRecord) error
	ListExecutions(ctx context.Context, definitionID string, limit int) ([]*domain.ExecutionRecord, error)
	CountActive(ctx context.Context) (int64, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// RangeOrder controls the sort applied by CStore.RangeScan.
type RangeOrder string

const (
	OrderScheduledAtAscPriorityDesc RangeOrder = "scheduled_at_asc_priority_desc"
)

// CStore is the columnar-tier interface: the durable, long-horizon delayed
// event queue.
type CStore interface {
	Insert(ctx context.Context, row *domain.DelayedEvent) (string, error)
	Get(ctx context.Context, id string) (*domain.DelayedEvent, error)
	RangeScan(ctx context.Context, status domain.EventStatus, scheduledAtUpper time.Time, limit int, order RangeOrder) ([]*domain.DelayedEvent, error)
	// Mutate conditionally applies patch to row id, succeeding only if the
	// row's current status equals fromStatus (CAS on status).
	Mutate(ctx context.Context, id string, fromStatus domain.EventStatus, patch map[string]any) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.EventStatus]int64, error)
	DeleteBefore(ctx context.Context, status domain.EventStatus, cutoff time.Time) (int64, error)
	GetStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DelayedEvent, error)
	Ping(ctx context.Context) error
}

// LockToken identifies the holder of a K-tier claim lock, returned by
// TryLock and required to release it via Unlock.
type LockToken string

// KStore is the key-value-tier interface: value records, a time-sorted
// index, and the claim-lock primitive.
type KStore interface {
	SetValue(ctx context.Context, id string, blob []byte, ttl time.Duration) error
	GetValue(ctx context.Context, id string) ([]byte, error)
	DeleteValue(ctx context.Context, id string) error
	// CASValueStatus reads the value at id, checks it deserializes to a
	// HotEvent with Status == from, and if so applies patch and writes it
	// back. Returns false (no error) on CAS miss.
	CASValueStatus(ctx context.Context, id string, from, to domain.EventStatus, patch func(*domain.HotEvent)) (bool, error)

	IndexAdd(ctx context.Context, id string, score float64) error
	IndexRemove(ctx context.Context, id string) error
	IndexRangeByScore(ctx context.Context, min, max float64, limit int) ([]string, error)
	IndexCount(ctx context.Context, min, max float64) (int64, error)

	TryLock(ctx context.Context, id string, ttl time.Duration) (LockToken, bool, error)
	Unlock(ctx context.Context, id string, token LockToken) error

	Ping(ctx context.Context) error
}

// PublishResult is returned by Bus.Publish (§6).
type PublishResult struct {
	Partition int
	Offset    int64
}

// Bus is the external message-bus client interface.
type Bus interface {
	Publish(ctx context.Context, topic string, value []byte, headers map[string]string) (PublishResult, error)
	Ping(ctx context.Context) error
}
