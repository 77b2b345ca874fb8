package domain

import "time"

// EventStatus is the monotonic lifecycle of a DelayedEvent/HotEvent (§3):
// pending -> (processing|promoted) -> (completed|error|skipped).
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing" // K-tier calls this "reserved"
	EventCompleted  EventStatus = "completed"
	EventError      EventStatus = "error"
	EventSkipped    EventStatus = "skipped"
	EventPromoted   EventStatus = "promoted" // C-tier only
)

// EventSource identifies what produced a DelayedEvent (§3).
type EventSource string

const (
	SourceCron          EventSource = "cron"
	SourceKafkaIntake   EventSource = "kafka-delayed-intake"
	SourceAPI           EventSource = "api"
	SourceSystem        EventSource = "system"
)

// DelayedEvent is a C-tier row: a one-shot delayed event with a long
// scheduling horizon (§3).
type DelayedEvent struct {
	ID string `json:"id"`

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

	Status     EventStatus `json:"status"`
	Source     EventSource `json:"source"`
	SourceID   string      `json:"sourceId,omitempty"`
	CorrelationID string    `json:"correlationId"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	NodeID    string     `json:"nodeId,omitempty"`
	LockUntil *time.Time `json:"lockUntil,omitempty"`

	PromotedAt  *time.Time `json:"promotedAt,omitempty"`
	PromotedKey string     `json:"promotedKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HotEvent is a K-tier value record — same identity fields as DelayedEvent
// plus a back-reference to its C-tier origin (§3). Payload here is carried
// as an opaque string end to end, same as DelayedEvent; the engine never
// parses it.
type HotEvent struct {
	ID      string `json:"id"`
	EventID string `json:"eventId"` // C-tier id, or == ID for K-direct events

	Topic        string            `json:"topic"`
	EntityType   string            `json:"entityType"`
	Action       string            `json:"action"`
	EntityID     string            `json:"entityId"`
	Actor        string            `json:"actor"`
	Payload      string            `json:"payload"`
	Headers      map[string]string `json:"headers"`
	ScheduledAt  time.Time         `json:"scheduledAt"`
	Priority     int               `json:"priority"`
	MaxDelaySecs int64             `json:"maxDelaySeconds"`
	StaleIsFatal bool              `json:"staleIsFatal"`

	Status        EventStatus `json:"status"`
	Source        EventSource `json:"source"`
	SourceID      string      `json:"sourceId,omitempty"`
	CorrelationID string      `json:"correlationId"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	ProcessorID string     `json:"processorId,omitempty"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`

	// PromotedAt is set only for events that arrived via C-tier promotion;
	// nil for K-direct events. See IsDirect.
	PromotedAt *time.Time `json:"promotedAt,omitempty"`

	CreatedAt          time.Time  `json:"createdAt"`
	StartedProcessingAt *time.Time `json:"startedProcessingAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

// IsDirect reports whether this HotEvent was scheduled straight into K
// (no C-tier row ever existed for it).
func (h *HotEvent) IsDirect() bool {
	return h.PromotedAt == nil
}
