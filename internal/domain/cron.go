package domain

import "time"

// CronStatus is the lifecycle state of a CronDefinition (§3).
type CronStatus string

const (
	CronActive    CronStatus = "active"
	CronPaused    CronStatus = "paused"
	CronDisabled  CronStatus = "disabled"
	CronCompleted CronStatus = "completed"
)

// RetryPolicy is the retry configuration a CronDefinition stamps onto every
// DelayedEvent it generates.
type RetryPolicy struct {
	MaxRetries int `json:"maxRetries"`
}

// CronDefinition is a D-tier recurring schedule specification (§3). Its
// bookkeeping fields (LastFire, NextFire, ExecCount, ErrorCount, LastError)
// are mutated only by the CronGenerator; every other field is admin-owned.
type CronDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	EventType      string            `json:"eventType"`
	Action         string            `json:"action"`
	DefaultPayload string            `json:"defaultPayload"`
	Headers        map[string]string `json:"headers"`
	ActorID        string            `json:"actorId"`

	CronExpr string `json:"cronExpr"`
	Timezone string `json:"timezone"`

	Retry  RetryPolicy `json:"retry"`
	Status CronStatus  `json:"status"`

	// ManualOverride marks which attributes an admin has explicitly set,
	// so a registry re-sync (internal/registry) never clobbers them.
	ManualOverride map[string]bool `json:"manualOverride"`

	LastFire   *time.Time `json:"lastFire"`
	NextFire   time.Time  `json:"nextFire"`
	ExecCount  int64      `json:"execCount"`
	ErrorCount int64      `json:"errorCount"`
	LastError  string     `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionOutcome is the result of one cron firing (§3).
type ExecutionOutcome string

const (
	ExecutionSuccess ExecutionOutcome = "success"
	ExecutionFailure ExecutionOutcome = "failure"
	ExecutionSkipped ExecutionOutcome = "skipped"
)

// ExecutionRecord is an append-only D-tier row recording one cron firing (§3).
type ExecutionRecord struct {
	ID           string           `json:"id"`
	DefinitionID string           `json:"definitionId"`
	FireTime     time.Time        `json:"fireTime"`
	Outcome      ExecutionOutcome `json:"outcome"`
	GeneratedID  string           `json:"generatedId,omitempty"`
	Duration     time.Duration    `json:"duration"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}
