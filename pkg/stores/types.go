package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/providers"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents a stored import or export run
type Run struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Package     string           `json:"package"`
	Status      engine.RunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	Error       *string          `json:"error,omitempty"`
	Context     *string          `json:"context,omitempty"` // JSON blob
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// Outcomes is filled by GetRun only.
	Outcomes []*Outcome `json:"outcomes,omitempty"`
}

// Outcome represents the stored result of one action of a run
type Outcome struct {
	ID          int64                `json:"id"`
	RunID       string               `json:"run_id"`
	Action      string               `json:"action"`
	Provider    string               `json:"provider"`
	Status      engine.OutcomeStatus `json:"status"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	DurationMS  int64                `json:"duration_ms"`
	Rows        int                  `json:"rows"`
	Records     int                  `json:"records"`
	FailedRows  int                  `json:"failed_rows"`
	Error       *string              `json:"error,omitempty"`
}

// Event represents an entry in the event log
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Action    *string    `json:"action,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// EventFilter selects events. Nil fields match everything.
type EventFilter struct {
	RunID  *string
	Action *string
	Level  *EventLevel
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Recorder
	providers.Store

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// WithTx runs fn in a transaction, committed when fn returns nil.
	WithTx(ctx context.Context, fn func(*sql.Tx) error) error

	// Run operations
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	ListOutcomes(ctx context.Context, runID string) ([]*Outcome, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
