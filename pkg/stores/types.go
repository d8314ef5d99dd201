package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a journaled run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// EventPhase tells whether an event marks the start or end of an action.
type EventPhase string

const (
	EventPhaseStarted  EventPhase = "started"
	EventPhaseFinished EventPhase = "finished"
)

// Run represents one install or revert of a plan.
type Run struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	Operation   string     `json:"operation"` // execute, revert
	Status      RunStatus  `json:"status"`
	Target      string     `json:"target"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ActionEvent is an append-only record of an action transition.
type ActionEvent struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Index      int        `json:"index"`
	Kind       string     `json:"kind"`
	Operation  string     `json:"operation"`
	Phase      EventPhase `json:"phase"`
	State      *string    `json:"state,omitempty"`
	Error      *string    `json:"error,omitempty"` // JSON blob
	DurationMs int64      `json:"duration_ms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PlanSnapshot is the plan document as it stood after an action.
type PlanSnapshot struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Document  []byte    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for the journal persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errJSON *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *ActionEvent) error
	ListEvents(ctx context.Context, runID string) ([]*ActionEvent, error)

	// Snapshot operations
	SaveSnapshot(ctx context.Context, runID string, document []byte) (int, error)
	LatestSnapshot(ctx context.Context, runID string) (*PlanSnapshot, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
