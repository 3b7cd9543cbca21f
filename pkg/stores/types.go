package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a magebox run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Run represents one magebox command invocation on a project
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Root        string     `json:"root"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or has been running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Operation is one step recorded inside a run: a supervised build wrapper
// invocation or a provisioning phase.
type Operation struct {
	ID         int64         `json:"id"`
	RunID      string        `json:"run_id"`
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Completed  int           `json:"completed"`
	Total      int           `json:"total"`
	Duration   time.Duration `json:"duration"`
	Error      *string       `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Journal records runs and their operations
type Journal interface {
	// StartRun creates a running run with a fresh id.
	StartRun(ctx context.Context, command, root string) (*Run, error)

	// FinishRun sets the terminal status of a run. A non-nil runErr is
	// stored as the run error.
	FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	RecordOperation(ctx context.Context, op *Operation) error
	ListOperations(ctx context.Context, runID string) ([]*Operation, error)

	Close() error
}
