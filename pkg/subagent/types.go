package subagent

import "time"

// RunParams contains parameters for registering a subagent run
type RunParams struct {
	ParentRunID string `json:"parent_run_id"`
	RunID       string `json:"run_id"`
	Role        string `json:"role"`
	Label       string `json:"label,omitempty"`
	Task        string `json:"task"`
}

// RunRecord represents a subagent execution record
type RunRecord struct {
	ID          string    `json:"id"`
	ParentRunID string    `json:"parent_run_id"`
	RunID       string    `json:"run_id"`
	Role        string    `json:"role"`
	Label       string    `json:"label,omitempty"`
	Task        string    `json:"task"`
	Status      RunStatus `json:"status"`
	StartedAt   int64     `json:"started_at"`
	CompletedAt *int64    `json:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Rounds      int       `json:"rounds,omitempty"`
}

// Duration returns the elapsed time of a finished run, or zero
func (r RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return time.Duration(*r.CompletedAt-r.StartedAt) * time.Millisecond
}

// RunStatus represents the execution state of a subagent
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canMoveTo reports whether a run may go from s to next
func (s RunStatus) canMoveTo(next RunStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Stats contains coordinator statistics
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
}

// EventHandler receives a snapshot of the affected run
type EventHandler func(record RunRecord)

// Event names
const (
	EventRunRegistered = "run:registered"
	EventRunUpdated    = "run:updated"
)
