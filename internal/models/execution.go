package models

import "time"

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal
// executions never change again.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution records one script run. The script content travels by value,
// so deleting a repository or script never invalidates execution history.
type Execution struct {
	ID             string          `json:"id"`
	ScriptID       *int64          `json:"script_id,omitempty"`
	ScriptName     string          `json:"script_name,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Parameters     string          `json:"parameters,omitempty"`
	Stdout         string          `json:"stdout,omitempty"`
	Stderr         string          `json:"stderr,omitempty"`
	ExitCode       *int            `json:"exit_code,omitempty"`
	Hostname       string          `json:"hostname"`
	RuntimeVersion string          `json:"runtime_version,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	PeakMemory     int64           `json:"peak_memory_bytes"`
	CommandCount   int             `json:"command_count"`
	Error          string          `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid             bool           `json:"valid"`
	Metadata          ScriptMetadata `json:"metadata"`
	RiskLevel         string         `json:"risk_level"`
	Issues            []string       `json:"issues,omitempty"`
	RequiresElevation bool           `json:"requires_elevation"`
	Message           string         `json:"message,omitempty"`
}
