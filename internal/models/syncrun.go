package models

import "time"

type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
	SyncSkipped   SyncStatus = "skipped"
)

type SyncTrigger string

const (
	TriggerManual  SyncTrigger = "manual"
	TriggerWebhook SyncTrigger = "webhook"
)

// SyncRun is one synchronization attempt. Rows are append-only per
// repository and immutable once CompletedAt is set.
type SyncRun struct {
	ID           int64       `json:"id"`
	RepositoryID int64       `json:"repository_id"`
	Trigger      SyncTrigger `json:"trigger"`
	Status       SyncStatus  `json:"status"`
	Processed    int         `json:"processed"`
	Added        int         `json:"added"`
	Updated      int         `json:"updated"`
	Removed      int         `json:"removed"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}
