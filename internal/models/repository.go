package models

import "time"

type RepositoryStatus string

const (
	RepositoryActive     RepositoryStatus = "active"
	RepositoryDisabled   RepositoryStatus = "disabled"
	RepositorySyncFailed RepositoryStatus = "sync_failed"
)

type TrackedRepository struct {
	ID            int64            `json:"id"`
	Owner         string           `json:"owner"`
	Name          string           `json:"name"`
	DefaultBranch string           `json:"default_branch"`
	Status        RepositoryStatus `json:"status"`
	LastSyncAt    *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// FullName returns the owner/name form used by the remote API and by
// webhook payloads.
func (r *TrackedRepository) FullName() string {
	return r.Owner + "/" + r.Name
}
