package models

import "time"

// CatalogedScript mirrors one script file from a tracked repository.
// At most one row exists per (repository, path, branch).
type CatalogedScript struct {
	ID           int64     `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	Path         string    `json:"path"`
	Branch       string    `json:"branch"`
	SHA          string    `json:"sha"`
	Metadata     string    `json:"metadata,omitempty"`
	Security     string    `json:"security,omitempty"`
	ModifiedAt   time.Time `json:"modified_at"`
	CreatedAt    time.Time `json:"created_at"`
}

type ScriptMetadata struct {
	Synopsis     string            `json:"synopsis,omitempty"`
	Parameters   []ScriptParameter `json:"parameters,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

type ScriptParameter struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Mandatory bool   `json:"mandatory"`
	Default   string `json:"default,omitempty"`
}

type SecurityReport struct {
	RiskLevel         string   `json:"risk_level"`
	Issues            []string `json:"issues,omitempty"`
	RequiresElevation bool     `json:"requires_elevation"`
}
