// Package analyzer defines the contract with the external script
// analyzer. The core never inspects script content itself; it consumes
// the analyzer's structured findings.
package analyzer

import (
	"context"

	"github.com/metorial/scriptforge/internal/models"
)

type Analyzer interface {
	ParseMetadata(ctx context.Context, content, name string) (*models.ScriptMetadata, error)
	AnalyzeSecurity(ctx context.Context, content string) (*models.SecurityReport, error)
	ExtractDependencies(ctx context.Context, content string) ([]string, error)
}

// Noop is the fallback used when no analyzer endpoint is configured. It
// returns empty findings and never touches the content.
type Noop struct{}

func (Noop) ParseMetadata(ctx context.Context, content, name string) (*models.ScriptMetadata, error) {
	return &models.ScriptMetadata{Synopsis: name}, nil
}

func (Noop) AnalyzeSecurity(ctx context.Context, content string) (*models.SecurityReport, error) {
	return &models.SecurityReport{RiskLevel: "unknown"}, nil
}

func (Noop) ExtractDependencies(ctx context.Context, content string) ([]string, error) {
	return nil, nil
}
