package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/metorial/scriptforge/internal/models"
)

// ValidateText analyzes script content without ever executing it. Safe
// to call for untrusted scripts.
func (e *Engine) ValidateText(ctx context.Context, content, name string) (*models.ValidationResult, error) {
	if content == "" {
		return nil, fmt.Errorf("script content is required")
	}

	result := &models.ValidationResult{Valid: true}

	meta, err := e.analyzer.ParseMetadata(ctx, content, name)
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	result.Metadata = *meta

	if deps, err := e.analyzer.ExtractDependencies(ctx, content); err == nil {
		result.Metadata.Dependencies = deps
	}

	report, err := e.analyzer.AnalyzeSecurity(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("analyze security: %w", err)
	}
	result.RiskLevel = report.RiskLevel
	result.Issues = report.Issues
	result.RequiresElevation = report.RequiresElevation

	return result, nil
}

// ValidateCataloged reports the findings already recorded for a
// cataloged script, without refetching or executing anything.
func (e *Engine) ValidateCataloged(scriptID int64) (*models.ValidationResult, error) {
	sc, err := e.store.GetScript(scriptID)
	if err != nil {
		return nil, fmt.Errorf("load script %d: %w", scriptID, err)
	}

	result := &models.ValidationResult{Valid: true}

	if sc.Metadata != "" {
		if err := json.Unmarshal([]byte(sc.Metadata), &result.Metadata); err != nil {
			result.Message = "stored metadata is unreadable"
		}
	}
	if sc.Security != "" {
		var report models.SecurityReport
		if err := json.Unmarshal([]byte(sc.Security), &report); err == nil {
			result.RiskLevel = report.RiskLevel
			result.Issues = report.Issues
			result.RequiresElevation = report.RequiresElevation
		}
	}
	if result.RiskLevel == "" {
		result.RiskLevel = "unknown"
	}

	return result, nil
}
