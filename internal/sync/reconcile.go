package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/metorial/scriptforge/internal/models"
	"github.com/metorial/scriptforge/internal/store"
)

// reconcile compares the remote tree at the default branch against the
// catalog and applies additions, updates and removals. A failure on one
// file is logged and skipped; it never aborts the run. Cancellation is
// observed at every file boundary.
func (e *Engine) reconcile(ctx context.Context, repo *models.TrackedRepository, run *models.SyncRun) error {
	files, err := e.client.ListScriptFiles(ctx, repo.Owner, repo.Name, repo.DefaultBranch, scriptExtension)
	if err != nil {
		return fmt.Errorf("list remote scripts: %w", err)
	}

	cataloged, err := e.store.GetScriptsByRepository(repo.ID)
	if err != nil {
		return fmt.Errorf("load cataloged scripts: %w", err)
	}
	existing := make(map[string]*models.CatalogedScript, len(cataloged))
	for i := range cataloged {
		sc := &cataloged[i]
		if sc.Branch == repo.DefaultBranch {
			existing[sc.Path] = sc
		}
	}

	remote := make(map[string]bool, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote[file.Path] = true

		current, known := existing[file.Path]
		if known && current.SHA == file.SHA {
			if err := e.countProcessed(run); err != nil {
				return err
			}
			continue
		}

		if err := e.ingestFile(ctx, repo, run, file.Path, file.SHA, known); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Sync %d: skipping %s: %v", run.ID, file.Path, err)
		}
	}

	for _, path := range stalePaths(existing, remote) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.removeScript(run, existing[path].ID); err != nil {
			log.Printf("Sync %d: removing %s: %v", run.ID, path, err)
		}
	}

	return nil
}

// stalePaths returns the cataloged paths no longer present remotely,
// sorted so removals apply in a stable order.
func stalePaths(existing map[string]*models.CatalogedScript, remote map[string]bool) []string {
	var stale []string
	for path := range existing {
		if !remote[path] {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	return stale
}

// ingestFile fetches one remote file, runs the analyzer and writes the
// catalog entry and run counters as a single transaction.
func (e *Engine) ingestFile(ctx context.Context, repo *models.TrackedRepository, run *models.SyncRun, path, sha string, update bool) error {
	content, err := e.client.GetFileContent(ctx, repo.Owner, repo.Name, path, repo.DefaultBranch)
	if err != nil {
		return fmt.Errorf("fetch content: %w", err)
	}

	metadataJSON, securityJSON := e.analyze(ctx, content, path)

	sc := &models.CatalogedScript{
		RepositoryID: repo.ID,
		Path:         path,
		Branch:       repo.DefaultBranch,
		SHA:          sha,
		Metadata:     metadataJSON,
		Security:     securityJSON,
		ModifiedAt:   time.Now(),
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertScript(sc); err != nil {
			return err
		}
		if update {
			return tx.IncrementSyncCounts(run.ID, 1, 0, 1, 0)
		}
		return tx.IncrementSyncCounts(run.ID, 1, 1, 0, 0)
	})
	if err != nil {
		return fmt.Errorf("store script: %w", err)
	}

	run.Processed++
	if update {
		run.Updated++
	} else {
		run.Added++
	}
	return nil
}

func (e *Engine) removeScript(run *models.SyncRun, scriptID int64) error {
	err := e.store.WithTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.DeleteScript(scriptID); err != nil {
			return err
		}
		return tx.IncrementSyncCounts(run.ID, 0, 0, 0, 1)
	})
	if err != nil {
		return err
	}
	run.Removed++
	return nil
}

func (e *Engine) countProcessed(run *models.SyncRun) error {
	err := e.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.IncrementSyncCounts(run.ID, 1, 0, 0, 0)
	})
	if err != nil {
		return fmt.Errorf("count processed: %w", err)
	}
	run.Processed++
	return nil
}

// analyze consults the external analyzer; failures leave the stored
// findings empty rather than failing the file.
func (e *Engine) analyze(ctx context.Context, content, name string) (metadataJSON, securityJSON string) {
	meta, err := e.analyzer.ParseMetadata(ctx, content, name)
	if err != nil {
		log.Printf("Analyzer metadata for %s failed: %v", name, err)
		meta = &models.ScriptMetadata{}
	}
	if deps, err := e.analyzer.ExtractDependencies(ctx, content); err == nil && len(deps) > 0 {
		meta.Dependencies = deps
	}
	if data, err := json.Marshal(meta); err == nil {
		metadataJSON = string(data)
	}

	report, err := e.analyzer.AnalyzeSecurity(ctx, content)
	if err != nil {
		log.Printf("Analyzer security scan for %s failed: %v", name, err)
		return metadataJSON, ""
	}
	if data, err := json.Marshal(report); err == nil {
		securityJSON = string(data)
	}
	return metadataJSON, securityJSON
}
