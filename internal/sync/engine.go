// Package sync reconciles remote script inventories against the local
// catalog, one run per repository at a time.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/metorial/scriptforge/internal/analyzer"
	"github.com/metorial/scriptforge/internal/gateway"
	"github.com/metorial/scriptforge/internal/models"
	"github.com/metorial/scriptforge/internal/store"
	"github.com/metorial/scriptforge/internal/webhook"
)

const scriptExtension = ".ps1"

// ErrSyncInProgress reports a duplicate sync request for a repository
// whose previous run has not finished. Callers poll or retry later.
var ErrSyncInProgress = errors.New("sync already running for repository")

// RepoClient is the slice of the gateway the engine needs.
type RepoClient interface {
	GetRepository(ctx context.Context, owner, name string) (*gateway.Repository, error)
	ListScriptFiles(ctx context.Context, owner, name, branch, extension string) ([]gateway.TreeEntry, error)
	GetFileContent(ctx context.Context, owner, name, path, ref string) (string, error)
}

type Engine struct {
	store    *store.Store
	client   RepoClient
	analyzer analyzer.Analyzer
	active   *registry
}

func NewEngine(st *store.Store, client RepoClient, az analyzer.Analyzer) *Engine {
	return &Engine{
		store:    st,
		client:   client,
		analyzer: az,
		active:   newRegistry(),
	}
}

// SyncOne runs one reconciliation pass for the repository. A second
// concurrent call for the same repository fails fast with
// ErrSyncInProgress; the registry entry is removed on every exit path.
func (e *Engine) SyncOne(ctx context.Context, repositoryID int64, trigger models.SyncTrigger) (*models.SyncRun, error) {
	repo, err := e.store.GetRepository(repositoryID)
	if err != nil {
		return nil, fmt.Errorf("load repository %d: %w", repositoryID, err)
	}
	if repo.Status == models.RepositoryDisabled {
		return nil, fmt.Errorf("repository %s is disabled", repo.FullName())
	}

	runCtx, ok := e.active.add(ctx, repositoryID)
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer e.active.remove(repositoryID)

	run := &models.SyncRun{
		RepositoryID: repositoryID,
		Trigger:      trigger,
		Status:       models.SyncRunning,
		StartedAt:    time.Now(),
	}
	run.ID, err = e.store.CreateSyncRun(run)
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	log.Printf("Sync %d started for %s (%s)", run.ID, repo.FullName(), trigger)

	reconcileErr := e.reconcile(runCtx, repo, run)
	return e.finalize(repo, run, reconcileErr)
}

// finalize writes the terminal sync state and the repository's last-sync
// timestamp as one transaction.
func (e *Engine) finalize(repo *models.TrackedRepository, run *models.SyncRun, reconcileErr error) (*models.SyncRun, error) {
	now := time.Now()
	run.CompletedAt = &now

	switch {
	case reconcileErr == nil:
		run.Status = models.SyncCompleted
	case errors.Is(reconcileErr, context.Canceled):
		run.Status = models.SyncCancelled
		run.Error = "sync cancelled"
	default:
		run.Status = models.SyncFailed
		run.Error = reconcileErr.Error()
	}

	err := e.store.WithTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.FinalizeSyncRun(run.ID, run.Status, run.Error, now); err != nil {
			return fmt.Errorf("finalize sync run: %w", err)
		}
		switch run.Status {
		case models.SyncCompleted:
			if err := tx.TouchRepositorySync(repo.ID, now); err != nil {
				return fmt.Errorf("touch repository: %w", err)
			}
			return tx.SetRepositoryStatus(repo.ID, models.RepositoryActive)
		case models.SyncFailed:
			return tx.SetRepositoryStatus(repo.ID, models.RepositorySyncFailed)
		}
		return nil
	})
	if err != nil {
		log.Printf("Error recording sync %d outcome: %v", run.ID, err)
	}

	log.Printf("Sync %d for %s finished %s: %d processed, %d added, %d updated, %d removed",
		run.ID, repo.FullName(), run.Status, run.Processed, run.Added, run.Updated, run.Removed)

	return run, nil
}

// Result is one repository's outcome inside a SyncAll fan-out.
type Result struct {
	RepositoryID int64           `json:"repository_id"`
	FullName     string          `json:"full_name"`
	Run          *models.SyncRun `json:"run,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// SyncAll syncs every active repository concurrently. One repository's
// failure never cancels the others.
func (e *Engine) SyncAll(ctx context.Context, trigger models.SyncTrigger) ([]Result, error) {
	repos, err := e.store.GetActiveRepositories()
	if err != nil {
		return nil, fmt.Errorf("list active repositories: %w", err)
	}

	results := make([]Result, len(repos))
	done := make(chan struct{})
	for i, repo := range repos {
		go func(i int, repo models.TrackedRepository) {
			defer func() { done <- struct{}{} }()
			result := Result{RepositoryID: repo.ID, FullName: repo.FullName()}
			run, err := e.SyncOne(ctx, repo.ID, trigger)
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Run = run
			}
			results[i] = result
		}(i, repo)
	}
	for range repos {
		<-done
	}

	return results, nil
}

// HandleWebhookEvent is the sync entry point for verified inbound events.
// Events outside the trigger set are recorded as Skipped runs without
// reconciliation.
func (e *Engine) HandleWebhookEvent(ctx context.Context, ev *webhook.Event) (*models.SyncRun, error) {
	repo, err := e.store.GetRepositoryByFullName(ev.RepoFullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrRepoNotManaged
	}
	if err != nil {
		return nil, fmt.Errorf("lookup repository %s: %w", ev.RepoFullName, err)
	}
	if repo.Status == models.RepositoryDisabled {
		return nil, webhook.ErrRepoNotManaged
	}

	if !ev.SyncTrigger() {
		return e.recordSkipped(repo.ID)
	}

	// A webhook sync performs the same full reconciliation as a manual
	// one; the counts reflect whatever actually changed.
	return e.SyncOne(ctx, repo.ID, models.TriggerWebhook)
}

func (e *Engine) recordSkipped(repositoryID int64) (*models.SyncRun, error) {
	now := time.Now()
	run := &models.SyncRun{
		RepositoryID: repositoryID,
		Trigger:      models.TriggerWebhook,
		Status:       models.SyncRunning,
		StartedAt:    now,
	}
	var err error
	run.ID, err = e.store.CreateSyncRun(run)
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	run.Status = models.SyncSkipped
	run.CompletedAt = &now
	err = e.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.FinalizeSyncRun(run.ID, models.SyncSkipped, "", now)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize sync run: %w", err)
	}
	return run, nil
}

// Status describes a repository's sync position: whether a run is in
// flight plus the most recent recorded run.
type Status struct {
	RepositoryID int64           `json:"repository_id"`
	Syncing      bool            `json:"syncing"`
	LastRun      *models.SyncRun `json:"last_run,omitempty"`
}

func (e *Engine) GetStatus(repositoryID int64) (*Status, error) {
	status := &Status{
		RepositoryID: repositoryID,
		Syncing:      e.active.has(repositoryID),
	}
	run, err := e.store.GetLatestSyncRun(repositoryID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load latest sync run: %w", err)
	}
	status.LastRun = run
	return status, nil
}

func (e *Engine) GetHistory(repositoryID int64, limit int) ([]models.SyncRun, error) {
	return e.store.GetSyncHistory(repositoryID, limit)
}

// Cancel signals the in-flight sync for the repository, if any.
func (e *Engine) Cancel(repositoryID int64) bool {
	return e.active.cancel(repositoryID)
}
