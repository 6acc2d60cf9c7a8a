package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/metorial/scriptforge/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func createTestRepo(t *testing.T, st *Store) int64 {
	t.Helper()
	id, err := st.CreateRepository(&models.TrackedRepository{
		Owner:         "metorial",
		Name:          "ops-scripts",
		DefaultBranch: "main",
	})
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	return id
}

func TestOpen(t *testing.T) {
	st := setupTestStore(t)
	if err := st.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestCreateAndGetRepository(t *testing.T) {
	st := setupTestStore(t)
	id := createTestRepo(t, st)

	repo, err := st.GetRepository(id)
	if err != nil {
		t.Fatalf("Failed to get repository: %v", err)
	}

	if repo.FullName() != "metorial/ops-scripts" {
		t.Errorf("Expected full name metorial/ops-scripts, got %s", repo.FullName())
	}
	if repo.Status != models.RepositoryActive {
		t.Errorf("Expected active status, got %s", repo.Status)
	}
	if repo.LastSyncAt != nil {
		t.Error("Expected nil last sync on a new repository")
	}
}

func TestGetRepositoryByFullName(t *testing.T) {
	st := setupTestStore(t)
	createTestRepo(t, st)

	repo, err := st.GetRepositoryByFullName("metorial/ops-scripts")
	if err != nil {
		t.Fatalf("Failed to get repository by full name: %v", err)
	}
	if repo.Owner != "metorial" {
		t.Errorf("Expected owner metorial, got %s", repo.Owner)
	}

	if _, err := st.GetRepositoryByFullName("nobody/nothing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected ErrNoRows for unknown repository, got %v", err)
	}

	if _, err := st.GetRepositoryByFullName("malformed"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected ErrNoRows for malformed name, got %v", err)
	}
}

func TestDuplicateRepository(t *testing.T) {
	st := setupTestStore(t)
	createTestRepo(t, st)

	_, err := st.CreateRepository(&models.TrackedRepository{
		Owner:         "metorial",
		Name:          "ops-scripts",
		DefaultBranch: "main",
	})
	if err == nil {
		t.Error("Expected unique constraint error for duplicate repository")
	}
}

func TestActiveRepositoriesExcludesDisabled(t *testing.T) {
	st := setupTestStore(t)
	id := createTestRepo(t, st)

	if err := st.SetRepositoryStatus(id, models.RepositoryDisabled); err != nil {
		t.Fatalf("Failed to disable repository: %v", err)
	}

	active, err := st.GetActiveRepositories()
	if err != nil {
		t.Fatalf("Failed to list active repositories: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active repositories, got %d", len(active))
	}

	all, err := st.GetAllRepositories()
	if err != nil {
		t.Fatalf("Failed to list all repositories: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected disabled repository preserved, got %d rows", len(all))
	}
}

func TestUpsertScript(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	sc := &models.CatalogedScript{
		RepositoryID: repoID,
		Path:         "deploy/restart.ps1",
		Branch:       "main",
		SHA:          "abc123",
		Metadata:     `{"synopsis":"restart"}`,
		ModifiedAt:   time.Now(),
	}

	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpsertScript(sc)
	})
	if err != nil {
		t.Fatalf("Failed to insert script: %v", err)
	}

	sc.SHA = "def456"
	err = st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpsertScript(sc)
	})
	if err != nil {
		t.Fatalf("Failed to upsert script: %v", err)
	}

	scripts, err := st.GetScriptsByRepository(repoID)
	if err != nil {
		t.Fatalf("Failed to list scripts: %v", err)
	}
	if len(scripts) != 1 {
		t.Fatalf("Expected one script after upsert, got %d", len(scripts))
	}
	if scripts[0].SHA != "def456" {
		t.Errorf("Expected sha def456 after upsert, got %s", scripts[0].SHA)
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	run := &models.SyncRun{
		RepositoryID: repoID,
		Trigger:      models.TriggerManual,
		Status:       models.SyncRunning,
		StartedAt:    time.Now(),
	}
	id, err := st.CreateSyncRun(run)
	if err != nil {
		t.Fatalf("Failed to create sync run: %v", err)
	}

	now := time.Now()
	err = st.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.IncrementSyncCounts(id, 3, 1, 1, 1); err != nil {
			return err
		}
		return tx.FinalizeSyncRun(id, models.SyncCompleted, "", now)
	})
	if err != nil {
		t.Fatalf("Failed to finalize sync run: %v", err)
	}

	got, err := st.GetSyncRun(id)
	if err != nil {
		t.Fatalf("Failed to get sync run: %v", err)
	}
	if got.Status != models.SyncCompleted {
		t.Errorf("Expected completed status, got %s", got.Status)
	}
	if got.Processed != 3 || got.Added != 1 || got.Updated != 1 || got.Removed != 1 {
		t.Errorf("Unexpected counts: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("Expected completed_at to be set")
	}

	// Finished runs are immutable.
	err = st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.FinalizeSyncRun(id, models.SyncFailed, "late write", time.Now())
	})
	if err != nil {
		t.Fatalf("Finalize of finished run returned error: %v", err)
	}
	got, err = st.GetSyncRun(id)
	if err != nil {
		t.Fatalf("Failed to re-read sync run: %v", err)
	}
	if got.Status != models.SyncCompleted {
		t.Errorf("Finished run was mutated to %s", got.Status)
	}
}

func TestSyncHistoryOrder(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := st.CreateSyncRun(&models.SyncRun{
			RepositoryID: repoID,
			Trigger:      models.TriggerManual,
			Status:       models.SyncCompleted,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Failed to create sync run: %v", err)
		}
	}

	runs, err := st.GetSyncHistory(repoID, 2)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Error("Expected history in reverse chronological order")
	}

	latest, err := st.GetLatestSyncRun(repoID)
	if err != nil {
		t.Fatalf("Failed to get latest run: %v", err)
	}
	if latest.ID != runs[0].ID {
		t.Errorf("Latest run mismatch: %d vs %d", latest.ID, runs[0].ID)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	wantErr := errors.New("boom")
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		sc := &models.CatalogedScript{
			RepositoryID: repoID,
			Path:         "a.ps1",
			Branch:       "main",
			SHA:          "sha1",
			ModifiedAt:   time.Now(),
		}
		if err := tx.UpsertScript(sc); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected wrapped error, got %v", err)
	}

	scripts, err := st.GetScriptsByRepository(repoID)
	if err != nil {
		t.Fatalf("Failed to list scripts: %v", err)
	}
	if len(scripts) != 0 {
		t.Errorf("Expected rollback to discard script insert, found %d rows", len(scripts))
	}
}

func TestExecutionLifecycle(t *testing.T) {
	st := setupTestStore(t)

	exec := &models.Execution{
		ID:        "exec-1",
		Status:    models.ExecutionPending,
		Hostname:  "test-host",
		StartedAt: time.Now(),
	}
	if err := st.CreateExecution(exec); err != nil {
		t.Fatalf("Failed to create execution: %v", err)
	}

	if err := st.SetExecutionStatus("exec-1", models.ExecutionRunning); err != nil {
		t.Fatalf("Failed to set running: %v", err)
	}

	now := time.Now()
	code := 0
	exec.Status = models.ExecutionSucceeded
	exec.ExitCode = &code
	exec.Stdout = "hello"
	exec.CompletedAt = &now
	exec.DurationMS = 42
	if err := st.FinalizeExecution(exec); err != nil {
		t.Fatalf("Failed to finalize execution: %v", err)
	}

	got, err := st.GetExecution("exec-1")
	if err != nil {
		t.Fatalf("Failed to get execution: %v", err)
	}
	if got.Status != models.ExecutionSucceeded {
		t.Errorf("Expected succeeded, got %s", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", got.ExitCode)
	}
	if got.Stdout != "hello" {
		t.Errorf("Expected stdout hello, got %q", got.Stdout)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}

func TestPruneSyncRuns(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	old := time.Now().Add(-48 * time.Hour)
	id, err := st.CreateSyncRun(&models.SyncRun{
		RepositoryID: repoID,
		Trigger:      models.TriggerManual,
		Status:       models.SyncRunning,
		StartedAt:    old,
	})
	if err != nil {
		t.Fatalf("Failed to create sync run: %v", err)
	}
	err = st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.FinalizeSyncRun(id, models.SyncCompleted, "", old)
	})
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}

	if err := st.PruneSyncRuns(24 * time.Hour); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}

	if _, err := st.GetSyncRun(id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected pruned run to be gone, got %v", err)
	}
}

func TestConcurrentWritesAcrossConnections(t *testing.T) {
	st := setupTestStore(t)
	repoID := createTestRepo(t, st)

	runID, err := st.CreateSyncRun(&models.SyncRun{
		RepositoryID: repoID,
		Trigger:      models.TriggerManual,
		Status:       models.SyncRunning,
		StartedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to create sync run: %v", err)
	}

	// Parallel transactions land on different pooled connections; each
	// one must honor the busy timeout instead of failing on contention.
	const workers = 8
	const perWorker = 5
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := st.WithTx(context.Background(), func(tx *Tx) error {
					return tx.IncrementSyncCounts(runID, 1, 0, 0, 0)
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent write failed: %v", err)
	}

	got, err := st.GetSyncRun(runID)
	if err != nil {
		t.Fatalf("Failed to get sync run: %v", err)
	}
	if got.Processed != workers*perWorker {
		t.Errorf("Expected %d processed, got %d", workers*perWorker, got.Processed)
	}
}
