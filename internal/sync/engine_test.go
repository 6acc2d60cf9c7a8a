package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metorial/scriptforge/internal/analyzer"
	"github.com/metorial/scriptforge/internal/gateway"
	"github.com/metorial/scriptforge/internal/models"
	"github.com/metorial/scriptforge/internal/store"
	"github.com/metorial/scriptforge/internal/webhook"
)

// fakeRepoClient serves a scripted tree and content map. A hold channel,
// when set, blocks content fetches until released so tests can observe
// an in-flight sync.
type fakeRepoClient struct {
	mu      sync.Mutex
	files   []gateway.TreeEntry
	content map[string]string
	hold    chan struct{}
	fetches int
}

func (c *fakeRepoClient) GetRepository(ctx context.Context, owner, name string) (*gateway.Repository, error) {
	return &gateway.Repository{FullName: owner + "/" + name, DefaultBranch: "main"}, nil
}

func (c *fakeRepoClient) ListScriptFiles(ctx context.Context, owner, name, branch, extension string) ([]gateway.TreeEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]gateway.TreeEntry(nil), c.files...), nil
}

func (c *fakeRepoClient) GetFileContent(ctx context.Context, owner, name, path, ref string) (string, error) {
	c.mu.Lock()
	hold := c.hold
	c.fetches++
	content, ok := c.content[path]
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", fmt.Errorf("no such file %s", path)
	}
	return content, nil
}

func (c *fakeRepoClient) setFiles(files []gateway.TreeEntry, content map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = files
	c.content = content
}

func setupTestEngine(t *testing.T) (*Engine, *store.Store, *fakeRepoClient, int64) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	repoID, err := st.CreateRepository(&models.TrackedRepository{
		Owner:         "metorial",
		Name:          "ops-scripts",
		DefaultBranch: "main",
	})
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	client := &fakeRepoClient{content: map[string]string{}}
	return NewEngine(st, client, analyzer.Noop{}), st, client, repoID
}

func TestSyncOneAddsScripts(t *testing.T) {
	engine, st, client, repoID := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a"},
		{Path: "b.ps1", Type: "blob", SHA: "sha-b"},
	}, map[string]string{
		"a.ps1": "Write-Host 'a'",
		"b.ps1": "Write-Host 'b'",
	})

	run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
	if err != nil {
		t.Fatalf("SyncOne failed: %v", err)
	}
	if run.Status != models.SyncCompleted {
		t.Fatalf("Expected completed, got %s (%s)", run.Status, run.Error)
	}
	if run.Added != 2 || run.Updated != 0 || run.Removed != 0 || run.Processed != 2 {
		t.Errorf("Unexpected counts: added=%d updated=%d removed=%d processed=%d",
			run.Added, run.Updated, run.Removed, run.Processed)
	}

	scripts, err := st.GetScriptsByRepository(repoID)
	if err != nil {
		t.Fatalf("Failed to list scripts: %v", err)
	}
	if len(scripts) != 2 {
		t.Errorf("Expected 2 cataloged scripts, got %d", len(scripts))
	}

	repo, err := st.GetRepository(repoID)
	if err != nil {
		t.Fatalf("Failed to reload repository: %v", err)
	}
	if repo.LastSyncAt == nil {
		t.Error("Expected last sync timestamp after completed run")
	}
}

func TestSyncOneReconcilesChanges(t *testing.T) {
	engine, _, client, repoID := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
		{Path: "b.ps1", Type: "blob", SHA: "sha-b1"},
	}, map[string]string{"a.ps1": "v1", "b.ps1": "v1"})

	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	// a.ps1 unchanged, b.ps1 gone, c.ps1 new.
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
		{Path: "c.ps1", Type: "blob", SHA: "sha-c1"},
	}, map[string]string{"a.ps1": "v1", "c.ps1": "v1"})

	run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if run.Added != 1 || run.Updated != 0 || run.Removed != 1 || run.Processed != 2 {
		t.Errorf("Unexpected counts: added=%d updated=%d removed=%d processed=%d",
			run.Added, run.Updated, run.Removed, run.Processed)
	}
}

func TestSyncOneDetectsContentUpdate(t *testing.T) {
	engine, _, client, repoID := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a2"},
	}, map[string]string{"a.ps1": "v2"})

	run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if run.Added != 0 || run.Updated != 1 || run.Removed != 0 {
		t.Errorf("Unexpected counts: added=%d updated=%d removed=%d",
			run.Added, run.Updated, run.Removed)
	}
}

func TestSyncOneIdempotent(t *testing.T) {
	engine, _, client, repoID := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
	if err != nil {
		t.Fatalf("Repeat sync failed: %v", err)
	}
	if run.Added != 0 || run.Updated != 0 || run.Removed != 0 {
		t.Errorf("Expected no changes on repeat sync: added=%d updated=%d removed=%d",
			run.Added, run.Updated, run.Removed)
	}
	if run.Processed != 1 {
		t.Errorf("Expected unchanged file still counted processed, got %d", run.Processed)
	}
}

func TestSyncOneMutualExclusion(t *testing.T) {
	engine, _, client, repoID := setupTestEngine(t)
	hold := make(chan struct{})
	client.hold = hold
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	first := make(chan error, 1)
	go func() {
		_, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
		first <- err
	}()

	waitFor(t, func() bool { return engine.active.has(repoID) })

	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress for concurrent attempt, got %v", err)
	}

	close(hold)
	if err := <-first; err != nil {
		t.Fatalf("First sync failed: %v", err)
	}

	// The slot frees once the first run finishes.
	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); err != nil {
		t.Errorf("Expected sync to succeed after first finished, got %v", err)
	}
}

func TestSyncOneCancellation(t *testing.T) {
	engine, _, client, repoID := setupTestEngine(t)
	hold := make(chan struct{})
	client.hold = hold
	defer close(hold)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	done := make(chan *models.SyncRun, 1)
	go func() {
		run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
		if err != nil {
			t.Errorf("SyncOne returned error: %v", err)
		}
		done <- run
	}()

	waitFor(t, func() bool { return engine.active.has(repoID) })

	if !engine.Cancel(repoID) {
		t.Fatal("Expected Cancel to find an in-flight sync")
	}

	select {
	case run := <-done:
		if run.Status != models.SyncCancelled {
			t.Errorf("Expected cancelled status, got %s", run.Status)
		}
		if run.CompletedAt == nil {
			t.Error("Expected completed_at on cancelled run")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Cancelled sync did not finish")
	}

	if engine.active.has(repoID) {
		t.Error("Expected registry entry removed after cancellation")
	}

	status, err := engine.GetStatus(repoID)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if status.Syncing {
		t.Error("Expected syncing false after cancellation")
	}
	if status.LastRun == nil || status.LastRun.Status != models.SyncCancelled {
		t.Errorf("Expected cancelled last run, got %+v", status.LastRun)
	}
}

func TestSyncOneRejectsDisabledRepository(t *testing.T) {
	engine, st, _, repoID := setupTestEngine(t)
	if err := st.SetRepositoryStatus(repoID, models.RepositoryDisabled); err != nil {
		t.Fatalf("Failed to disable repository: %v", err)
	}

	if _, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual); err == nil {
		t.Error("Expected error syncing a disabled repository")
	}
}

func TestSyncOneSkipsUnfetchableFile(t *testing.T) {
	engine, st, client, repoID := setupTestEngine(t)
	// The tree lists a file with no fetchable content: the run skips it
	// and still completes.
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{})

	run, err := engine.SyncOne(context.Background(), repoID, models.TriggerManual)
	if err != nil {
		t.Fatalf("SyncOne failed: %v", err)
	}
	if run.Status != models.SyncCompleted {
		t.Errorf("Expected completed run with skipped file, got %s", run.Status)
	}
	if run.Added != 0 {
		t.Errorf("Expected no additions for unfetchable file, got %d", run.Added)
	}

	scripts, err := st.GetScriptsByRepository(repoID)
	if err != nil {
		t.Fatalf("Failed to list scripts: %v", err)
	}
	if len(scripts) != 0 {
		t.Errorf("Expected empty catalog, got %d scripts", len(scripts))
	}
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	engine, st, client, repoID := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	otherID, err := st.CreateRepository(&models.TrackedRepository{
		Owner:         "metorial",
		Name:          "infra-scripts",
		DefaultBranch: "main",
	})
	if err != nil {
		t.Fatalf("Failed to create second repository: %v", err)
	}

	results, err := engine.SyncAll(context.Background(), models.TriggerManual)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	byID := make(map[int64]Result)
	for _, r := range results {
		byID[r.RepositoryID] = r
	}
	if byID[repoID].Run == nil || byID[repoID].Run.Status != models.SyncCompleted {
		t.Errorf("Expected first repository completed, got %+v", byID[repoID])
	}
	if byID[otherID].Run == nil {
		t.Errorf("Expected second repository to produce a run, got %+v", byID[otherID])
	}
}

func TestHandleWebhookEvent(t *testing.T) {
	engine, _, client, _ := setupTestEngine(t)
	client.setFiles([]gateway.TreeEntry{
		{Path: "a.ps1", Type: "blob", SHA: "sha-a1"},
	}, map[string]string{"a.ps1": "v1"})

	ev := &webhook.Event{
		Type:         webhook.EventPush,
		RepoFullName: "metorial/ops-scripts",
		Branch:       "main",
	}
	run, err := engine.HandleWebhookEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleWebhookEvent failed: %v", err)
	}
	if run.Trigger != models.TriggerWebhook {
		t.Errorf("Expected webhook trigger, got %s", run.Trigger)
	}
	if run.Status != models.SyncCompleted {
		t.Errorf("Expected completed run, got %s", run.Status)
	}
}

func TestHandleWebhookEventUnmanaged(t *testing.T) {
	engine, _, _, _ := setupTestEngine(t)

	ev := &webhook.Event{Type: webhook.EventPush, RepoFullName: "other/repo"}
	if _, err := engine.HandleWebhookEvent(context.Background(), ev); !errors.Is(err, webhook.ErrRepoNotManaged) {
		t.Errorf("Expected ErrRepoNotManaged, got %v", err)
	}
}

func TestHandleWebhookEventDisabledRepository(t *testing.T) {
	engine, st, _, repoID := setupTestEngine(t)
	if err := st.SetRepositoryStatus(repoID, models.RepositoryDisabled); err != nil {
		t.Fatalf("Failed to disable repository: %v", err)
	}

	ev := &webhook.Event{Type: webhook.EventPush, RepoFullName: "metorial/ops-scripts"}
	if _, err := engine.HandleWebhookEvent(context.Background(), ev); !errors.Is(err, webhook.ErrRepoNotManaged) {
		t.Errorf("Expected ErrRepoNotManaged for disabled repository, got %v", err)
	}
}

func TestHandleWebhookEventRecordsSkipped(t *testing.T) {
	engine, _, _, repoID := setupTestEngine(t)

	// Tag ref events reach the engine when a caller bypasses the service
	// classification; they are recorded as skipped runs.
	ev := &webhook.Event{
		Type:         webhook.EventCreate,
		RepoFullName: "metorial/ops-scripts",
		TagRef:       true,
	}
	run, err := engine.HandleWebhookEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleWebhookEvent failed: %v", err)
	}
	if run.Status != models.SyncSkipped {
		t.Errorf("Expected skipped run, got %s", run.Status)
	}

	history, err := engine.GetHistory(repoID, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.SyncSkipped {
		t.Errorf("Expected one skipped run in history, got %+v", history)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestStalePathsSorted(t *testing.T) {
	existing := map[string]*models.CatalogedScript{
		"tools/z-rotate.ps1": {ID: 1},
		"deploy/apply.ps1":   {ID: 2},
		"tools/audit.ps1":    {ID: 3},
	}
	remote := map[string]bool{"tools/audit.ps1": true}

	got := stalePaths(existing, remote)
	want := []string{"deploy/apply.ps1", "tools/z-rotate.ps1"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d stale paths, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected stale path %q at %d, got %q", want[i], i, got[i])
		}
	}
}
