package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestGitHub(t *testing.T, handler http.Handler) (*GitHubClient, *RateBudget) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	budget := NewRateBudget(5000)
	client := NewGitHubClient("test-token", New(budget), WithBaseURL(server.URL))
	return client, budget
}

func TestGetRepository(t *testing.T) {
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/metorial/ops-scripts" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(Repository{
			FullName:      "metorial/ops-scripts",
			DefaultBranch: "main",
		})
	}))

	repo, err := client.GetRepository(context.Background(), "metorial", "ops-scripts")
	if err != nil {
		t.Fatalf("GetRepository failed: %v", err)
	}
	if repo.DefaultBranch != "main" {
		t.Errorf("Expected default branch main, got %s", repo.DefaultBranch)
	}
}

func TestGetRepositoryNotFound(t *testing.T) {
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	_, err := client.GetRepository(context.Background(), "nobody", "nothing")
	if err == nil {
		t.Fatal("Expected error for missing repository")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestListBranches(t *testing.T) {
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/metorial/ops-scripts/branches" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Branch{{Name: "main"}, {Name: "release/1.2"}})
	}))

	branches, err := client.ListBranches(context.Background(), "metorial", "ops-scripts")
	if err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if len(branches) != 2 || branches[0].Name != "main" {
		t.Errorf("Unexpected branches %+v", branches)
	}
}

func TestListScriptFilesFiltersTree(t *testing.T) {
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tree": []TreeEntry{
				{Path: "deploy/restart.ps1", Type: "blob", SHA: "aaa"},
				{Path: "README.md", Type: "blob", SHA: "bbb"},
				{Path: "deploy", Type: "tree", SHA: "ccc"},
				{Path: "Tools/Audit.PS1", Type: "blob", SHA: "ddd"},
			},
			"truncated": false,
		})
	}))

	files, err := client.ListScriptFiles(context.Background(), "metorial", "ops-scripts", "main", ".ps1")
	if err != nil {
		t.Fatalf("ListScriptFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 script files, got %d", len(files))
	}
	if files[0].Path != "deploy/restart.ps1" || files[1].Path != "Tools/Audit.PS1" {
		t.Errorf("Unexpected files: %+v", files)
	}
}

func TestListScriptFilesRejectsTruncatedTree(t *testing.T) {
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tree":      []TreeEntry{},
			"truncated": true,
		})
	}))

	_, err := client.ListScriptFiles(context.Background(), "metorial", "ops-scripts", "main", ".ps1")
	if err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Errorf("Expected truncation error, got %v", err)
	}
}

func TestGetFileContent(t *testing.T) {
	script := "Write-Host 'hello'\n"
	client, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/repos/metorial/ops-scripts/contents/") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(script)),
			"encoding": "base64",
		})
	}))

	got, err := client.GetFileContent(context.Background(), "metorial", "ops-scripts", "deploy/restart.ps1", "main")
	if err != nil {
		t.Fatalf("GetFileContent failed: %v", err)
	}
	if got != script {
		t.Errorf("Expected %q, got %q", script, got)
	}
}

func TestRateLimitHeadersUpdateBudget(t *testing.T) {
	reset := time.Now().Add(20 * time.Minute).Unix()
	client, budget := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "123")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		json.NewEncoder(w).Encode(Repository{FullName: "metorial/ops-scripts"})
	}))

	if _, err := client.GetRepository(context.Background(), "metorial", "ops-scripts"); err != nil {
		t.Fatalf("GetRepository failed: %v", err)
	}

	remaining, ceiling, resetAt := budget.Snapshot()
	if remaining != 123 {
		t.Errorf("Expected remaining 123 from headers, got %d", remaining)
	}
	if ceiling != 5000 {
		t.Errorf("Expected ceiling 5000 from headers, got %d", ceiling)
	}
	if resetAt.Unix() != reset {
		t.Errorf("Expected reset %d, got %d", reset, resetAt.Unix())
	}
}
