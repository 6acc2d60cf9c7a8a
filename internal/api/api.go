// Package api is the operator-facing HTTP surface plus the inbound
// webhook endpoint.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/metorial/scriptforge/internal/executor"
	"github.com/metorial/scriptforge/internal/gateway"
	"github.com/metorial/scriptforge/internal/models"
	"github.com/metorial/scriptforge/internal/store"
	syncengine "github.com/metorial/scriptforge/internal/sync"
	"github.com/metorial/scriptforge/internal/webhook"
)

type API struct {
	store    *store.Store
	syncer   *syncengine.Engine
	executor *executor.Engine
	webhooks *webhook.Service
	github   *gateway.GitHubClient

	hookCallback string
	hookSecret   string
}

func New(st *store.Store, syncer *syncengine.Engine, exec *executor.Engine, hooks *webhook.Service, gh *gateway.GitHubClient) *API {
	return &API{
		store:    st,
		syncer:   syncer,
		executor: exec,
		webhooks: hooks,
		github:   gh,
	}
}

// ConfigureWebhookProvisioning makes repository registration create the
// inbound hook on the remote when it is missing.
func (api *API) ConfigureWebhookProvisioning(callbackURL, secret string) {
	api.hookCallback = callbackURL
	api.hookSecret = secret
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/health", api.handleHealth)
	mux.HandleFunc("/api/v1/repos", api.handleRepos)
	mux.HandleFunc("/api/v1/repos/", api.handleRepo)
	mux.HandleFunc("/api/v1/sync", api.handleSyncAll)
	mux.HandleFunc("/api/v1/scripts/", api.handleScript)
	mux.HandleFunc("/api/v1/executions", api.handleExecutions)
	mux.HandleFunc("/api/v1/executions/", api.handleExecution)
	mux.HandleFunc("/api/v1/validate", api.handleValidate)
	mux.HandleFunc("/api/v1/webhooks/github", api.handleWebhook)
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := api.store.Ping(); err != nil {
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	repos, err := api.store.GetAllRepositories()
	if err != nil {
		log.Printf("Error counting repositories: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"database":     "connected",
		"repositories": len(repos),
		"running":      len(api.executor.ListRunning()),
	})
}

func (api *API) handleRepos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		repos, err := api.store.GetAllRepositories()
		if err != nil {
			log.Printf("Error listing repositories: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"repositories": repos,
			"count":        len(repos),
		})

	case http.MethodPost:
		api.registerRepo(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// registerRepo validates the owner/name pair and confirms the remote
// repository exists before tracking it.
func (api *API) registerRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	owner, name, ok := strings.Cut(req.FullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		http.Error(w, "full_name must be owner/name", http.StatusBadRequest)
		return
	}

	remote, err := api.github.GetRepository(r.Context(), owner, name)
	if err != nil {
		log.Printf("Error verifying repository %s: %v", req.FullName, err)
		http.Error(w, "Repository not reachable on remote", http.StatusBadGateway)
		return
	}

	branch := req.DefaultBranch
	if branch == "" {
		branch = remote.DefaultBranch
	}

	repo := &models.TrackedRepository{
		Owner:         owner,
		Name:          name,
		DefaultBranch: branch,
	}
	repo.ID, err = api.store.CreateRepository(repo)
	if err != nil {
		log.Printf("Error creating repository %s: %v", req.FullName, err)
		http.Error(w, "Failed to register repository", http.StatusInternalServerError)
		return
	}

	created, err := api.store.GetRepository(repo.ID)
	if err != nil {
		log.Printf("Error reloading repository %d: %v", repo.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if api.hookCallback != "" {
		if err := api.ensureRemoteWebhook(r.Context(), owner, name); err != nil {
			log.Printf("Warning: could not provision webhook for %s: %v", req.FullName, err)
		}
	}

	respondJSON(w, http.StatusCreated, created)
}

// ensureRemoteWebhook creates the inbound hook on the remote repository
// unless one already points at the configured callback.
func (api *API) ensureRemoteWebhook(ctx context.Context, owner, name string) error {
	hooks, err := api.github.ListWebhooks(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.Config["url"] == api.hookCallback {
			return nil
		}
	}
	_, err = api.github.CreateWebhook(ctx, owner, name, api.hookCallback, api.hookSecret,
		[]string{"push", "pull_request", "create", "delete", "repository"})
	return err
}

// removeRemoteWebhook deletes the hook pointing at the configured
// callback, if the remote has one.
func (api *API) removeRemoteWebhook(ctx context.Context, owner, name string) error {
	hooks, err := api.github.ListWebhooks(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.Config["url"] == api.hookCallback {
			return api.github.DeleteWebhook(ctx, owner, name, hook.ID)
		}
	}
	return nil
}

func (api *API) handleRepo(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/api/v1/repos/"):]
	idPart, action, _ := strings.Cut(rest, "/")

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		http.Error(w, "Repository ID required", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		api.getRepo(w, r, id)
	case "sync":
		api.repoSync(w, r, id)
	case "status":
		api.repoStatus(w, r, id)
	case "history":
		api.repoHistory(w, r, id)
	case "scripts":
		api.repoScripts(w, r, id)
	case "disable":
		api.setRepoStatus(w, r, id, models.RepositoryDisabled)
	case "enable":
		api.setRepoStatus(w, r, id, models.RepositoryActive)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (api *API) getRepo(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repo, err := api.store.GetRepository(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Repository not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting repository %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, repo)
}

func (api *API) repoSync(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodPost:
		run, err := api.syncer.SyncOne(r.Context(), id, models.TriggerManual)
		if errors.Is(err, syncengine.ErrSyncInProgress) {
			respondJSON(w, http.StatusConflict, map[string]string{
				"error": "sync already running",
			})
			return
		}
		if err != nil {
			log.Printf("Error syncing repository %d: %v", id, err)
			http.Error(w, "Sync failed", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, run)

	case http.MethodDelete:
		cancelled := api.syncer.Cancel(id)
		respondJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) repoStatus(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := api.syncer.GetStatus(id)
	if err != nil {
		log.Printf("Error getting sync status for %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (api *API) repoHistory(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	runs, err := api.syncer.GetHistory(id, limit)
	if err != nil {
		log.Printf("Error getting sync history for %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (api *API) repoScripts(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scripts, err := api.store.GetScriptsByRepository(id)
	if err != nil {
		log.Printf("Error getting scripts for repository %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scripts": scripts,
		"count":   len(scripts),
	})
}

func (api *API) setRepoStatus(w http.ResponseWriter, r *http.Request, id int64, status models.RepositoryStatus) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repo, err := api.store.GetRepository(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Repository not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error loading repository %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := api.store.SetRepositoryStatus(id, status); err != nil {
		log.Printf("Error setting repository %d status: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if status == models.RepositoryDisabled && api.hookCallback != "" {
		if err := api.removeRemoteWebhook(r.Context(), repo.Owner, repo.Name); err != nil {
			log.Printf("Warning: could not remove webhook for %s: %v", repo.FullName(), err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (api *API) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// SyncAll fans out per repository; the request context would cancel
	// every sync when the client disconnects, so the fan-out runs on the
	// server's own context.
	results, err := api.syncer.SyncAll(context.Background(), models.TriggerManual)
	if err != nil {
		log.Printf("Error syncing all repositories: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (api *API) handleScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.URL.Path[len("/api/v1/scripts/"):], 10, 64)
	if err != nil {
		http.Error(w, "Script ID required", http.StatusBadRequest)
		return
	}

	script, err := api.store.GetScript(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Script not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting script %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, script)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
