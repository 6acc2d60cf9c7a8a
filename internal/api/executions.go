package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
)

func (api *API) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.listExecutions(w, r)
	case http.MethodPost:
		api.submitExecution(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	execs, err := api.store.GetRecentExecutions(limit)
	if err != nil {
		log.Printf("Error listing executions: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// submitExecution accepts either raw script text or a cataloged script
// reference. Referenced scripts are fetched by value through the gateway
// so the execution is independent of later catalog changes.
func (api *API) submitExecution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptID   *int64            `json:"script_id,omitempty"`
		Content    string            `json:"content,omitempty"`
		Name       string            `json:"name,omitempty"`
		Parameters map[string]string `json:"parameters,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	content := req.Content
	name := req.Name

	if req.ScriptID != nil {
		script, err := api.store.GetScript(*req.ScriptID)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Script not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("Error loading script %d: %v", *req.ScriptID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		repo, err := api.store.GetRepository(script.RepositoryID)
		if err != nil {
			log.Printf("Error loading repository %d: %v", script.RepositoryID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		content, err = api.github.GetFileContent(r.Context(), repo.Owner, repo.Name, script.Path, script.Branch)
		if err != nil {
			log.Printf("Error fetching script %d content: %v", *req.ScriptID, err)
			http.Error(w, "Failed to fetch script content", http.StatusBadGateway)
			return
		}
		if name == "" {
			name = script.Path
		}
	}

	if content == "" {
		http.Error(w, "content or script_id is required", http.StatusBadRequest)
		return
	}

	id, err := api.executor.Submit(content, req.ScriptID, name, req.Parameters)
	if err != nil {
		log.Printf("Error submitting execution: %v", err)
		http.Error(w, "Failed to submit execution", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

func (api *API) handleExecution(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/api/v1/executions/"):]

	if rest == "running" {
		api.listRunning(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Execution ID required", http.StatusBadRequest)
		return
	}

	if action == "metrics" {
		api.executionMetrics(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		exec, err := api.executor.GetStatus(id)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("Error getting execution %s: %v", id, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, exec)

	case http.MethodDelete:
		respondJSON(w, http.StatusOK, map[string]bool{"cancelled": api.executor.Cancel(id)})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) listRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := api.executor.ListRunning()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running": ids,
		"count":   len(ids),
	})
}

func (api *API) executionMetrics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metrics, err := api.executor.GetMetrics(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting metrics for %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// handleValidate analyzes a script without executing it.
func (api *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ScriptID *int64 `json:"script_id,omitempty"`
		Content  string `json:"content,omitempty"`
		Name     string `json:"name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ScriptID != nil {
		result, err := api.executor.ValidateCataloged(*req.ScriptID)
		if err != nil {
			log.Printf("Error validating script %d: %v", *req.ScriptID, err)
			http.Error(w, "Validation failed", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	if req.Content == "" {
		http.Error(w, "content or script_id is required", http.StatusBadRequest)
		return
	}

	result, err := api.executor.ValidateText(r.Context(), req.Content, req.Name)
	if err != nil {
		log.Printf("Error validating script: %v", err)
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
