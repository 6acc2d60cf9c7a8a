package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/api/v1/health", nil)
}

func (c *Client) ListRepos() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/api/v1/repos", nil)
}

func (c *Client) GetRepo(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodGet, fmt.Sprintf("/api/v1/repos/%d", id), nil)
}

func (c *Client) AddRepo(fullName, branch string) (map[string]interface{}, error) {
	body := map[string]string{"full_name": fullName}
	if branch != "" {
		body["default_branch"] = branch
	}
	return c.do(http.MethodPost, "/api/v1/repos", body)
}

func (c *Client) SyncRepo(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodPost, fmt.Sprintf("/api/v1/repos/%d/sync", id), nil)
}

func (c *Client) CancelSync(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodDelete, fmt.Sprintf("/api/v1/repos/%d/sync", id), nil)
}

func (c *Client) SyncAll() (map[string]interface{}, error) {
	return c.do(http.MethodPost, "/api/v1/sync", nil)
}

func (c *Client) SyncStatus(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodGet, fmt.Sprintf("/api/v1/repos/%d/status", id), nil)
}

func (c *Client) SyncHistory(id int64, limit int) (map[string]interface{}, error) {
	path := fmt.Sprintf("/api/v1/repos/%d/history", id)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.do(http.MethodGet, path, nil)
}

func (c *Client) ListScripts(repoID int64) (map[string]interface{}, error) {
	return c.do(http.MethodGet, fmt.Sprintf("/api/v1/repos/%d/scripts", repoID), nil)
}

func (c *Client) DisableRepo(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodPost, fmt.Sprintf("/api/v1/repos/%d/disable", id), nil)
}

func (c *Client) EnableRepo(id int64) (map[string]interface{}, error) {
	return c.do(http.MethodPost, fmt.Sprintf("/api/v1/repos/%d/enable", id), nil)
}

func (c *Client) SubmitExecution(scriptID *int64, content, name string, params map[string]string) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if scriptID != nil {
		body["script_id"] = *scriptID
	}
	if content != "" {
		body["content"] = content
	}
	if name != "" {
		body["name"] = name
	}
	if len(params) > 0 {
		body["parameters"] = params
	}
	return c.do(http.MethodPost, "/api/v1/executions", body)
}

func (c *Client) GetExecution(id string) (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/api/v1/executions/"+id, nil)
}

func (c *Client) CancelExecution(id string) (map[string]interface{}, error) {
	return c.do(http.MethodDelete, "/api/v1/executions/"+id, nil)
}

func (c *Client) ListExecutions(limit int) (map[string]interface{}, error) {
	path := "/api/v1/executions"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.do(http.MethodGet, path, nil)
}

func (c *Client) ListRunning() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/api/v1/executions/running", nil)
}

func (c *Client) ExecutionMetrics(id string) (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/api/v1/executions/"+id+"/metrics", nil)
}

func (c *Client) Validate(scriptID *int64, content, name string) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if scriptID != nil {
		body["script_id"] = *scriptID
	}
	if content != "" {
		body["content"] = content
	}
	if name != "" {
		body["name"] = name
	}
	return c.do(http.MethodPost, "/api/v1/validate", body)
}

func (c *Client) do(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bytes.TrimSpace(msg)))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}
