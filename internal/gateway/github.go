package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// GitHubClient talks to the GitHub REST API (or a GitHub Enterprise
// instance via BaseURL) with every request routed through the gateway.
type GitHubClient struct {
	baseURL    string
	token      string
	gw         *Gateway
	httpClient *http.Client
}

type GitHubOption func(*GitHubClient)

func WithBaseURL(baseURL string) GitHubOption {
	return func(c *GitHubClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) GitHubOption {
	return func(c *GitHubClient) {
		c.httpClient = client
	}
}

func NewGitHubClient(token string, gw *Gateway, opts ...GitHubOption) *GitHubClient {
	c := &GitHubClient{
		baseURL: defaultBaseURL,
		token:   token,
		gw:      gw,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

type Branch struct {
	Name string `json:"name"`
}

// TreeEntry is one file in a repository tree listing. SHA is the content
// fingerprint used to detect changes without downloading content.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type Webhook struct {
	ID     int64             `json:"id"`
	Events []string          `json:"events"`
	Config map[string]string `json:"config"`
}

func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	path := fmt.Sprintf("/repos/%s/%s", owner, name)
	if err := c.getJSON(ctx, path, &repo); err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	return &repo, nil
}

func (c *GitHubClient) ListBranches(ctx context.Context, owner, name string) ([]Branch, error) {
	var branches []Branch
	path := fmt.Sprintf("/repos/%s/%s/branches?per_page=100", owner, name)
	if err := c.getJSON(ctx, path, &branches); err != nil {
		return nil, fmt.Errorf("list branches %s/%s: %w", owner, name, err)
	}
	return branches, nil
}

// ListScriptFiles returns the blobs in the branch tree whose path carries
// the script extension.
func (c *GitHubClient) ListScriptFiles(ctx context.Context, owner, name, branch, extension string) ([]TreeEntry, error) {
	var tree struct {
		Entries   []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, name, url.PathEscape(branch))
	if err := c.getJSON(ctx, path, &tree); err != nil {
		return nil, fmt.Errorf("list tree %s/%s@%s: %w", owner, name, branch, err)
	}
	if tree.Truncated {
		return nil, fmt.Errorf("list tree %s/%s@%s: tree listing truncated by remote", owner, name, branch)
	}

	var files []TreeEntry
	for _, entry := range tree.Entries {
		if entry.Type == "blob" && strings.HasSuffix(strings.ToLower(entry.Path), extension) {
			files = append(files, entry)
		}
	}
	return files, nil
}

func (c *GitHubClient) GetFileContent(ctx context.Context, owner, name, filePath, ref string) (string, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	path := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, name,
		escapePath(filePath), url.QueryEscape(ref))
	if err := c.getJSON(ctx, path, &file); err != nil {
		return "", fmt.Errorf("get content %s: %w", filePath, err)
	}
	if file.Encoding != "base64" {
		return "", fmt.Errorf("get content %s: unexpected encoding %q", filePath, file.Encoding)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode content %s: %w", filePath, err)
	}
	return string(decoded), nil
}

func (c *GitHubClient) ListWebhooks(ctx context.Context, owner, name string) ([]Webhook, error) {
	var hooks []Webhook
	path := fmt.Sprintf("/repos/%s/%s/hooks", owner, name)
	if err := c.getJSON(ctx, path, &hooks); err != nil {
		return nil, fmt.Errorf("list webhooks %s/%s: %w", owner, name, err)
	}
	return hooks, nil
}

func (c *GitHubClient) CreateWebhook(ctx context.Context, owner, name, callbackURL, secret string, events []string) (*Webhook, error) {
	body := map[string]any{
		"name":   "web",
		"active": true,
		"events": events,
		"config": map[string]string{
			"url":          callbackURL,
			"content_type": "json",
			"secret":       secret,
		},
	}
	var hook Webhook
	path := fmt.Sprintf("/repos/%s/%s/hooks", owner, name)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &hook); err != nil {
		return nil, fmt.Errorf("create webhook %s/%s: %w", owner, name, err)
	}
	return &hook, nil
}

func (c *GitHubClient) DeleteWebhook(ctx context.Context, owner, name string, hookID int64) error {
	path := fmt.Sprintf("/repos/%s/%s/hooks/%d", owner, name, hookID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete webhook %s/%s: %w", owner, name, err)
	}
	return nil
}

func (c *GitHubClient) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *GitHubClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.gw.Do(ctx, func() error {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		c.updateBudget(resp)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// updateBudget feeds server-reported rate limit headers back into the
// shared budget.
func (c *GitHubClient) updateBudget(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	ceiling, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	var resetAt time.Time
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		resetAt = time.Unix(reset, 0)
	}
	c.gw.Budget().Update(remaining, ceiling, resetAt)
}

// escapePath escapes each path segment while preserving separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
