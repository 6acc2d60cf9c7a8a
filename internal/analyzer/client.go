package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metorial/scriptforge/internal/models"
)

// Client calls a remote analyzer service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ParseMetadata(ctx context.Context, content, name string) (*models.ScriptMetadata, error) {
	var meta models.ScriptMetadata
	req := map[string]string{"content": content, "name": name}
	if err := c.post(ctx, "/v1/metadata", req, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

func (c *Client) AnalyzeSecurity(ctx context.Context, content string) (*models.SecurityReport, error) {
	var report models.SecurityReport
	req := map[string]string{"content": content}
	if err := c.post(ctx, "/v1/security", req, &report); err != nil {
		return nil, fmt.Errorf("analyze security: %w", err)
	}
	return &report, nil
}

func (c *Client) ExtractDependencies(ctx context.Context, content string) ([]string, error) {
	var resp struct {
		Dependencies []string `json:"dependencies"`
	}
	req := map[string]string{"content": content}
	if err := c.post(ctx, "/v1/dependencies", req, &resp); err != nil {
		return nil, fmt.Errorf("extract dependencies: %w", err)
	}
	return resp.Dependencies, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
