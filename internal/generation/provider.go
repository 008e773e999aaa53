package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider task states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// TaskStatus is the provider's view of a submitted task.
type TaskStatus struct {
	TaskID     string   `json:"task_id"`
	State      string   `json:"status"`
	OutputURLs []string `json:"output_urls,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Terminal reports whether the task will not change state again.
func (s *TaskStatus) Terminal() bool {
	return s.State == TaskSucceeded || s.State == TaskFailed
}

// Provider is the external AI generation API.
type Provider interface {
	Submit(ctx context.Context, assetType string, params json.RawMessage) (taskID string, err error)
	Status(ctx context.Context, taskID string) (*TaskStatus, error)
}

// HTTPProvider talks JSON to the provider's task API:
// POST {base}/v1/tasks and GET {base}/v1/tasks/{id}.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitPayload struct {
	AssetType string          `json:"asset_type"`
	Params    json.RawMessage `json:"params"`
}

func (p *HTTPProvider) Submit(ctx context.Context, assetType string, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(submitPayload{AssetType: assetType, Params: params})
	if err != nil {
		return "", fmt.Errorf("marshal submit payload: %w", err)
	}
	var out TaskStatus
	if err := p.do(ctx, http.MethodPost, p.baseURL+"/v1/tasks", body, &out); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("submit task: provider returned no task_id")
	}
	return out.TaskID, nil
}

func (p *HTTPProvider) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	var out TaskStatus
	if err := p.do(ctx, http.MethodGet, p.baseURL+"/v1/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return &out, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, target string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider returned invalid JSON: %w", err)
	}
	return nil
}
