package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"imageforge/internal/config"
	"imageforge/internal/workflow"
)

// client error kinds. Every transport-level failure wraps ErrUnavailable so
// upstream code has a single failure mode to branch on.
var (
	ErrUnavailable = fmt.Errorf("remote processor unavailable")
	ErrUpload      = fmt.Errorf("artifact upload failed")
	ErrSubmit      = fmt.Errorf("workflow submit failed")
	ErrFetch       = fmt.Errorf("artifact fetch failed")
)

// QueueState is the remote queue snapshot: job ids currently running and
// job ids waiting in submission order.
type QueueState struct {
	Running []string
	Pending []string
}

// ImageRef locates one produced image on the remote processor.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the per-node output block from a history response.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// Client is the HTTP client for the remote workflow processor.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a remote processor client
func NewClient(cfg config.ComfyConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.BearerToken,
		httpClient: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		logger: config.NewLogger(),
	}
}

// buildURL builds a complete URL, properly handling the configured endpoint
func (c *Client) buildURL(path string) string {
	endpoint := c.endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return endpoint + path
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// UploadImage uploads raw image bytes to the remote input store and returns
// the remote filename to reference in a workflow graph.
func (c *Client) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/upload/image"), &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status code %d", ErrUpload, resp.StatusCode)
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: failed to decode upload response: %v", ErrUnavailable, err)
	}
	if result.Name == "" {
		return "", fmt.Errorf("%w: upload response missing name", ErrUpload)
	}

	c.logger.WithField("remote_name", result.Name).Debug("Image uploaded to remote processor")
	return result.Name, nil
}

// SubmitWorkflow submits a workflow graph and returns the remote job id.
func (c *Client) SubmitWorkflow(ctx context.Context, graph workflow.Graph, clientID string) (string, error) {
	requestBody := map[string]interface{}{
		"prompt":    graph,
		"client_id": clientID,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/prompt"), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status code %d", ErrSubmit, resp.StatusCode)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: failed to decode submit response: %v", ErrUnavailable, err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("%w: submit response missing prompt_id", ErrSubmit)
	}

	c.logger.WithField("job_id", result.PromptID).Debug("Workflow submitted")
	return result.PromptID, nil
}

// QueryQueue returns the remote queue snapshot. Queue entries are arrays
// whose second element is the job id.
func (c *Client) QueryQueue(ctx context.Context) (*QueueState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/queue"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected queue status code %d", ErrUnavailable, resp.StatusCode)
	}

	var raw struct {
		QueueRunning [][]interface{} `json:"queue_running"`
		QueuePending [][]interface{} `json:"queue_pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode queue response: %v", ErrUnavailable, err)
	}

	return &QueueState{
		Running: extractJobIDs(raw.QueueRunning),
		Pending: extractJobIDs(raw.QueuePending),
	}, nil
}

func extractJobIDs(entries [][]interface{}) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		if id, ok := entry[1].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// QueryHistory returns the node outputs for a finished job. The second
// return value is false while the job has not finished yet.
func (c *Client) QueryHistory(ctx context.Context, jobID string) (map[string]NodeOutput, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/history/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create history request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: unexpected history status code %d", ErrUnavailable, resp.StatusCode)
	}

	var history map[string]struct {
		Outputs map[string]NodeOutput `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, false, fmt.Errorf("%w: failed to decode history response: %v", ErrUnavailable, err)
	}

	entry, done := history[jobID]
	if !done {
		return nil, false, nil
	}
	return entry.Outputs, true, nil
}

// FetchArtifact downloads one produced image from the remote processor.
func (c *Client) FetchArtifact(ctx context.Context, ref ImageRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/view")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read artifact body: %v", ErrUnavailable, err)
	}

	c.logger.WithFields(logrus.Fields{
		"filename": ref.Filename,
		"bytes":    len(data),
	}).Debug("Artifact fetched")
	return data, nil
}

// HealthCheck verifies the remote processor responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/system_stats"), nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
