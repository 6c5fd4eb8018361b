package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/corvida/tunevault/internal/config"
)

const (
	generatePath   = "/api/v1/generate"
	recordInfoPath = "/api/v1/generate/record-info"
)

// ErrNoTaskID is returned when a submission response carries no task
// identifier under any of the known field names.
var ErrNoTaskID = errors.New("upstream response contains no task ID")

// HTTPError is an HTTP-layer failure from the upstream API (non-2xx
// response). It is distinct from application-level error statuses, which
// arrive inside a 200 payload and are handled by the normalizer.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the remote music generation API. Every call carries the
// configured bearer key and a bounded timeout.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client from the upstream configuration.
func New(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: logger.With("component", "upstream_client"),
	}
}

// Submit forwards a generation request and returns the upstream task ID
// together with the verbatim response payload.
func (c *Client) Submit(ctx context.Context, payload any) (string, json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "encoding submission payload")
	}

	raw, err := c.do(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}

	taskID, ok := extractTaskID(raw)
	if !ok {
		return "", raw, ErrNoTaskID
	}

	c.logger.Info("generation task submitted", "task_id", taskID)
	return taskID, raw, nil
}

// QueryStatus fetches the current record for a task. The transport
// envelope ({code, msg, data}) is unwrapped when present so callers see
// the task object itself; shape variance inside it is the normalizer's
// business.
func (c *Client) QueryStatus(ctx context.Context, taskID string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s%s?taskId=%s", c.baseURL, recordInfoPath, taskID)
	raw, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return unwrapEnvelope(raw), nil
}

// do performs one request and returns the response body. Transport errors
// and non-2xx statuses are surfaced as errors.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "building upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling upstream API")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading upstream response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	return raw, nil
}

// extractTaskID probes the known locations of the task identifier in a
// submission response.
func extractTaskID(raw json.RawMessage) (string, bool) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false
	}

	candidates := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		// Enveloped responses carry the ID one level down; probe there first.
		candidates = []map[string]any{data, payload}
	}

	for _, m := range candidates {
		for _, key := range []string{"taskId", "task_id"} {
			if id, ok := m[key].(string); ok && id != "" {
				return id, true
			}
		}
	}
	return "", false
}

// unwrapEnvelope strips the {code, msg, data} transport envelope when the
// data field holds an object; anything else passes through verbatim.
func unwrapEnvelope(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	return envelope.Data
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
