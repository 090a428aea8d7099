// Package traceapi provides an HTTP client for the execution-trace API.
package traceapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of a failed response is read for its detail.
const maxErrorBody = 4096

// Client is an HTTP client for the execution-trace API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new trace API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// errorBody is the optional JSON shape of a failed response.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// FetchSnapshot calls GET /executions/:execution_id/trace. A nil cursor
// requests the first page. Every request carries a fresh cache buster.
func (c *Client) FetchSnapshot(ctx context.Context, executionID string, cursor *string) (*domain.SnapshotResponse, error) {
	q := url.Values{}
	if cursor != nil && *cursor != "" {
		q.Set("cursor", *cursor)
	}
	q.Set("_refresh", uuid.New().String())
	u := fmt.Sprintf("%s/executions/%s/trace?%s", c.baseURL, url.PathEscape(executionID), q.Encode())

	var resp domain.SnapshotResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListExecutions calls GET /workflows/:workflow_id/executions.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) ([]domain.ExecutionRef, error) {
	u := fmt.Sprintf("%s/workflows/%s/executions", c.baseURL, url.PathEscape(workflowID))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	var refs []domain.ExecutionRef
	if err := c.getJSON(ctx, u, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Status: resp.StatusCode, Detail: errorDetail(respBody)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &MalformedResponseError{Err: err}
	}
	return nil
}

func errorDetail(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Detail != "" {
			return eb.Detail
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
