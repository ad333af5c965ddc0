// Package httpclient provides a client for the news analysis backend's job API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

const (
	// DefaultBaseURL is the base URL for the backend job API.
	DefaultBaseURL = "http://localhost:9090"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

// Client is a backend job API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new backend job API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error from the backend job API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// do performs a request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, payload, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := common.NewRequestID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("url", reqURL).
			Str("request_id", requestID).
			Msg("Backend API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return interfaces.ErrJobNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
	}

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// StartJob submits a new job and returns the backend's initial record.
func (c *Client) StartJob(ctx context.Context, req interfaces.StartJobRequest) (*models.JobRecord, error) {
	if !models.IsValidJobKind(req.Kind) {
		return nil, fmt.Errorf("invalid job kind: %s", req.Kind)
	}

	var record models.JobRecord
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &record); err != nil {
		return nil, fmt.Errorf("failed to start %s job: %w", req.Kind, err)
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("backend returned invalid job record: %w", err)
	}
	return &record, nil
}

// GetJob fetches the authoritative record for a job ID.
// Returns interfaces.ErrJobNotFound when the backend has no such job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID cannot be empty")
	}

	var record models.JobRecord
	path := fmt.Sprintf("/api/jobs/%s", jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &record); err != nil {
		if err == interfaces.ErrJobNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	return &record, nil
}

// CancelJob asks the backend to cancel a job. The terminal "cancelled"
// status arrives via the job's event stream, not this response.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}

	path := fmt.Sprintf("/api/jobs/%s/cancel", jobID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		if err == interfaces.ErrJobNotFound {
			return err
		}
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}
