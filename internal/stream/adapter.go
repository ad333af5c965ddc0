// -----------------------------------------------------------------------
// Event Stream Adapter - Per-job SSE channel with bounded reconnection
// -----------------------------------------------------------------------

package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// ErrConnection is returned when the stream transport could not be
// established or was lost beyond the reconnect budget
var ErrConnection = errors.New("stream connection failed")

// Status represents the connection state of a stream handle
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

const (
	DefaultMaxReconnects    = 2
	DefaultReconnectBackoff = 5 * time.Second

	// eventBufferSize absorbs bursts between monitor reads without
	// blocking the transport read loop
	eventBufferSize = 64
)

// Config configures the stream adapter
type Config struct {
	BaseURL          string
	APIKey           string
	HTTPClient       *http.Client
	MaxReconnects    int
	ReconnectBackoff time.Duration
	Logger           arbor.ILogger
}

// Adapter opens server-sent event channels for individual job IDs
type Adapter struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	maxReconnects    int
	reconnectBackoff time.Duration
	logger           arbor.ILogger
}

// NewAdapter creates a stream adapter for the given backend
func NewAdapter(cfg Config) *Adapter {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client timeout: the response body is a long-lived stream.
		// Cancellation flows through the request context instead.
		httpClient = &http.Client{}
	}

	maxReconnects := cfg.MaxReconnects
	if maxReconnects < 0 {
		maxReconnects = DefaultMaxReconnects
	}

	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Adapter{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		httpClient:       httpClient,
		maxReconnects:    maxReconnects,
		reconnectBackoff: backoff,
		logger:           logger,
	}
}

// Handle is one open event channel for a single job ID
type Handle struct {
	jobID  string
	events chan *models.StreamEvent
	errs   chan error

	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	mu       sync.RWMutex
	status   Status
	terminal bool
}

// Events returns the decoded event channel. The channel is never closed;
// callers multiplex it with Err() and their own shutdown signal.
func (h *Handle) Events() <-chan *models.StreamEvent {
	return h.events
}

// Err delivers at most one terminal connection error
func (h *Handle) Err() <-chan error {
	return h.errs
}

// JobID returns the job ID this handle streams for
func (h *Handle) JobID() string {
	return h.jobID
}

// Status returns the current connection status
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handle) setStatus(status Status) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

// markTerminal records that a terminal-status event has been delivered;
// the stream ending after this point is a clean end, not a failure
func (h *Handle) markTerminal() {
	h.mu.Lock()
	h.terminal = true
	h.mu.Unlock()
}

func (h *Handle) sawTerminal() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.terminal
}

// Close releases the underlying transport. Idempotent; no events are
// delivered after Close returns.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.setStatus(StatusClosed)
		close(h.done)
		h.cancel()
	})
}

func (h *Handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Open establishes the event channel for a job ID. It fails with
// ErrConnection if the initial handshake cannot be established; transport
// errors after a successful open are handled by the reconnect loop.
func (a *Adapter) Open(ctx context.Context, jobID string) (*Handle, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	streamCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		jobID:  jobID,
		events: make(chan *models.StreamEvent, eventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		cancel: cancel,
		status: StatusConnecting,
	}

	body, err := a.connect(streamCtx, jobID)
	if err != nil {
		cancel()
		return nil, err
	}

	h.setStatus(StatusOpen)

	a.logger.Debug().
		Str("job_id", jobID).
		Msg("Event stream opened")

	go a.consume(streamCtx, h, body)

	return h, nil
}

// connect performs the SSE handshake for a job's event stream
func (a *Adapter) connect(ctx context.Context, jobID string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/api/jobs/%s/events", a.baseURL, jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrConnection, resp.StatusCode)
	}

	return resp.Body, nil
}

// consume reads SSE frames until the transport fails or the handle closes,
// reconnecting within the configured budget
func (a *Adapter) consume(ctx context.Context, h *Handle, body io.ReadCloser) {
	attempts := 0

	for {
		readErr := a.readLoop(h, body)
		body.Close()

		// Once a terminal event has been delivered the server is done with
		// this job; a subsequent transport close is a clean end of stream.
		if h.sawTerminal() {
			a.logger.Debug().
				Str("job_id", h.jobID).
				Msg("Event stream ended after terminal event")
			h.setStatus(StatusClosed)
			return
		}

		// Transport lost while the handle may still be live. Retry within
		// budget with a fixed backoff, then surface ErrConnection.
		reconnected := false
		for !reconnected {
			if h.closed() || ctx.Err() != nil {
				return
			}

			if attempts >= a.maxReconnects {
				a.logger.Warn().
					Str("job_id", h.jobID).
					Int("attempts", attempts).
					Err(readErr).
					Msg("Event stream reconnect budget exhausted")
				h.setStatus(StatusError)
				h.errs <- fmt.Errorf("%w: reconnect budget exhausted after %d attempts", ErrConnection, attempts)
				return
			}

			attempts++
			h.setStatus(StatusConnecting)

			a.logger.Debug().
				Str("job_id", h.jobID).
				Int("attempt", attempts).
				Int("max", a.maxReconnects).
				Dur("backoff", a.reconnectBackoff).
				Msg("Event stream lost, reconnecting")

			select {
			case <-h.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(a.reconnectBackoff):
			}

			next, err := a.connect(ctx, h.jobID)
			if err != nil {
				// Failed handshake consumes the attempt
				readErr = err
				continue
			}

			body = next
			h.setStatus(StatusOpen)
			reconnected = true
		}
	}
}

// readLoop parses SSE frames from one connection and delivers decoded events
func (a *Adapter) readLoop(h *Handle, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pendingType := ""
	var pendingData []string

	flush := func() {
		if pendingType == "" && len(pendingData) == 0 {
			return
		}
		name := pendingType
		if name == "" {
			name = "message"
		}
		payload := strings.Join(pendingData, "\n")
		pendingType, pendingData = "", nil

		// Malformed payload: logged and dropped, never fatal to the stream
		event, err := models.ParseStreamEvent(name, []byte(payload))
		if err != nil {
			a.logger.Warn().
				Str("job_id", h.jobID).
				Str("event", name).
				Err(err).
				Msg("Dropping undecodable stream event")
			return
		}
		event.JobID = h.jobID
		if event.Status != nil && event.Status.IsTerminal() {
			h.markTerminal()
		}

		select {
		case h.events <- event:
		case <-h.done:
		}
	}

	for scanner.Scan() {
		if h.closed() {
			return nil
		}

		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// SSE comment line, ignored
		case strings.HasPrefix(line, "event:"):
			pendingType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			pendingData = append(pendingData, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
