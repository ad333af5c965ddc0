package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// DefaultPingInterval is the SSE heartbeat interval
const DefaultPingInterval = 15 * time.Second

// SSEHandler re-broadcasts tracked job updates as Server-Sent Events,
// one stream per job ID
type SSEHandler struct {
	monitor      *monitor.Monitor
	logger       arbor.ILogger
	pingInterval time.Duration

	subsMu sync.RWMutex
	subs   map[string]map[*jobSubscriber]struct{}
}

// jobSubscriber represents one SSE client following one job
type jobSubscriber struct {
	id      string
	updates chan *models.JobRecord
	jobID   string
}

type ssePing struct {
	Timestamp time.Time `json:"timestamp"`
}

// NewSSEHandler creates an SSE handler fed by monitor events
func NewSSEHandler(eventService interfaces.EventService, m *monitor.Monitor, pingInterval time.Duration) *SSEHandler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	h := &SSEHandler{
		monitor:      m,
		logger:       common.GetLogger(),
		pingInterval: pingInterval,
		subs:         make(map[string]map[*jobSubscriber]struct{}),
	}

	// Terminal transitions arrive through job_updated as well, so one
	// subscription covers the whole lifecycle
	eventService.Subscribe(interfaces.EventJobUpdated, h.handleJobUpdated)

	return h
}

// SubscriberCount reports how many SSE clients follow the given job
func (h *SSEHandler) SubscriberCount(jobID string) int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs[jobID])
}

// handleJobUpdated routes a job update to that job's subscribers
func (h *SSEHandler) handleJobUpdated(ctx context.Context, event interfaces.Event) error {
	record, ok := event.Payload.(*models.JobRecord)
	if !ok || record == nil {
		return nil
	}

	h.subsMu.RLock()
	defer h.subsMu.RUnlock()

	for sub := range h.subs[record.ID] {
		select {
		case sub.updates <- record:
		default:
			// Buffer full, skip this update
		}
	}
	return nil
}

// StreamJobHandler handles GET /api/jobs/{id}/stream - SSE feed of one
// job's record updates until it reaches a terminal status
func (h *SSEHandler) StreamJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Flush headers immediately to trigger browser's EventSource.onopen
	flusher.Flush()

	sub := &jobSubscriber{
		id:      common.NewSubscriberID(),
		updates: make(chan *models.JobRecord, 64),
		jobID:   jobID,
	}

	h.subsMu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*jobSubscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.subsMu.Unlock()

	h.logger.Debug().Str("job_id", jobID).Str("subscriber_id", sub.id).Msg("SSE job subscriber registered")

	defer func() {
		h.subsMu.Lock()
		delete(h.subs[jobID], sub)
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
		h.subsMu.Unlock()
		h.logger.Debug().Str("job_id", jobID).Str("subscriber_id", sub.id).Msg("SSE job subscriber unregistered")
	}()

	// Send the current record first so clients don't start blind
	if record, ok := h.monitor.Get(jobID); ok {
		h.sendRecord(w, flusher, record)
		if record.IsTerminal() {
			return
		}
	}

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case record := <-sub.updates:
			h.sendRecord(w, flusher, record)
			if record.IsTerminal() {
				return
			}
			pingTicker.Reset(h.pingInterval)

		case <-pingTicker.C:
			h.sendEvent(w, flusher, "ping", ssePing{Timestamp: time.Now()})
		}
	}
}

// sendRecord writes a record update under the event name matching its state
func (h *SSEHandler) sendRecord(w http.ResponseWriter, flusher http.Flusher, record *models.JobRecord) {
	event := "status"
	switch record.Status {
	case models.JobStatusCompleted:
		event = "result"
	case models.JobStatusFailed, models.JobStatusTimeout:
		event = "error"
	}
	h.sendEvent(w, flusher, event, record)
}

// sendEvent writes an SSE event to the response
func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal SSE event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
