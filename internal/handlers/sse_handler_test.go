package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/models"
	"github.com/choisimo/newsinsight-monitor/internal/services/events"
)

type sseFrame struct {
	event string
	data  string
}

// readFrames consumes the SSE body until it closes, returning parsed frames.
func readFrames(t *testing.T, body *bufio.Scanner) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	for body.Scan() {
		line := body.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.event != "" {
				frames = append(frames, current)
			}
			current = sseFrame{}
		}
	}
	return frames
}

func TestStreamJobHandler_DeliversUpdatesUntilTerminal(t *testing.T) {
	bus := events.NewService(nil)
	defer bus.Close()

	m := testMonitor(t)
	h := NewSSEHandler(bus, m, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/", h.StreamJobHandler)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/jobs/job-1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscriber to register before publishing
	require.Eventually(t, func() bool {
		return h.SubscriberCount("job-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	running := models.NewJobRecord("job-1", models.JobKindSearch)
	running.Status = models.JobStatusRunning
	running.Progress = 40
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: running,
	}))

	done := models.NewJobRecord("job-1", models.JobKindSearch)
	done.Status = models.JobStatusCompleted
	done.Progress = 100
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: done,
	}))

	// The handler closes the stream after the terminal record
	frames := readFrames(t, bufio.NewScanner(resp.Body))
	require.Len(t, frames, 2)

	assert.Equal(t, "status", frames[0].event)
	assert.Equal(t, "result", frames[1].event)

	var last models.JobRecord
	require.NoError(t, json.Unmarshal([]byte(frames[1].data), &last))
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	assert.Equal(t, float64(100), last.Progress)
}

func TestStreamJobHandler_SendsTrackedSnapshotFirst(t *testing.T) {
	bus := events.NewService(nil)
	defer bus.Close()

	m := testMonitor(t)
	m.Track("job-2", models.JobKindTraining)

	h := NewSSEHandler(bus, m, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/", h.StreamJobHandler)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/jobs/job-2/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Equal(t, "status", event)
	var record models.JobRecord
	require.NoError(t, json.Unmarshal([]byte(data), &record))
	assert.Equal(t, "job-2", record.ID)
}

func TestStreamJobHandler_MethodNotAllowed(t *testing.T) {
	bus := events.NewService(nil)
	defer bus.Close()

	h := NewSSEHandler(bus, testMonitor(t), time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/stream", nil)
	rec := httptest.NewRecorder()

	h.StreamJobHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
