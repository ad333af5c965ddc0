package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choisimo/newsinsight-monitor/internal/models"
)

func testAdapter(t *testing.T, baseURL string, maxReconnects int) *Adapter {
	t.Helper()
	return NewAdapter(Config{
		BaseURL:          baseURL,
		MaxReconnects:    maxReconnects,
		ReconnectBackoff: 10 * time.Millisecond,
	})
}

func collectEvents(t *testing.T, h *Handle, n int) []*models.StreamEvent {
	t.Helper()
	var events []*models.StreamEvent
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev := <-h.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
	return events
}

func TestOpen_EmptyJobID(t *testing.T) {
	adapter := testAdapter(t, "http://localhost:0", 0)

	_, err := adapter.Open(context.Background(), "")
	require.Error(t, err)
}

func TestOpen_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 0)

	_, err := adapter.Open(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestOpen_DeliversDecodedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/job-1/events", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprintf(w, "event: status\ndata: {\"status\":\"running\",\"progress\":10}\n\n")
		fmt.Fprintf(w, "event: status\ndata: {\"metrics\":{\"docs_scanned\":120}}\n\n")
		fmt.Fprintf(w, "event: result\ndata: {\"status\":\"completed\",\"progress\":100,\"result\":\"R\"}\n\n")
		flusher.Flush()

		// Keep the connection open until the client disconnects
		<-r.Context().Done()
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 0)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)
	defer h.Close()

	events := collectEvents(t, h, 3)

	assert.Equal(t, models.StreamEventStatus, events[0].Type)
	require.NotNil(t, events[0].Status)
	assert.Equal(t, models.JobStatusRunning, *events[0].Status)
	require.NotNil(t, events[0].Progress)
	assert.Equal(t, float64(10), *events[0].Progress)
	assert.Equal(t, "job-1", events[0].JobID)

	assert.Equal(t, map[string]float64{"docs_scanned": 120}, events[1].Metrics)

	assert.Equal(t, models.StreamEventResult, events[2].Type)
	require.NotNil(t, events[2].Status)
	assert.Equal(t, models.JobStatusCompleted, *events[2].Status)
	assert.Equal(t, `"R"`, string(events[2].Result))
}

func TestOpen_UnknownEventForwarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: shard_rebalance\ndata: {\"shard\":3}\n\n")
		fmt.Fprintf(w, "event: status\ndata: {\"progress\":50}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 0)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)
	defer h.Close()

	events := collectEvents(t, h, 2)
	assert.Equal(t, models.StreamEventUnknown, events[0].Type)
	assert.Equal(t, models.StreamEventStatus, events[1].Type)
}

func TestOpen_MalformedPayloadDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: status\ndata: {not json\n\n")
		fmt.Fprintf(w, "event: status\ndata: {\"progress\":75}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 0)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)
	defer h.Close()

	// The malformed frame is dropped; the adapter keeps reading
	events := collectEvents(t, h, 1)
	require.NotNil(t, events[0].Progress)
	assert.Equal(t, float64(75), *events[0].Progress)
}

func TestReconnectBound(t *testing.T) {
	var handshakes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		// Drop the connection straight away to force a reconnect
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 2)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)
	defer h.Close()

	select {
	case err := <-h.Err():
		assert.ErrorIs(t, err, ErrConnection)
	case <-time.After(5 * time.Second):
		t.Fatal("expected connection error after reconnect budget exhaustion")
	}

	// Exactly 1 initial handshake + 2 reconnect attempts
	assert.Equal(t, int32(3), handshakes.Load())
	assert.Equal(t, StatusError, h.Status())

	// No further attempts after giving up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), handshakes.Load())
}

func TestNoReconnectAfterTerminalEvent(t *testing.T) {
	var handshakes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: status\ndata: {\"status\":\"completed\",\"progress\":100}\n\n")
		w.(http.Flusher).Flush()
		// Close the connection after the terminal frame
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 2)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)
	defer h.Close()

	events := collectEvents(t, h, 1)
	require.NotNil(t, events[0].Status)
	assert.True(t, events[0].Status.IsTerminal())

	// The transport close after a terminal event is a clean end of stream,
	// never a reconnect or a connection error
	select {
	case err := <-h.Err():
		t.Fatalf("unexpected connection error after terminal event: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, int32(1), handshakes.Load())
	assert.Equal(t, StatusClosed, h.Status())
}

func TestClose_Idempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	adapter := testAdapter(t, server.URL, 2)

	h, err := adapter.Open(context.Background(), "job-1")
	require.NoError(t, err)

	h.Close()
	h.Close()

	assert.Equal(t, StatusClosed, h.Status())

	// A closed handle never reports a connection error
	select {
	case err := <-h.Err():
		t.Fatalf("unexpected error after close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
