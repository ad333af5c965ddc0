package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient("test-key", WithBaseURL(server.URL), WithRateLimit(1000))
}

func TestStartJob(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req interfaces.StartJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.JobKindSearch, req.Kind)
		assert.Equal(t, "climate policy", req.Params["query"])

		record := models.JobRecord{
			ID:        "job-42",
			Kind:      req.Kind,
			Status:    models.JobStatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	})

	record, err := client.StartJob(context.Background(), interfaces.StartJobRequest{
		Kind:   models.JobKindSearch,
		Params: map[string]interface{}{"query": "climate policy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", record.ID)
	assert.Equal(t, models.JobStatusPending, record.Status)
}

func TestStartJob_InvalidKind(t *testing.T) {
	client := NewClient("")

	_, err := client.StartJob(context.Background(), interfaces.StartJobRequest{Kind: "reindex"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job kind")
}

func TestGetJob(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/jobs/job-42", r.URL.Path)

		record := models.JobRecord{
			ID:       "job-42",
			Kind:     models.JobKindDeepAnalysis,
			Status:   models.JobStatusRunning,
			Progress: 65,
			Metrics:  map[string]float64{"documents_scored": 1200},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	})

	record, err := client.GetJob(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, record.Status)
	assert.Equal(t, 65.0, record.Progress)
	assert.Equal(t, 1200.0, record.Metrics["documents_scored"])
}

func TestGetJob_NotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	})

	_, err := client.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestGetJob_EmptyID(t *testing.T) {
	client := NewClient("")

	_, err := client.GetJob(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestCancelJob(t *testing.T) {
	var gotPath string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusAccepted)
	})

	err := client.CancelJob(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, "/api/jobs/job-42/cancel", gotPath)
}

func TestServerErrorSurfacesAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend on fire", http.StatusInternalServerError)
	})

	_, err := client.GetJob(context.Background(), "job-42")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "backend on fire")
}
