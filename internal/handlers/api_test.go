package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
)

func TestHealthHandler_ReportsLastRefresh(t *testing.T) {
	m := testMonitor(t)
	refresher := monitor.NewRefresher(m, "", nil)
	h := NewAPIHandler(m, refresher)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
	// No sweep has run yet
	assert.Nil(t, payload["last_refresh"])
}

func TestRefreshHandler_TriggersSweep(t *testing.T) {
	m := testMonitor(t)
	refresher := monitor.NewRefresher(m, "", nil)
	h := NewAPIHandler(m, refresher)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()

	h.RefreshHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return refresher.LastRun() != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.WithinDuration(t, time.Now(), *refresher.LastRun(), 5*time.Second)
}

func TestRefreshHandler_MethodNotAllowed(t *testing.T) {
	h := NewAPIHandler(testMonitor(t), monitor.NewRefresher(testMonitor(t), "", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/refresh", nil)
	rec := httptest.NewRecorder()

	h.RefreshHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
