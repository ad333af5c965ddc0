package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
)

type APIHandler struct {
	monitor   *monitor.Monitor
	refresher *monitor.Refresher
	logger    arbor.ILogger
}

func NewAPIHandler(m *monitor.Monitor, refresher *monitor.Refresher) *APIHandler {
	return &APIHandler{
		monitor:   m,
		refresher: refresher,
		logger:    common.GetLogger(),
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	trackedCount := 0
	if h.monitor != nil {
		trackedCount = len(h.monitor.Snapshot())
	}

	var lastRefresh interface{}
	if h.refresher != nil {
		if last := h.refresher.LastRun(); last != nil {
			lastRefresh = last.Format(time.RFC3339)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"tracked_jobs": trackedCount,
		"last_refresh": lastRefresh,
	})
}

// RefreshHandler triggers an immediate refresh sweep over tracked jobs
func (h *APIHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.refresher == nil {
		WriteError(w, http.StatusServiceUnavailable, "refresh is not configured")
		return
	}

	h.refresher.TriggerNow()
	h.logger.Info().Msg("Refresh sweep triggered via API")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "refresh triggered",
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
