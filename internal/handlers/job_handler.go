package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
	"github.com/choisimo/newsinsight-monitor/internal/models"
	"github.com/choisimo/newsinsight-monitor/internal/optimistic"
)

// JobHandler exposes tracked jobs over REST: starting, listing, inspecting,
// cancelling, and untracking
type JobHandler struct {
	api     interfaces.JobAPI
	monitor *monitor.Monitor
	cache   interfaces.RecordCache
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(api interfaces.JobAPI, m *monitor.Monitor, cache interfaces.RecordCache) *JobHandler {
	return &JobHandler{
		api:     api,
		monitor: m,
		cache:   cache,
		logger:  common.GetLogger(),
	}
}

// StartJobHandler handles POST /api/jobs - start a backend job and track it
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req interfaces.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if !models.IsValidJobKind(req.Kind) {
		WriteError(w, http.StatusBadRequest, "Invalid job kind. Valid values are: search, deep-analysis, training")
		return
	}

	record, err := h.api.StartJob(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("kind", string(req.Kind)).Msg("Failed to start job")
		WriteError(w, http.StatusBadGateway, "Failed to start job: "+err.Error())
		return
	}

	h.monitor.TrackRecord(record)

	h.logger.Info().
		Str("job_id", record.ID).
		Str("kind", string(record.Kind)).
		Msg("Job started and tracked")

	WriteJSON(w, http.StatusAccepted, record)
}

// ListJobsHandler handles GET /api/jobs - list all tracked job records
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snapshot := h.monitor.Snapshot()
	jobs := make([]*models.JobRecord, 0, len(snapshot))
	for _, record := range snapshot {
		jobs = append(jobs, record)
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler handles GET /api/jobs/{id} - tracked record, cached terminal
// record, or authoritative backend fetch, in that order
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if record, ok := h.monitor.Get(jobID); ok {
		WriteJSON(w, http.StatusOK, record)
		return
	}

	if record := h.lookupCached(r, jobID); record != nil {
		WriteJSON(w, http.StatusOK, record)
		return
	}

	record, err := h.api.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch job")
		WriteError(w, http.StatusBadGateway, "Failed to fetch job: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// UntrackJobHandler handles DELETE /api/jobs/{id} - stop tracking a job.
// With ?cancel=true the backend job is cancelled as well; the untrack is
// applied optimistically and rolled back if the cancel call fails.
func (h *JobHandler) UntrackJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if r.URL.Query().Get("cancel") != "true" {
		h.monitor.Untrack(jobID)
		WriteSuccess(w, "Job untracked: "+jobID)
		return
	}

	err := optimistic.Run(r.Context(), optimistic.Mutation[*models.JobRecord]{
		Name: "cancel job " + jobID,
		Snapshot: func() *models.JobRecord {
			record, _ := h.monitor.Get(jobID)
			return record
		},
		Apply: func() {
			h.monitor.Untrack(jobID)
		},
		Remote: func(ctx context.Context) error {
			return h.api.CancelJob(ctx, jobID)
		},
		Rollback: func(snapshot *models.JobRecord) {
			if snapshot != nil && !snapshot.IsTerminal() {
				h.monitor.TrackRecord(snapshot)
			}
		},
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteSuccess(w, "Job cancelled and untracked: "+jobID)
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel - cancel the backend
// job while keeping it tracked so the terminal status arrives via its stream
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.api.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusBadGateway, "Failed to cancel job: "+err.Error())
		return
	}

	WriteSuccess(w, "Cancel requested for job: "+jobID)
}

// lookupCached checks the terminal record cache across all job kinds
func (h *JobHandler) lookupCached(r *http.Request, jobID string) *models.JobRecord {
	if h.cache == nil {
		return nil
	}

	kinds := []models.JobKind{models.JobKindSearch, models.JobKindDeepAnalysis, models.JobKindTraining}
	for _, kind := range kinds {
		record, err := h.cache.Get(r.Context(), interfaces.RecordKey(kind, jobID))
		if err == nil {
			return record
		}
		if !errors.Is(err, interfaces.ErrCacheMiss) {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cache lookup failed")
		}
	}
	return nil
}
