package interfaces

import (
	"context"
	"errors"

	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// ErrJobNotFound is returned when the backend has no job for the given ID
var ErrJobNotFound = errors.New("job not found")

// StartJobRequest carries the kind-specific parameters for a new backend job
type StartJobRequest struct {
	Kind   models.JobKind         `json:"kind"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// JobAPI is the request/response contract of the backend job service.
// The stream side of the contract lives in the stream adapter.
type JobAPI interface {
	// StartJob submits a new job and returns the initial record (ID + status)
	StartJob(ctx context.Context, req StartJobRequest) (*models.JobRecord, error)

	// GetJob performs the authoritative fetch for a job ID
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)

	// CancelJob requests a server-side abort. It does not close any local
	// stream; the caller still waits for a terminal event or closes explicitly.
	CancelJob(ctx context.Context, jobID string) error
}

// JobTracker orchestrates the set of concurrently tracked jobs
type JobTracker interface {
	// Track begins tracking a job ID. No-op if already tracked.
	Track(jobID string, kind models.JobKind)

	// Untrack closes the job's stream (if any) and drops its record. Idempotent.
	Untrack(jobID string)

	// Get returns a snapshot of a single tracked record
	Get(jobID string) (*models.JobRecord, bool)

	// Snapshot returns read-only copies of all tracked records keyed by job ID
	Snapshot() map[string]*models.JobRecord

	// Stop untracks everything and releases resources
	Stop()
}
