// -----------------------------------------------------------------------
// Job Record - Authoritative client-side view of a backend job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind represents the type of backend job being tracked
type JobKind string

const (
	JobKindSearch       JobKind = "search"
	JobKindDeepAnalysis JobKind = "deep-analysis"
	JobKindTraining     JobKind = "training"
)

// IsValidJobKind checks if a given JobKind is one of the valid constants
func IsValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindSearch, JobKindDeepAnalysis, JobKindTraining:
		return true
	default:
		return false
	}
}

// JobStatus represents the state of a tracked job
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusInitializing JobStatus = "initializing"
	JobStatusRunning      JobStatus = "running"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
	JobStatusTimeout      JobStatus = "timeout"
)

// IsTerminal returns true if no further stream updates are expected for this status
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	default:
		return false
	}
}

// JobRecord is the reconciled view of a single backend job.
//
// Job State Lifecycle:
//  1. StartJob response - record created with backend-assigned ID and initial status
//  2. Stream events - record mutated exclusively through the state reducer
//  3. Authoritative fetch - record replaced wholesale from GET /jobs/{id}
//  4. Terminal status - record frozen against further stream mutation
type JobRecord struct {
	ID       string             `json:"id"`     // Backend-assigned job ID (opaque)
	Kind     JobKind            `json:"kind"`   // Job type: search, deep-analysis, training
	Status   JobStatus          `json:"status"` // Current status
	Progress float64            `json:"progress"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Result   json.RawMessage    `json:"result,omitempty"`        // Present only once completed
	Error    string             `json:"error_message,omitempty"` // Present only when failed

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobRecord creates a pending record for a freshly started job
func NewJobRecord(id string, kind JobKind) *JobRecord {
	now := time.Now()
	return &JobRecord{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusPending,
		Metrics:   make(map[string]float64),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal returns true if the record has reached a terminal status
func (r *JobRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Clone creates a deep copy of the record (metrics map and result payload included)
func (r *JobRecord) Clone() *JobRecord {
	clone := *r

	if r.Metrics != nil {
		clone.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			clone.Metrics[k] = v
		}
	}

	if r.Result != nil {
		clone.Result = make(json.RawMessage, len(r.Result))
		copy(clone.Result, r.Result)
	}

	return &clone
}

// Validate validates the job record
func (r *JobRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !IsValidJobKind(r.Kind) {
		return fmt.Errorf("invalid job kind: %s (must be one of: search, deep-analysis, training)", r.Kind)
	}
	if r.Status == "" {
		return fmt.Errorf("job status is required")
	}
	if r.Progress < 0 || r.Progress > 100 {
		return fmt.Errorf("job progress must be in [0,100], got %v", r.Progress)
	}
	return nil
}

// ToJSON serializes the record for storage
func (r *JobRecord) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job record: %w", err)
	}
	return data, nil
}

// JobRecordFromJSON deserializes a record from storage
func JobRecordFromJSON(data []byte) (*JobRecord, error) {
	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}
	return &record, nil
}
