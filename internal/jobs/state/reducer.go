// -----------------------------------------------------------------------
// Job State Reducer - Deterministic merge of stream events into records
// -----------------------------------------------------------------------

package state

import (
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// Reduce merges a stream event into a job record and returns the new record.
// The input record is never mutated; callers get either the same pointer
// (event ignored) or a fresh copy with the update applied.
//
// Precedence, applied in order:
//  1. Terminal records are frozen - late or duplicate events return the
//     record unchanged
//  2. A status field is adopted verbatim (server status is always trusted)
//  3. Progress only moves forward: max(current, event), clamped to 100
//  4. Metrics shallow-merge with per-key overwrite
//  5. A result payload is adopted only when status is/becomes completed
//  6. An error message is adopted only when status is/becomes failed
//  7. Absent fields leave the record untouched
func Reduce(current *models.JobRecord, event *models.StreamEvent) *models.JobRecord {
	if current == nil || event == nil {
		return current
	}

	// Rule 1: terminal guard
	if current.IsTerminal() {
		return current
	}

	if !event.HasUpdate() {
		return current
	}

	next := current.Clone()

	// Rule 2: server status is authoritative
	if event.Status != nil {
		next.Status = *event.Status
	}

	// Rule 3: monotonic progress, clamped to the 0-100 range
	if event.Progress != nil && *event.Progress > next.Progress {
		next.Progress = *event.Progress
		if next.Progress > 100 {
			next.Progress = 100
		}
	}

	// Rule 4: key-wise metric merge, last write wins
	if len(event.Metrics) > 0 {
		if next.Metrics == nil {
			next.Metrics = make(map[string]float64, len(event.Metrics))
		}
		for k, v := range event.Metrics {
			next.Metrics[k] = v
		}
	}

	// Rule 5: result only travels with a completed status
	if event.Result != nil && next.Status == models.JobStatusCompleted {
		next.Result = event.Result
	}

	// Rule 6: error message only travels with a failed status
	if event.Error != nil && next.Status == models.JobStatusFailed {
		next.Error = *event.Error
	}

	next.UpdatedAt = now()

	return next
}

// Fail returns a copy of the record marked failed with the given message.
// Terminal records are returned unchanged - a job that already finished
// cannot be failed by a late transport error.
func Fail(current *models.JobRecord, message string) *models.JobRecord {
	if current == nil || current.IsTerminal() {
		return current
	}

	next := current.Clone()
	next.Status = models.JobStatusFailed
	next.Error = message
	next.UpdatedAt = now()

	return next
}
