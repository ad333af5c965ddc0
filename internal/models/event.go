// -----------------------------------------------------------------------
// Stream Event - Decoded server-push update for a single job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
)

// Stream event names as sent by the backend job service.
// Anything else is forwarded as StreamEventUnknown and ignored downstream.
const (
	StreamEventStatus  = "status"
	StreamEventResult  = "result"
	StreamEventError   = "error"
	StreamEventPing    = "ping"
	StreamEventUnknown = "unknown"
)

// StreamEvent is a decoded (eventType, payload) pair from a job event stream.
// All payload fields are optional; absent fields leave the record untouched.
type StreamEvent struct {
	Type string `json:"-"`

	JobID    string             `json:"job_id,omitempty"`
	Status   *JobStatus         `json:"status,omitempty"`
	Progress *float64           `json:"progress,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Result   json.RawMessage    `json:"result,omitempty"`
	Error    *string            `json:"error_message,omitempty"`
}

// ParseStreamEvent decodes a named event payload into a StreamEvent.
// Unrecognized event names are accepted and tagged StreamEventUnknown so the
// transport never fails on new server-side event types. A result event with
// no explicit status implies completed; an error event implies failed.
func ParseStreamEvent(eventType string, data []byte) (*StreamEvent, error) {
	event := &StreamEvent{}

	switch eventType {
	case StreamEventStatus, StreamEventResult, StreamEventError:
		event.Type = eventType
	case StreamEventPing:
		event.Type = StreamEventPing
		return event, nil
	default:
		event.Type = StreamEventUnknown
		return event, nil
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event payload: %w", eventType, err)
	}

	switch event.Type {
	case StreamEventResult:
		if event.Status == nil {
			status := JobStatusCompleted
			event.Status = &status
		}
	case StreamEventError:
		if event.Status == nil {
			status := JobStatusFailed
			event.Status = &status
		}
	}

	return event, nil
}

// HasUpdate returns true if the event carries at least one record field
func (e *StreamEvent) HasUpdate() bool {
	return e.Status != nil || e.Progress != nil || len(e.Metrics) > 0 ||
		e.Result != nil || e.Error != nil
}
