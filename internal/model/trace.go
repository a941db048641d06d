// Package model defines the core domain types for Mieru.
//
// All types correspond directly to database tables and to the JSON
// contracts consumed by the dashboard. Types use strong typing
// (UUIDs, time.Time, enums) and avoid interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the outcome of a recorded agent operation.
type TraceStatus string

const (
	TraceStatusSuccess TraceStatus = "success"
	TraceStatusError   TraceStatus = "error"
)

// Trace is one recorded execution of an agent operation, with its child
// decisions, events, and observations. Immutable once recorded.
type Trace struct {
	ID           uuid.UUID     `json:"id"`
	TaskID       *uuid.UUID    `json:"task_id,omitempty"`
	AgentName    string        `json:"agent_name"`
	Operation    string        `json:"operation"`
	Status       TraceStatus   `json:"status"`
	DurationMs   float64       `json:"duration_ms"`
	QualityScore float64       `json:"quality_score"`
	CreatedAt    time.Time     `json:"created_at"`
	Decisions    []Decision    `json:"decisions"`
	Events       []Event       `json:"events"`
	Observations []Observation `json:"observations"`
}

// Decision is a single choice point inside a trace.
type Decision struct {
	DecisionType  string  `json:"decision_type"`
	Quality       float64 `json:"quality"`
	ContextLength int     `json:"context_length"`
	Rationale     string  `json:"rationale"`
}

// Event is a timestamped occurrence inside a trace. Data is an opaque
// structured payload; aggregation only inspects the error_type field of
// error events.
type Event struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Observation is a perceptual or evidence record inside a trace.
type Observation struct {
	ObservationType string  `json:"observation_type"`
	Content         string  `json:"content"`
	Confidence      float64 `json:"confidence"`
}

// ErrorEventType is the event type inspected for failure classification.
const ErrorEventType = "error"

// UnknownErrorClass is the classifier assigned to failed traces that
// carry no error event with a usable error_type field.
const UnknownErrorClass = "unknown_error"

// ErrorClass extracts the failure classifier for a trace: the error_type
// string of its last error event, or UnknownErrorClass. Only meaningful
// for traces with Status == TraceStatusError.
func (t Trace) ErrorClass() string {
	for i := len(t.Events) - 1; i >= 0; i-- {
		ev := t.Events[i]
		if ev.EventType != ErrorEventType {
			continue
		}
		if s, ok := ev.Data["error_type"].(string); ok && s != "" {
			return s
		}
	}
	return UnknownErrorClass
}
