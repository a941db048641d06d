package model

import (
	"fmt"
	"time"
)

// Field length limits for ingested traces. These keep a single oversized
// field from filling TEXT columns with caller-controlled garbage.
const (
	MaxAgentNameLen = 200
	MaxOperationLen = 200
	MaxRationaleLen = 32 * 1024 // 32 KB
	MaxContentLen   = 64 * 1024 // 64 KB

	MaxTraceDecisions    = 100
	MaxTraceEvents       = 500
	MaxTraceObservations = 100
)

// ValidateTrace checks an ingested trace before it is stored.
func ValidateTrace(t Trace) error {
	if t.AgentName == "" {
		return fmt.Errorf("agent_name is required")
	}
	if len(t.AgentName) > MaxAgentNameLen {
		return fmt.Errorf("agent_name exceeds maximum length of %d characters", MaxAgentNameLen)
	}
	if t.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if len(t.Operation) > MaxOperationLen {
		return fmt.Errorf("operation exceeds maximum length of %d characters", MaxOperationLen)
	}
	if t.Status != TraceStatusSuccess && t.Status != TraceStatusError {
		return fmt.Errorf("status must be %q or %q", TraceStatusSuccess, TraceStatusError)
	}
	if t.DurationMs < 0 {
		return fmt.Errorf("duration_ms must be non-negative")
	}
	if t.QualityScore < 0 || t.QualityScore > 1 {
		return fmt.Errorf("quality_score must be in [0,1]")
	}
	if len(t.Decisions) > MaxTraceDecisions {
		return fmt.Errorf("trace exceeds maximum of %d decisions", MaxTraceDecisions)
	}
	if len(t.Events) > MaxTraceEvents {
		return fmt.Errorf("trace exceeds maximum of %d events", MaxTraceEvents)
	}
	if len(t.Observations) > MaxTraceObservations {
		return fmt.Errorf("trace exceeds maximum of %d observations", MaxTraceObservations)
	}
	for i, d := range t.Decisions {
		if d.Quality < 0 || d.Quality > 1 {
			return fmt.Errorf("decisions[%d].quality must be in [0,1]", i)
		}
		if d.ContextLength < 0 {
			return fmt.Errorf("decisions[%d].context_length must be non-negative", i)
		}
		if len(d.Rationale) > MaxRationaleLen {
			return fmt.Errorf("decisions[%d].rationale exceeds maximum length of %d bytes", i, MaxRationaleLen)
		}
	}
	for i, o := range t.Observations {
		if o.Confidence < 0 || o.Confidence > 1 {
			return fmt.Errorf("observations[%d].confidence must be in [0,1]", i)
		}
		if len(o.Content) > MaxContentLen {
			return fmt.Errorf("observations[%d].content exceeds maximum length of %d bytes", i, MaxContentLen)
		}
	}
	return nil
}

// ValidateCreateTask checks a task creation request.
func ValidateCreateTask(req CreateTaskRequest) error {
	if req.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if !ValidTaskTypes[req.TaskType] {
		return fmt.Errorf("unknown task_type: %s", req.TaskType)
	}
	if req.InputData == nil {
		return fmt.Errorf("input_data is required")
	}
	if req.Parameters.MaxLength != nil && *req.Parameters.MaxLength <= 0 {
		return fmt.Errorf("parameters.max_length must be positive")
	}
	return nil
}

// APIError is the standard error response envelope. Success responses
// carry the bare view JSON (the dashboard parses them directly); only
// errors are enveloped.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every error response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorDetail.Code.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}
