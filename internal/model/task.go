package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskType enumerates the kinds of work a user can submit.
type TaskType string

const (
	TaskTypeSummarize TaskType = "summarize"
	TaskTypeAnalyze   TaskType = "analyze"
	TaskTypeClassify  TaskType = "classify"
	TaskTypeExtract   TaskType = "extract"
	TaskTypeTranslate TaskType = "translate"
)

// ValidTaskTypes is the closed set accepted by task creation.
var ValidTaskTypes = map[TaskType]bool{
	TaskTypeSummarize: true,
	TaskTypeAnalyze:   true,
	TaskTypeClassify:  true,
	TaskTypeExtract:   true,
	TaskTypeTranslate: true,
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a user-initiated unit of work. A task may have zero or more
// associated traces; traces reference tasks by id and may also exist
// without one.
type Task struct {
	ID           uuid.UUID      `json:"id"`
	TaskType     TaskType       `json:"task_type"`
	Status       TaskStatus     `json:"status"`
	InputData    map[string]any `json:"input_data"`
	Result       map[string]any `json:"result,omitempty"`
	QualityScore *float64       `json:"quality_score,omitempty"`
	Error        *string        `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TaskParameters are optional execution parameters supplied at creation.
type TaskParameters struct {
	MaxLength      *int     `json:"max_length,omitempty"`
	TargetLanguage *string  `json:"target_language,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Format         *string  `json:"format,omitempty"`
}

// CreateTaskRequest is the request body for POST /api/tasks.
type CreateTaskRequest struct {
	TaskType   TaskType       `json:"task_type"`
	InputData  map[string]any `json:"input_data"`
	Parameters TaskParameters `json:"parameters"`
}
