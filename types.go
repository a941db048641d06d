package mieru

import (
	"time"

	"github.com/google/uuid"
)

// Trace is the public representation of a recorded execution trace.
// It is a curated view of the internal trace model for use in extension
// interfaces. It has no internal package imports, so it is safe to use
// from outside the module.
type Trace struct {
	ID        uuid.UUID
	TaskID    *uuid.UUID
	AgentName string
	Operation string
	// Status is "success" or "error".
	Status       string
	DurationMs   float64
	QualityScore float64
	CreatedAt    time.Time
	// ErrorClass is the error classification for failed traces,
	// empty for successful ones.
	ErrorClass string
}
