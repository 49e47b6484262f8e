// Package output provides a JSONL event stream for capture jobs.
//
// Each line is a typed record envelope holding a job transition, a new
// recipe version, an error, or a batch summary. Lines are self-contained
// and can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern: ramekin.<type>.v<version>
const (
	// TypeJob identifies job transition records.
	TypeJob = "ramekin.job.v1"

	// TypeVersion identifies recipe version records.
	TypeVersion = "ramekin.version.v1"

	// TypeError identifies error records.
	TypeError = "ramekin.error.v1"

	// TypeSummary identifies batch summary records.
	TypeSummary = "ramekin.summary.v1"
)

// Record is the envelope for all JSONL output. The Type field determines
// how to interpret Data.
type Record struct {
	// Type identifies the record type (e.g., "ramekin.job.v1").
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// JobID correlates the record with a capture job. Empty for summaries.
	JobID string `json:"job_id,omitempty"`

	// OwnerID is the owner the stream was opened for.
	OwnerID string `json:"owner_id,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the payload for a job state transition.
type JobRecord struct {
	JobID      string `json:"job_id"`
	Operation  string `json:"operation"`
	SourceKind string `json:"source_kind"`
	Status     string `json:"status"`

	// FailedAtStep and Error are set only for failed jobs.
	FailedAtStep string `json:"failed_at_step,omitempty"`
	Error        string `json:"error,omitempty"`

	// RecipeID is set only for completed jobs.
	RecipeID string `json:"recipe_id,omitempty"`

	RetryCount int `json:"retry_count"`
}

// VersionRecord is the payload emitted when a job writes a recipe version.
type VersionRecord struct {
	JobID         string `json:"job_id"`
	RecipeID      string `json:"recipe_id"`
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	VersionSource string `json:"version_source"`
	Title         string `json:"title"`
}

// ErrorRecord is the payload for errors that did not become job state,
// such as persistence failures.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job that hit the error, if any.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidSource = "INVALID_SOURCE"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodePersistence   = "PERSISTENCE"
	ErrCodeInternal      = "INTERNAL"
)

// SummaryRecord is emitted once at the end of a CLI batch.
type SummaryRecord struct {
	Jobs      int64 `json:"jobs"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Errors    int64 `json:"errors"`

	// Duration is the total batch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
