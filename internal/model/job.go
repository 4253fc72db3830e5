package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
	StatusCanceled  = "canceled"
)

// Failure kind constants. Exactly one kind is attached to every failed job.
const (
	FailUnsupportedFormat = "unsupported_format"
	FailSpawnFailed       = "spawn_failed"
	FailTimedOut          = "timed_out"
	FailEngineError       = "engine_error"
	FailResourceExhausted = "resource_exhausted"
	FailCanceled          = "canceled"
	FailInterrupted       = "interrupted"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusFailed:   true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
		StatusCanceled:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether the given status is terminal. Terminal statuses
// are immutable once reached.
func Terminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCanceled:
		return true
	}
	return false
}

// Job represents one conversion request from submission to terminal result.
type Job struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	InputFormat  string     `json:"input_format"`
	OutputFormat string     `json:"output_format"`
	InputSize    int64      `json:"input_size"`
	InputHash    string     `json:"input_hash,omitempty"`
	FailureKind  string     `json:"failure_kind,omitempty"`
	Diagnostic   string     `json:"diagnostic,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ArtifactSize *int64     `json:"artifact_size,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Artifact holds the rendered output of a succeeded job.
type Artifact struct {
	Bytes  []byte `json:"-"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// Failure describes why a job did not produce an artifact.
type Failure struct {
	Kind       string `json:"kind"`
	Diagnostic string `json:"diagnostic,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// Result is the write-once outcome of a completed job: exactly one of
// Artifact or Failure is set.
type Result struct {
	JobID    string    `json:"job_id"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Failure  *Failure  `json:"failure,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}
