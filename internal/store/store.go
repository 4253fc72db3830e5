package store

import (
	"context"
	"errors"

	"scoreforge/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate conversion statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByFormat map[string]int `json:"count_by_format"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for job records. Artifact bytes
// never live here; they stay in the in-memory result store until retrieved
// or evicted.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	FinishJob(ctx context.Context, j *model.Job) error
	RecoverInterrupted(ctx context.Context) (int64, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
