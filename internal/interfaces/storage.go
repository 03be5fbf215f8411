// Package interfaces defines the collaborator contracts the execution core
// consumes: the job store, the append-only log store, the read-only profile
// provider and the durable work queue.
package interfaces

import (
	"context"

	"github.com/myinstaller/deployd/internal/models"
)

// JobUpdate carries the optional fields of a status update.
type JobUpdate struct {
	Progress     *int
	ErrorSummary string
	AdapterUsed  string
}

// JobListOptions filters and paginates job listings.
type JobListOptions struct {
	OwnerID   string
	Status    models.JobStatus
	ProfileID string
	Search    string
	Limit     int
	Offset    int
}

// JobStats summarizes job counts by lifecycle family.
type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobStorage persists job records. UpdateJobStatus serializes transitions per
// job id and applies the terminal-timestamp invariants automatically:
// COMPLETED/DRY_RUN_COMPLETED set completedAt and force progress to 100,
// FAILED sets failedAt, and the first transition to VALIDATING sets
// startedAt.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, update *JobUpdate) (*models.Job, error)
	ResetJobForRetry(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, opts *JobListOptions) (int, error)
	GetJobStats(ctx context.Context, ownerID string) (*JobStats, error)
}

// JobLogStorage persists append-only job log entries. The core never mutates
// or deletes entries; retention is an external concern.
type JobLogStorage interface {
	AppendLog(ctx context.Context, entry *models.JobLogEntry) error
	GetLogs(ctx context.Context, jobID string) ([]models.JobLogEntry, error)
	CountLogs(ctx context.Context, jobID string) (int, error)
}

// ProfileStorage is the read-only profile provider. The execution core never
// mutates profiles.
type ProfileStorage interface {
	SaveProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	GetProfileBySlug(ctx context.Context, slug string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle.
type StorageManager interface {
	JobStorage() JobStorage
	JobLogStorage() JobLogStorage
	ProfileStorage() ProfileStorage
	Close() error
}
