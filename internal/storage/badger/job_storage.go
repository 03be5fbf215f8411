package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// JobStorage implements the JobStorage interface for Badger. Status updates
// are serialized per job id so a cancel racing a worker transition cannot
// interleave a read-modify-write.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  sync.Map // job id -> *sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) lockFor(jobID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus transitions a job and applies the timestamp invariants.
// A same-status call only refreshes the optional fields, which is how
// progress moves within a phase. An illegal transition, including any
// attempt to leave a terminal state, is rejected.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, update *interfaces.JobUpdate) (*models.Job, error) {
	mu := s.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != status {
		if !job.Status.CanTransitionTo(status) {
			return nil, fmt.Errorf("invalid status transition for %s: %s -> %s", jobID, job.Status, status)
		}
		job.Status = status

		now := time.Now()
		switch status {
		case models.JobStatusValidating:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		case models.JobStatusCompleted, models.JobStatusDryRunCompleted:
			job.CompletedAt = &now
			job.Progress = 100
		case models.JobStatusFailed:
			job.FailedAt = &now
		}
	}

	if update != nil {
		if update.Progress != nil && !job.Status.IsTerminal() {
			job.Progress = *update.Progress
		}
		if update.ErrorSummary != "" {
			job.ErrorSummary = update.ErrorSummary
		}
		if update.AdapterUsed != "" {
			job.AdapterUsed = update.AdapterUsed
		}
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// ResetJobForRetry is the single state-machine back-edge. Only FAILED and
// CANCELLED jobs can be reset.
func (s *JobStorage) ResetJobForRetry(ctx context.Context, jobID string) (*models.Job, error) {
	mu := s.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.CanRetry() {
		return nil, fmt.Errorf("job %s cannot be retried from status %s", jobID, job.Status)
	}

	job.ResetForRetry()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}
	return job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	jobs, err := s.findJobs(opts)
	if err != nil {
		return nil, err
	}

	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(jobs) {
				return []*models.Job{}, nil
			}
			jobs = jobs[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(jobs) {
			jobs = jobs[:opts.Limit]
		}
	}

	return jobs, nil
}

func (s *JobStorage) CountJobs(ctx context.Context, opts *interfaces.JobListOptions) (int, error) {
	jobs, err := s.findJobs(opts)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// findJobs returns all jobs matching the filters, newest first. The free-text
// search is applied in memory because BadgerHold has no substring index, so
// pagination also happens after the fetch.
func (s *JobStorage) findJobs(opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.OwnerID != "" {
			query = query.And("OwnerID").Eq(opts.OwnerID)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.ProfileID != "" {
			query = query.And("ProfileID").Eq(opts.ProfileID)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if opts != nil && opts.Search != "" && !jobMatchesSearch(&jobs[i], opts.Search) {
			continue
		}
		result = append(result, &jobs[i])
	}
	return result, nil
}

func jobMatchesSearch(job *models.Job, search string) bool {
	needle := strings.ToLower(search)
	for _, field := range []string{job.TargetLabel, job.TargetHost, job.Notes, job.ID} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func (s *JobStorage) GetJobStats(ctx context.Context, ownerID string) (*interfaces.JobStats, error) {
	query := badgerhold.Where("ID").Ne("")
	if ownerID != "" {
		query = query.And("OwnerID").Eq(ownerID)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to collect job stats: %w", err)
	}

	stats := &interfaces.JobStats{Total: len(jobs)}
	for i := range jobs {
		switch {
		case jobs[i].Status == models.JobStatusQueued:
			stats.Queued++
		case jobs[i].Status.IsRunning():
			stats.Running++
		case jobs[i].Status == models.JobStatusCompleted, jobs[i].Status == models.JobStatusDryRunCompleted:
			stats.Completed++
		case jobs[i].Status == models.JobStatusFailed:
			stats.Failed++
		case jobs[i].Status == models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}
