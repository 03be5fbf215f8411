// Package jobs implements the deployment job lifecycle operations: create,
// cancel, retry and the read paths. The worker pool drives queued jobs
// through their phases; this package only ever touches jobs at rest.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

var (
	// ErrNotCancellable is returned when a job is past the point where
	// cancellation is honored.
	ErrNotCancellable = errors.New("job can no longer be cancelled")

	// ErrNotRetryable is returned when retry is requested for a job that is
	// not in a failed or cancelled state.
	ErrNotRetryable = errors.New("job is not in a retryable state")
)

// ValidationError carries a user-facing message for a rejected request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// CreateJobInput is the request to create a deployment job.
type CreateJobInput struct {
	OwnerID   string `json:"owner_id" validate:"required"`
	ProfileID string `json:"profile_id" validate:"required"`

	TargetLabel   string            `json:"target_label"`
	TargetHost    string            `json:"target_host"`
	TargetPort    int               `json:"target_port"`
	TargetUser    string            `json:"target_user"`
	AuthMethod    models.AuthMethod `json:"auth_method" validate:"required,oneof=password private_key"`
	Credential    string            `json:"credential"`
	ProviderLabel string            `json:"provider_label"`
	RegionLabel   string            `json:"region_label"`

	DryRun          bool              `json:"dry_run"`
	AutoReboot      bool              `json:"auto_reboot"`
	HealthCheck     bool              `json:"health_check"`
	Sudo            bool              `json:"sudo"`
	ExtraPackages   []string          `json:"extra_packages"`
	EnvVars         map[string]string `json:"env_vars"`
	PostInstallCmds []string          `json:"post_install_cmds"`
	Notes           string            `json:"notes"`
}

// Service owns job lifecycle operations against storage and the work queue.
type Service struct {
	jobStorage     interfaces.JobStorage
	logStorage     interfaces.JobLogStorage
	profileStorage interfaces.ProfileStorage
	queue          interfaces.WorkQueue
	codec          *crypto.Codec
	validate       *validator.Validate
	logger         arbor.ILogger
}

// NewService creates a job service
func NewService(storage interfaces.StorageManager, queue interfaces.WorkQueue, codec *crypto.Codec, logger arbor.ILogger) *Service {
	return &Service{
		jobStorage:     storage.JobStorage(),
		logStorage:     storage.JobLogStorage(),
		profileStorage: storage.ProfileStorage(),
		queue:          queue,
		codec:          codec,
		validate:       validator.New(),
		logger:         logger,
	}
}

// CreateJob validates the request, encrypts the credential, persists the job
// as QUEUED and enqueues it for a worker. A queue transport failure does not
// fail the create: the job stays QUEUED and is logged for operator attention.
func (s *Service) CreateJob(ctx context.Context, input *CreateJobInput) (*models.Job, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	profile, err := s.profileStorage.GetProfile(ctx, input.ProfileID)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Unknown deployment profile: %s", input.ProfileID)}
	}

	encrypted, err := s.codec.Encrypt(input.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	maskKind := crypto.KindPassword
	if input.AuthMethod == models.AuthMethodPrivateKey {
		maskKind = crypto.KindKey
	}

	port := input.TargetPort
	if port == 0 {
		port = 22
	}
	user := input.TargetUser
	if user == "" {
		user = "root"
	}

	job := &models.Job{
		ID:                  models.NewJobID(),
		OwnerID:             input.OwnerID,
		ProfileID:           profile.ID,
		TargetLabel:         input.TargetLabel,
		TargetHost:          input.TargetHost,
		TargetPort:          port,
		TargetUser:          user,
		AuthMethod:          input.AuthMethod,
		CredentialEncrypted: encrypted,
		CredentialMasked:    crypto.MaskCredential(input.Credential, maskKind),
		ProviderLabel:       input.ProviderLabel,
		RegionLabel:         input.RegionLabel,
		DryRun:              input.DryRun,
		AutoReboot:          input.AutoReboot,
		HealthCheck:         input.HealthCheck,
		Sudo:                input.Sudo,
		ExtraPackages:       input.ExtraPackages,
		EnvVars:             input.EnvVars,
		PostInstallCmds:     input.PostInstallCmds,
		Notes:               input.Notes,
		Status:              models.JobStatusQueued,
		Progress:            0,
		CreatedAt:           time.Now(),
	}

	if err := s.jobStorage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.appendLog(ctx, job.ID, models.LogLevelInfo, fmt.Sprintf("Deployment job created for profile %s", profile.Name), "")

	if err := s.enqueue(ctx, job); err != nil {
		// The job record is durable; a stuck QUEUED job can be retried once
		// the queue recovers.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue job, leaving it QUEUED")
		s.appendLog(ctx, job.ID, models.LogLevelWarn, "Job saved but could not be enqueued, it will not start until retried", "")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("profile", profile.Slug).
		Bool("dry_run", job.DryRun).
		Msg("Deployment job created")

	return job, nil
}

// validateInput applies the request checks that map to user-facing messages.
func (s *Service) validateInput(input *CreateJobInput) error {
	if input == nil {
		return &ValidationError{Message: "Request body is required"}
	}
	if input.TargetHost == "" {
		return &ValidationError{Message: "Target host is required"}
	}
	if input.TargetPort < 0 || input.TargetPort > 65535 {
		return &ValidationError{Message: "Invalid SSH port"}
	}
	if input.Credential == "" {
		return &ValidationError{Message: "Authentication credential is required"}
	}
	if err := s.validate.Struct(input); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return &ValidationError{Message: fmt.Sprintf("Invalid field %s (%s)", fe.Field(), fe.Tag())}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(&models.QueueMessage{JobID: job.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return s.queue.Enqueue(ctx, job.ID, payload)
}

// CancelJob marks a job CANCELLED. Only QUEUED and VALIDATING jobs can be
// cancelled; a running attempt is never preempted.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.CanCancel() {
		return nil, fmt.Errorf("%w: status %s", ErrNotCancellable, job.Status)
	}

	job, err = s.jobStorage.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, jobID, models.LogLevelWarn, "Job cancelled by user", "")
	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")

	return job, nil
}

// RetryJob resets a failed or cancelled job back to QUEUED and re-enqueues
// it. This is the only way a terminal job re-enters the pipeline.
func (s *Service) RetryJob(ctx context.Context, jobID string) (*models.Job, error) {
	current, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !current.CanRetry() {
		return nil, fmt.Errorf("%w: status %s", ErrNotRetryable, current.Status)
	}

	job, err := s.jobStorage.ResetJobForRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, jobID, models.LogLevelInfo, "Job retried by user", "")

	if err := s.enqueue(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to enqueue retried job, leaving it QUEUED")
		s.appendLog(ctx, jobID, models.LogLevelWarn, "Job saved but could not be enqueued, it will not start until retried", "")
	}

	s.logger.Info().Str("job_id", jobID).Int("retry_count", job.RetryCount).Msg("Job retried")

	return job, nil
}

// GetJob returns a job by id
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobStorage.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter, newest first
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, int, error) {
	jobs, err := s.jobStorage.ListJobs(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	countOpts := &interfaces.JobListOptions{}
	if opts != nil {
		countOpts.OwnerID = opts.OwnerID
		countOpts.Status = opts.Status
		countOpts.ProfileID = opts.ProfileID
		countOpts.Search = opts.Search
	}
	total, err := s.jobStorage.CountJobs(ctx, countOpts)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// GetJobLogs returns a job's log entries in append order
func (s *Service) GetJobLogs(ctx context.Context, jobID string) ([]models.JobLogEntry, error) {
	if _, err := s.jobStorage.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.logStorage.GetLogs(ctx, jobID)
}

// GetStats returns job counts by lifecycle family
func (s *Service) GetStats(ctx context.Context, ownerID string) (*interfaces.JobStats, error) {
	return s.jobStorage.GetJobStats(ctx, ownerID)
}

// QueueStats exposes queue depth for health reporting
func (s *Service) QueueStats(ctx context.Context) (*interfaces.QueueStats, error) {
	return s.queue.Stats(ctx)
}

func (s *Service) appendLog(ctx context.Context, jobID string, level models.LogLevel, message, step string) {
	entry := &models.JobLogEntry{
		JobID:   jobID,
		Level:   level,
		Message: message,
		Step:    step,
	}
	if err := s.logStorage.AppendLog(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append job log")
	}
}
