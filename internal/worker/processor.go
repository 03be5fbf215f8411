// Package worker runs queued deployment jobs. The pool polls the durable
// queue; the processor drives one job through its phases and always leaves
// the job in a consistent state, whatever the attempt does.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/deploy"
	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
	"github.com/myinstaller/deployd/internal/render"
)

// Progress checkpoints for the deployment phases.
const (
	progressValidating   = 5
	progressValidated    = 15
	progressConnecting   = 20
	progressRendering    = 30
	progressRendered     = 40
	progressProvisioning = 50
	progressProvisioned  = 90
)

// errCancelled signals that the job was cancelled out from under the
// attempt. The attempt stops and the delivery is acked.
var errCancelled = errors.New("job cancelled during processing")

// DeployEngine is the execution seam the processor drives. The concrete
// implementation is deploy.Engine.
type DeployEngine interface {
	Execute(ctx context.Context, dctx *deploy.Context) *deploy.Result
}

// Processor drives one deployment job through its lifecycle per attempt.
type Processor struct {
	jobStorage     interfaces.JobStorage
	logStorage     interfaces.JobLogStorage
	profileStorage interfaces.ProfileStorage
	codec          *crypto.Codec
	engine         DeployEngine
	logger         arbor.ILogger
}

// NewProcessor creates a job processor
func NewProcessor(storage interfaces.StorageManager, codec *crypto.Codec, engine DeployEngine, logger arbor.ILogger) *Processor {
	return &Processor{
		jobStorage:     storage.JobStorage(),
		logStorage:     storage.JobLogStorage(),
		profileStorage: storage.ProfileStorage(),
		codec:          codec,
		engine:         engine,
		logger:         logger,
	}
}

// ProcessJob runs one attempt for a job. A nil return means the delivery
// should be acked: the job reached a terminal state or there is nothing to
// do. A non-nil return means the attempt hit an unexpected error and the
// delivery should be nacked for redelivery.
func (p *Processor) ProcessJob(ctx context.Context, jobID string, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("job_id", jobID).Msgf("Panic while processing job: %v", r)
			p.appendLog(ctx, jobID, models.LogLevelError, fmt.Sprintf("Internal error: %v", r), "")
			// Surface the panic as an attempt failure so the delivery is
			// nacked and rides the queue's backoff. The redelivery finds the
			// job still in a running phase and restarts it; once the receive
			// budget is spent the pool marks the job FAILED before the
			// message is dead-lettered.
			err = fmt.Errorf("panic while processing job %s: %v", jobID, r)
		}
	}()

	job, err := p.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		// The queue entry outlived the job record. Nothing to process.
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Received queue message for unknown job")
		return nil
	}

	if job.Status == models.JobStatusCancelled {
		p.appendLog(ctx, jobID, models.LogLevelWarn, "Job was cancelled before processing", "")
		p.logger.Info().Str("job_id", jobID).Msg("Skipping cancelled job")
		return nil
	}
	if job.Status.IsTerminal() {
		p.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Skipping terminal job")
		return nil
	}

	// A job received in a running state means the previous attempt was
	// interrupted (crash or visibility timeout). Close it out and restart.
	if job.Status.IsRunning() {
		p.appendLog(ctx, jobID, models.LogLevelWarn, "Previous attempt was interrupted, restarting deployment", "")
		if _, err := p.jobStorage.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, &interfaces.JobUpdate{ErrorSummary: "Previous attempt was interrupted"}); err != nil {
			return fmt.Errorf("failed to close out interrupted attempt: %w", err)
		}
		if job, err = p.jobStorage.ResetJobForRetry(ctx, jobID); err != nil {
			return fmt.Errorf("failed to restart interrupted job: %w", err)
		}
	}

	p.logger.Info().
		Str("job_id", jobID).
		Int("attempt", attempt).
		Bool("dry_run", job.DryRun).
		Msg("Processing deployment job")

	err = p.runAttempt(ctx, job)
	if errors.Is(err, errCancelled) {
		p.appendLog(ctx, jobID, models.LogLevelWarn, "Job was cancelled during processing", "")
		p.logger.Info().Str("job_id", jobID).Msg("Job cancelled mid-attempt, stopping")
		return nil
	}
	return err
}

// runAttempt walks the phases. Business failures (bad input, bad
// credentials, adapter failure) terminate the job as FAILED and return nil;
// infrastructure errors propagate for redelivery.
func (p *Processor) runAttempt(ctx context.Context, job *models.Job) error {
	jobID := job.ID

	// VALIDATING
	if err := p.advance(ctx, jobID, models.JobStatusValidating, progressValidating, nil); err != nil {
		return err
	}
	p.appendLog(ctx, jobID, models.LogLevelInfo, "Validating deployment request", "validate_target")

	profile, err := p.profileStorage.GetProfile(ctx, job.ProfileID)
	if err != nil {
		p.appendLog(ctx, jobID, models.LogLevelError, fmt.Sprintf("Unknown deployment profile: %s", job.ProfileID), "validate_target")
		p.failJob(ctx, jobID, "Unknown deployment profile", "")
		return nil
	}

	credential, err := p.codec.Decrypt(job.CredentialEncrypted)
	if err != nil {
		p.appendLog(ctx, jobID, models.LogLevelError, "Credential decryption failed, the encryption key may have changed", "validate_target")
		p.failJob(ctx, jobID, "Failed to decrypt credentials", "")
		return nil
	}

	if err := p.advance(ctx, jobID, models.JobStatusValidating, progressValidated, nil); err != nil {
		return err
	}

	// CONNECTING
	if err := p.advance(ctx, jobID, models.JobStatusConnecting, progressConnecting, nil); err != nil {
		return err
	}
	p.appendLog(ctx, jobID, models.LogLevelInfo, fmt.Sprintf("Preparing connection to %s:%d", job.TargetHost, job.TargetPort), "test_connectivity")

	// RENDERING
	if err := p.advance(ctx, jobID, models.JobStatusRendering, progressRendering, nil); err != nil {
		return err
	}
	p.appendLog(ctx, jobID, models.LogLevelInfo, fmt.Sprintf("Rendering installation script for %s", profile.Name), "render_script")

	dctx := p.buildContext(job, profile, credential)

	if err := p.advance(ctx, jobID, models.JobStatusRendering, progressRendered, nil); err != nil {
		return err
	}

	// PROVISIONING
	if err := p.advance(ctx, jobID, models.JobStatusProvisioning, progressProvisioning, nil); err != nil {
		return err
	}
	p.appendLog(ctx, jobID, models.LogLevelInfo, "Starting provisioning", "")

	result := p.engine.Execute(ctx, dctx)
	p.persistSteps(ctx, jobID, result)

	if err := p.advance(ctx, jobID, models.JobStatusProvisioning, progressProvisioned, &interfaces.JobUpdate{AdapterUsed: result.AdapterUsed}); err != nil {
		return err
	}

	if !result.Success {
		summary := result.Error
		if summary == "" {
			summary = "Deployment failed"
		}
		p.failJob(ctx, jobID, summary, result.AdapterUsed)
		return nil
	}

	// Terminal success
	finalStatus := models.JobStatusCompleted
	message := "Deployment completed successfully"
	if job.DryRun {
		finalStatus = models.JobStatusDryRunCompleted
		message = "Dry run completed, no changes were made to the target"
	}
	if err := p.advance(ctx, jobID, finalStatus, 100, &interfaces.JobUpdate{AdapterUsed: result.AdapterUsed}); err != nil {
		return err
	}
	p.appendLog(ctx, jobID, models.LogLevelSuccess, message, "")

	p.logger.Info().
		Str("job_id", jobID).
		Str("adapter", result.AdapterUsed).
		Dur("duration", result.TotalDuration).
		Msg("Deployment job finished")

	return nil
}

func (p *Processor) buildContext(job *models.Job, profile *models.Profile, credential string) *deploy.Context {
	script := render.ShellScript(profile.ScriptTemplate, render.ScriptVars{
		ProfileName:     profile.Name,
		ProfileSlug:     profile.Slug,
		Variables:       job.EnvVars,
		EnvVars:         job.EnvVars,
		ExtraPackages:   job.ExtraPackages,
		PostInstallCmds: job.PostInstallCmds,
		AutoReboot:      job.AutoReboot,
	})
	if job.DryRun {
		script = render.DryRunScript(profile.Name)
	}

	cloudInit := ""
	if profile.HasCloudInit() {
		cloudInit = render.CloudInit(profile.CloudInitTemplate, render.CloudInitVars{
			ProfileName: profile.Name,
			ProfileSlug: profile.Slug,
			Variables:   job.EnvVars,
		})
	}

	return &deploy.Context{
		JobID: job.ID,
		Target: deploy.Target{
			Host:       job.TargetHost,
			Port:       job.TargetPort,
			Username:   job.TargetUser,
			AuthMethod: job.AuthMethod,
			Credential: credential,
			Sudo:       job.Sudo,
		},
		ProfileName:      profile.Name,
		ProfileSlug:      profile.Slug,
		ScriptContent:    script,
		CloudInitContent: cloudInit,
		DryRun:           job.DryRun,
		AutoReboot:       job.AutoReboot,
		HealthCheck:      job.HealthCheck,
		ExtraPackages:    job.ExtraPackages,
		EnvVars:          job.EnvVars,
		PostInstallCmds:  job.PostInstallCmds,
	}
}

// persistSteps records every adapter step as a job log entry. The adapter's
// verdict per step is authoritative.
func (p *Processor) persistSteps(ctx context.Context, jobID string, result *deploy.Result) {
	for _, step := range result.Steps {
		level := models.LogLevelInfo
		if !step.Success {
			level = models.LogLevelError
		}
		entry := &models.JobLogEntry{
			JobID:    jobID,
			Level:    level,
			Message:  step.Message,
			Step:     step.Step,
			Metadata: step.Metadata,
		}
		if step.Duration > 0 {
			if entry.Metadata == nil {
				entry.Metadata = map[string]interface{}{}
			}
			entry.Metadata["duration_ms"] = step.Duration.Milliseconds()
		}
		if err := p.logStorage.AppendLog(ctx, entry); err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Str("step", step.Step).Msg("Failed to persist step log")
		}
	}
}

// advance moves the job forward. When the transition is rejected because the
// job was cancelled concurrently, errCancelled is returned so the attempt
// stops cleanly.
func (p *Processor) advance(ctx context.Context, jobID string, status models.JobStatus, progress int, update *interfaces.JobUpdate) error {
	if update == nil {
		update = &interfaces.JobUpdate{}
	}
	update.Progress = &progress

	if _, err := p.jobStorage.UpdateJobStatus(ctx, jobID, status, update); err != nil {
		if current, getErr := p.jobStorage.GetJob(ctx, jobID); getErr == nil && current.Status == models.JobStatusCancelled {
			return errCancelled
		}
		return fmt.Errorf("failed to advance job %s to %s: %w", jobID, status, err)
	}
	return nil
}

// failJob marks the job FAILED. Best effort: if the update is rejected the
// job was already terminal.
func (p *Processor) failJob(ctx context.Context, jobID, summary, adapterUsed string) {
	update := &interfaces.JobUpdate{ErrorSummary: summary, AdapterUsed: adapterUsed}
	if _, err := p.jobStorage.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, update); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Could not mark job failed")
		return
	}
	p.appendLog(ctx, jobID, models.LogLevelError, summary, "")
	p.logger.Warn().Str("job_id", jobID).Str("error", summary).Msg("Deployment job failed")
}

// MarkFailed is used by the pool when a delivery exhausts its receive
// budget, so a dead-lettered job does not stay stuck in a running state.
func (p *Processor) MarkFailed(ctx context.Context, jobID, summary string) {
	p.failJob(ctx, jobID, summary, "")
}

func (p *Processor) appendLog(ctx context.Context, jobID string, level models.LogLevel, message, step string) {
	entry := &models.JobLogEntry{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Step:      step,
		CreatedAt: time.Now(),
	}
	if err := p.logStorage.AppendLog(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append job log")
	}
}
