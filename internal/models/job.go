package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a deployment job.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "QUEUED"
	JobStatusValidating      JobStatus = "VALIDATING"
	JobStatusConnecting      JobStatus = "CONNECTING"
	JobStatusRendering       JobStatus = "RENDERING"
	JobStatusProvisioning    JobStatus = "PROVISIONING"
	JobStatusCompleted       JobStatus = "COMPLETED"
	JobStatusDryRunCompleted JobStatus = "DRY_RUN_COMPLETED"
	JobStatusFailed          JobStatus = "FAILED"
	JobStatusCancelled       JobStatus = "CANCELLED"
)

// AuthMethod is how the worker authenticates against the deployment target.
type AuthMethod string

const (
	AuthMethodPassword   AuthMethod = "password"
	AuthMethodPrivateKey AuthMethod = "private_key"
)

// Job is one request to deploy a profile to a target, tracked through the
// status lifecycle. The credential is stored encrypted; the decrypted value
// only ever exists inside a deploy.Context for the duration of one attempt.
type Job struct {
	ID        string `json:"id" badgerhold:"key"`
	OwnerID   string `json:"owner_id"`
	ProfileID string `json:"profile_id"`

	// Target descriptor
	TargetLabel         string     `json:"target_label"`
	TargetHost          string     `json:"target_host"`
	TargetPort          int        `json:"target_port"`
	TargetUser          string     `json:"target_user"`
	AuthMethod          AuthMethod `json:"auth_method"`
	CredentialEncrypted string     `json:"credential_encrypted"`
	CredentialMasked    string     `json:"credential_masked"`
	ProviderLabel       string     `json:"provider_label,omitempty"`
	RegionLabel         string     `json:"region_label,omitempty"`

	// Execution options
	DryRun          bool              `json:"dry_run"`
	AutoReboot      bool              `json:"auto_reboot"`
	HealthCheck     bool              `json:"health_check"`
	Sudo            bool              `json:"sudo"`
	ExtraPackages   []string          `json:"extra_packages"`
	EnvVars         map[string]string `json:"env_vars"`
	PostInstallCmds []string          `json:"post_install_cmds"`
	Notes           string            `json:"notes,omitempty"`

	// Lifecycle
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	AdapterUsed  string     `json:"adapter_used,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

// Sanitized returns a copy safe for API responses: the encrypted credential
// blob never leaves the process, only the masked preview does.
func (j *Job) Sanitized() *Job {
	out := *j
	out.CredentialEncrypted = ""
	return &out
}

// NewJobID generates a unique job ID with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// IsTerminal returns true if the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDryRunCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsRunning returns true for the intermediate states a worker drives a job
// through between dequeue and terminal.
func (s JobStatus) IsRunning() bool {
	switch s {
	case JobStatusValidating, JobStatusConnecting, JobStatusRendering, JobStatusProvisioning:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. FAILED is reachable from any non-terminal state; the retry
// back-edge (FAILED/CANCELLED -> QUEUED) is deliberately excluded here and
// handled only by the explicit retry operation.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusValidating || next == JobStatusCancelled
	case JobStatusValidating:
		return next == JobStatusConnecting || next == JobStatusCancelled
	case JobStatusConnecting:
		return next == JobStatusRendering
	case JobStatusRendering:
		return next == JobStatusProvisioning
	case JobStatusProvisioning:
		return next == JobStatusCompleted || next == JobStatusDryRunCompleted
	}
	return false
}

// IsTerminal returns true if the job is in a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// CanCancel returns true while the job has not started provisioning work.
// Cancellation is not preemptive: once the worker is past VALIDATING the
// attempt runs to completion.
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusValidating
}

// CanRetry returns true for the two terminal states the retry back-edge
// applies to.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// ResetForRetry moves a failed or cancelled job back to QUEUED, clearing the
// terminal fields. This is the only state-machine back-edge.
func (j *Job) ResetForRetry() {
	j.Status = JobStatusQueued
	j.Progress = 0
	j.ErrorSummary = ""
	j.AdapterUsed = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	j.FailedAt = nil
	j.RetryCount++
}
