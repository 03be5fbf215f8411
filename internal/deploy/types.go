// Package deploy contains the deployment adapters and the engine that
// selects and drives them. Adapters are polymorphic execution strategies;
// the engine's contract is "always returns a Result, never panics past its
// boundary".
package deploy

import (
	"context"
	"time"

	"github.com/myinstaller/deployd/internal/models"
)

// Target is the resolved deployment target for one execution attempt.
// Credential holds decrypted plaintext and is excluded from JSON so the
// struct can never be serialized into storage or logs.
type Target struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Username   string            `json:"username"`
	AuthMethod models.AuthMethod `json:"auth_method"`
	Credential string            `json:"-"`
	Sudo       bool              `json:"sudo"`
}

// Context is the ephemeral bundle passed into one execution attempt. It is
// owned by exactly one worker attempt and discarded when the attempt ends.
type Context struct {
	JobID            string
	Target           Target
	ProfileName      string
	ProfileSlug      string
	ScriptContent    string
	CloudInitContent string
	DryRun           bool
	AutoReboot       bool
	HealthCheck      bool
	ExtraPackages    []string
	EnvVars          map[string]string
	PostInstallCmds  []string
}

// StepResult is one adapter step. The steps list on a Result is
// authoritative: the orchestration layer trusts the adapter's verdict and
// never re-derives success or failure.
type StepResult struct {
	Step     string                 `json:"step"`
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Duration time.Duration          `json:"duration,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Result is the outcome of one execution attempt.
type Result struct {
	Success       bool          `json:"success"`
	AdapterUsed   string        `json:"adapter_used"`
	Steps         []StepResult  `json:"steps"`
	Error         string        `json:"error,omitempty"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Adapter is a pluggable execution strategy for carrying out a job's
// deployment steps.
type Adapter interface {
	// Name is the stable adapter label recorded on the job.
	Name() string

	// Description explains what the adapter does and does not do.
	Description() string

	// CanHandle reports whether this adapter can execute the given context.
	CanHandle(dctx *Context) bool

	// ValidateTarget checks target configuration without side effects.
	ValidateTarget(dctx *Context) StepResult

	// Execute runs the deployment and returns the authoritative result.
	Execute(ctx context.Context, dctx *Context) *Result
}

// sleepFunc abstracts the artificial step delays so tests run instantly.
// The default implementation is context-aware and holds no locks.
type sleepFunc func(ctx context.Context, d time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func noSleep(ctx context.Context, d time.Duration) {}
