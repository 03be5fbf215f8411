package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/common"
	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/deploy"
	"github.com/myinstaller/deployd/internal/models"
	storagebadger "github.com/myinstaller/deployd/internal/storage/badger"
)

type stubEngine struct {
	result *deploy.Result
	panics bool
	calls  int
}

func (e *stubEngine) Execute(ctx context.Context, dctx *deploy.Context) *deploy.Result {
	e.calls++
	if e.panics {
		panic("adapter exploded")
	}
	return e.result
}

func successResult() *deploy.Result {
	return &deploy.Result{
		Success:     true,
		AdapterUsed: deploy.SimulationAdapterName,
		Steps: []deploy.StepResult{
			{Step: "validate_target", Success: true, Message: "[SIMULATION] Target validated"},
			{Step: "execute_script", Success: true, Message: "[SIMULATION] Script executed", Duration: 10 * time.Millisecond},
		},
		TotalDuration: 15 * time.Millisecond,
	}
}

type testEnv struct {
	processor *Processor
	manager   *storagebadger.Manager
	codec     *crypto.Codec
	engine    *stubEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := storagebadger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	codec, err := crypto.NewCodec("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	require.NoError(t, manager.ProfileStorage().SaveProfile(context.Background(), &models.Profile{
		ID:             "prof_ubuntu-docker",
		Slug:           "ubuntu-docker",
		Name:           "Ubuntu + Docker",
		ScriptTemplate: "#!/bin/bash\necho deploying {{PROFILE_NAME}}",
	}))

	engine := &stubEngine{result: successResult()}
	return &testEnv{
		processor: NewProcessor(manager, codec, engine, logger),
		manager:   manager,
		codec:     codec,
		engine:    engine,
	}
}

func (e *testEnv) seedJob(t *testing.T, mutate func(*models.Job)) *models.Job {
	t.Helper()

	encrypted, err := e.codec.Encrypt("hunter2secret")
	require.NoError(t, err)

	job := &models.Job{
		ID:                  models.NewJobID(),
		OwnerID:             "user-1",
		ProfileID:           "prof_ubuntu-docker",
		TargetHost:          "198.51.100.7",
		TargetPort:          22,
		TargetUser:          "root",
		AuthMethod:          models.AuthMethodPassword,
		CredentialEncrypted: encrypted,
		Status:              models.JobStatusQueued,
		CreatedAt:           time.Now(),
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, e.manager.JobStorage().SaveJob(context.Background(), job))
	return job
}

func TestProcessor_CompletesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, nil)

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, deploy.SimulationAdapterName, got.AdapterUsed)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	logs, err := env.manager.JobLogStorage().GetLogs(ctx, job.ID)
	require.NoError(t, err)
	var levels []models.LogLevel
	for _, entry := range logs {
		levels = append(levels, entry.Level)
	}
	assert.Contains(t, levels, models.LogLevelSuccess)

	// Adapter steps are persisted as log entries
	var steps []string
	for _, entry := range logs {
		if entry.Step != "" {
			steps = append(steps, entry.Step)
		}
	}
	assert.Contains(t, steps, "execute_script")
}

func TestProcessor_DryRunCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, func(j *models.Job) { j.DryRun = true })

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDryRunCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestProcessor_EngineFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	env.engine.result = &deploy.Result{
		Success:     false,
		AdapterUsed: "GenericSSHAdapter",
		Error:       "Target host is required",
		Steps: []deploy.StepResult{
			{Step: "validate_target", Success: false, Message: "Target host is required"},
		},
	}
	ctx := context.Background()
	job := env.seedJob(t, nil)

	// Business failure acks; no redelivery
	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Target host is required", got.ErrorSummary)
	require.NotNil(t, got.FailedAt)
}

func TestProcessor_SkipsCancelledJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, func(j *models.Job) { j.Status = models.JobStatusCancelled })

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))
	assert.Zero(t, env.engine.calls)

	logs, err := env.manager.JobLogStorage().GetLogs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "Job was cancelled before processing", logs[0].Message)
	assert.Equal(t, models.LogLevelWarn, logs[0].Level)
}

func TestProcessor_DecryptFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, func(j *models.Job) { j.CredentialEncrypted = "not-a-valid-blob" })

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))
	assert.Zero(t, env.engine.calls)

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Failed to decrypt credentials", got.ErrorSummary)
}

func TestProcessor_UnknownProfileFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, func(j *models.Job) { j.ProfileID = "prof_missing" })

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 1))

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Unknown deployment profile", got.ErrorSummary)
}

func TestProcessor_RestartsInterruptedJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.seedJob(t, nil)

	// Simulate a crashed attempt left mid-flight
	for _, status := range []models.JobStatus{models.JobStatusValidating, models.JobStatusConnecting} {
		_, err := env.manager.JobStorage().UpdateJobStatus(ctx, job.ID, status, nil)
		require.NoError(t, err)
	}

	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 2))

	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestProcessor_PanicIsReturnedForRedelivery(t *testing.T) {
	env := newTestEnv(t)
	env.engine.panics = true
	ctx := context.Background()
	job := env.seedJob(t, nil)

	err := env.processor.ProcessJob(ctx, job.ID, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// The job is not finalized here; the queue's retry policy decides.
	got, err := env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.IsTerminal())
	assert.True(t, got.Status.IsRunning())

	// Redelivery closes out the interrupted attempt and restarts it.
	env.engine.panics = false
	require.NoError(t, env.processor.ProcessJob(ctx, job.ID, 2))

	got, err = env.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestProcessor_UnknownJobIsAcked(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.processor.ProcessJob(context.Background(), "job_ghost", 1))
}
