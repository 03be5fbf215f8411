package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/common"
	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
	storagebadger "github.com/myinstaller/deployd/internal/storage/badger"
)

type fakeQueue struct {
	enqueued []string
	failNext bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	if q.failNext {
		q.failNext = false
		return errors.New("queue unavailable")
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (*models.QueueMessage, interfaces.Delivery, error) {
	return nil, nil, errors.New("not implemented")
}

func (q *fakeQueue) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	return &interfaces.QueueStats{Waiting: len(q.enqueued)}, nil
}

func (q *fakeQueue) Close() error { return nil }

func newTestService(t *testing.T) (*Service, *fakeQueue, interfaces.StorageManager) {
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
		ScriptTemplate: "#!/bin/bash\necho {{PROFILE_NAME}}",
	}))

	queue := &fakeQueue{}
	return NewService(manager, queue, codec, logger), queue, manager
}

func validInput() *CreateJobInput {
	return &CreateJobInput{
		OwnerID:    "user-1",
		ProfileID:  "prof_ubuntu-docker",
		TargetHost: "198.51.100.7",
		AuthMethod: models.AuthMethodPassword,
		Credential: "hunter2secret",
	}
}

func TestService_CreateJob(t *testing.T) {
	svc, queue, manager := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 22, job.TargetPort)
	assert.Equal(t, "root", job.TargetUser)
	assert.NotEmpty(t, job.CredentialEncrypted)
	assert.NotEqual(t, "hunter2secret", job.CredentialEncrypted)
	assert.Equal(t, "hu****et", job.CredentialMasked)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0])

	logs, err := manager.JobLogStorage().GetLogs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "created")
}

func TestService_CreateJobValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*CreateJobInput)
		message string
	}{
		{"missing host", func(in *CreateJobInput) { in.TargetHost = "" }, "Target host is required"},
		{"bad port", func(in *CreateJobInput) { in.TargetPort = 70000 }, "Invalid SSH port"},
		{"missing credential", func(in *CreateJobInput) { in.Credential = "" }, "Authentication credential is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			tt.mutate(input)
			_, err := svc.CreateJob(ctx, input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.message, verr.Message)
		})
	}
}

func TestService_CreateJobUnknownProfile(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := validInput()
	input.ProfileID = "prof_missing"
	_, err := svc.CreateJob(context.Background(), input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "Unknown deployment profile")
}

func TestService_CreateJobSurvivesQueueOutage(t *testing.T) {
	svc, queue, _ := newTestService(t)
	queue.failNext = true

	job, err := svc.CreateJob(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Empty(t, queue.enqueued)

	// The durable record exists, so a later retry can pick it up
	got, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestService_CancelJob(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, validInput())
	require.NoError(t, err)

	cancelled, err := svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	logs, err := manager.JobLogStorage().GetLogs(ctx, job.ID)
	require.NoError(t, err)
	found := false
	for _, entry := range logs {
		if entry.Message == "Job cancelled by user" && entry.Level == models.LogLevelWarn {
			found = true
		}
	}
	assert.True(t, found, "expected cancellation log entry")

	// A cancelled job cannot be cancelled again
	_, err = svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestService_CancelJobPastValidationIsRejected(t *testing.T) {
	svc, _, manager := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, validInput())
	require.NoError(t, err)

	for _, status := range []models.JobStatus{models.JobStatusValidating, models.JobStatusConnecting} {
		_, err = manager.JobStorage().UpdateJobStatus(ctx, job.ID, status, nil)
		require.NoError(t, err)
	}

	_, err = svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestService_RetryJob(t *testing.T) {
	svc, queue, manager := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, validInput())
	require.NoError(t, err)
	_, err = manager.JobStorage().UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, &interfaces.JobUpdate{ErrorSummary: "boom"})
	require.NoError(t, err)

	retried, err := svc.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.ErrorSummary)
	assert.Len(t, queue.enqueued, 2)

	// Queued jobs cannot be retried
	_, err = svc.RetryJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestService_ListJobsAndStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateJob(ctx, validInput())
	require.NoError(t, err)
	second := validInput()
	second.OwnerID = "user-2"
	_, err = svc.CreateJob(ctx, second)
	require.NoError(t, err)

	jobs, total, err := svc.ListJobs(ctx, &interfaces.JobListOptions{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].ID)

	stats, err := svc.GetStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Queued)
}

func TestJobSanitizedStripsEncryptedCredential(t *testing.T) {
	svc, _, _ := newTestService(t)

	job, err := svc.CreateJob(context.Background(), validInput())
	require.NoError(t, err)

	clean := job.Sanitized()
	assert.Empty(t, clean.CredentialEncrypted)
	assert.NotEmpty(t, clean.CredentialMasked)
	assert.NotEmpty(t, job.CredentialEncrypted, "original must be untouched")
}
