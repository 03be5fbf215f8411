package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/models"
	"github.com/myinstaller/deployd/internal/queue"
)

func TestPool_ProcessesQueuedJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	q, err := queue.New(env.manager.DB(), queue.Options{Name: "deployments-test", BackoffBase: 10 * time.Millisecond}, arbor.NewLogger())
	require.NoError(t, err)

	first := env.seedJob(t, nil)
	second := env.seedJob(t, func(j *models.Job) { j.DryRun = true })

	for _, job := range []*models.Job{first, second} {
		payload, err := json.Marshal(&models.QueueMessage{JobID: job.ID})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, job.ID, payload))
	}

	pool := NewPool(q, env.processor, arbor.NewLogger(), PoolOptions{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
		MaxReceive:   3,
	})
	pool.Start()
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		a, err := env.manager.JobStorage().GetJob(ctx, first.ID)
		if err != nil || a.Status != models.JobStatusCompleted {
			return false
		}
		b, err := env.manager.JobStorage().GetJob(ctx, second.ID)
		return err == nil && b.Status == models.JobStatusDryRunCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Waiting == 0 && stats.Active == 0 && stats.Completed == 2
	}, 5*time.Second, 20*time.Millisecond)
}
