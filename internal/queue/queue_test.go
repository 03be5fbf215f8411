package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
)

func setupQueue(t *testing.T, opts Options) *Queue {
	t.Helper()

	badgerOpts := badger.DefaultOptions(t.TempDir())
	badgerOpts.Logger = nil
	db, err := badger.Open(badgerOpts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if opts.Name == "" {
		opts.Name = "deployments"
	}
	q, err := New(db, opts, arbor.NewLogger())
	require.NoError(t, err)
	return q
}

func TestQueue_EnqueueReceiveAck(t *testing.T) {
	q := setupQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_1", []byte(`{}`)))

	msg, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", msg.JobID)
	assert.Equal(t, 1, delivery.Attempt())

	require.NoError(t, delivery.Ack())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)
}

func TestQueue_EmptyReturnsErrNoMessage(t *testing.T) {
	q := setupQueue(t, Options{})
	_, _, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_DeduplicatesByJobID(t *testing.T) {
	q := setupQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_1", nil))
	require.NoError(t, q.Enqueue(ctx, "job_1", nil)) // coalesced
	require.NoError(t, q.Enqueue(ctx, "job_2", nil))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)

	// After acking, the job id is free to be enqueued again.
	msg, d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack())
	require.NoError(t, q.Enqueue(ctx, msg.JobID, nil))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := setupQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_a", nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "job_b", nil))

	msg, d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_a", msg.JobID)
	require.NoError(t, d.Ack())

	msg, d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_b", msg.JobID)
	require.NoError(t, d.Ack())
}

func TestQueue_NackRedeliversWithBackoff(t *testing.T) {
	q := setupQueue(t, Options{BackoffBase: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_1", nil))

	_, d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack("worker crashed"))

	// Not visible until the backoff elapses.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(40 * time.Millisecond)

	msg, d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", msg.JobID)
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Ack())
}

func TestQueue_DeadLetterAfterMaxReceive(t *testing.T) {
	q := setupQueue(t, Options{MaxReceive: 3, BackoffBase: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_1", nil))

	// Burn through the receive budget.
	for attempt := 1; attempt <= 3; attempt++ {
		var d interfaces.Delivery
		require.Eventually(t, func() bool {
			_, got, err := q.Receive(ctx)
			if err != nil {
				return false
			}
			d = got
			return true
		}, time.Second, 2*time.Millisecond)
		assert.Equal(t, attempt, d.Attempt())
		require.NoError(t, d.Nack("still failing"))
	}

	// The third nack dead-letters the message.
	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Waiting)

	// Dead-lettering releases the dedup marker.
	require.NoError(t, q.Enqueue(ctx, "job_1", nil))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestQueue_VisibilityTimeoutRedelivery(t *testing.T) {
	q := setupQueue(t, Options{VisibilityTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job_1", nil))

	// Claim without acking, simulating a crashed worker.
	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(50 * time.Millisecond)

	msg, d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", msg.JobID)
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Ack())
}
