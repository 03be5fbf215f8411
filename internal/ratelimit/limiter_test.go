package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_BurstThenThrottle(t *testing.T) {
	l := New(60, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("user-1"), "burst request %d should pass", i)
	}
	assert.False(t, l.Allow("user-1"), "request past the burst should be throttled")

	// Other keys have their own bucket
	assert.True(t, l.Allow("user-2"))
}

func TestKeyedLimiter_EvictStale(t *testing.T) {
	l := New(60, 1, time.Minute)

	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow("old")
	current = current.Add(30 * time.Second)
	l.Allow("fresh")
	assert.Equal(t, 2, l.Len())

	current = current.Add(45 * time.Second)
	removed := l.EvictStale()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())

	// The evicted key gets a fresh bucket with a full burst
	assert.True(t, l.Allow("old"))
}
