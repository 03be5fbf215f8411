// Package scheduler runs periodic housekeeping: a queue depth heartbeat,
// Badger value-log garbage collection and rate limiter eviction.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/ratelimit"
)

// GCRunner is the storage hook for value-log garbage collection.
type GCRunner interface {
	RunValueLogGC() error
}

// Scheduler owns the cron runner for background maintenance.
type Scheduler struct {
	queue   interfaces.WorkQueue
	gc      GCRunner
	limiter *ratelimit.KeyedLimiter
	cron    *cron.Cron
	logger  arbor.ILogger
}

// New creates a maintenance scheduler
func New(queue interfaces.WorkQueue, gc GCRunner, limiter *ratelimit.KeyedLimiter, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		queue:   queue,
		gc:      gc,
		limiter: limiter,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start(statsSchedule, gcSchedule string) error {
	if statsSchedule == "" {
		statsSchedule = "@every 1m"
	}
	if gcSchedule == "" {
		gcSchedule = "@every 10m"
	}

	if _, err := s.cron.AddFunc(statsSchedule, s.reportQueueStats); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(gcSchedule, s.runMaintenance); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("stats_schedule", statsSchedule).
		Str("gc_schedule", gcSchedule).
		Msg("Maintenance scheduler started")

	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

func (s *Scheduler) reportQueueStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to collect queue stats")
		return
	}

	s.logger.Info().
		Int("waiting", stats.Waiting).
		Int("active", stats.Active).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int("dead", stats.Dead).
		Msg("Queue depth")
}

func (s *Scheduler) runMaintenance() {
	// Badger returns ErrNoRewrite when there is nothing to collect; that is
	// the common case and not worth logging.
	if err := s.gc.RunValueLogGC(); err == nil {
		s.logger.Debug().Msg("Badger value-log GC rewrote a file")
	}

	if s.limiter != nil {
		if removed := s.limiter.EvictStale(); removed > 0 {
			s.logger.Debug().Int("removed", removed).Msg("Evicted idle rate limiter buckets")
		}
	}
}
