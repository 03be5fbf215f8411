package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/queue"
)

// PoolOptions configures the worker pool.
type PoolOptions struct {
	Concurrency  int
	PollInterval time.Duration
	MaxReceive   int
}

// Pool manages a fixed set of workers that poll the queue and process
// deployment jobs.
type Pool struct {
	queue     interfaces.WorkQueue
	processor *Processor
	logger    arbor.ILogger
	opts      PoolOptions
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPool creates a worker pool
func NewPool(q interfaces.WorkQueue, processor *Processor, logger arbor.ILogger, opts PoolOptions) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxReceive <= 0 {
		opts.MaxReceive = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:     q,
		processor: processor,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the worker goroutines
func (p *Pool) Start() {
	p.logger.Info().
		Int("concurrency", p.opts.Concurrency).
		Dur("poll_interval", p.opts.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops the pool and waits for in-flight attempts to finish
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	// Stagger worker starts to spread polls across the interval
	staggerDelay := (p.opts.PollInterval / time.Duration(p.opts.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	p.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			// Drain until the queue is empty, then go back to polling
			for {
				if err := p.processOne(workerID); err != nil {
					if !errors.Is(err, queue.ErrNoMessage) {
						p.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Error processing queue message")
					}
					break
				}
				if p.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processOne receives and processes a single message
func (p *Pool) processOne(workerID int) error {
	msg, delivery, err := p.queue.Receive(p.ctx)
	if err != nil {
		return err
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Str("job_id", msg.JobID).
		Int("attempt", delivery.Attempt()).
		Msg("Received deployment job")

	if err := p.processor.ProcessJob(p.ctx, msg.JobID, delivery.Attempt()); err != nil {
		if delivery.Attempt() >= p.opts.MaxReceive {
			// The delivery is about to dead-letter; do not leave the job
			// stuck in a running state.
			p.processor.MarkFailed(p.ctx, msg.JobID, "Job failed after repeated attempts")
		}
		if nackErr := delivery.Nack(err.Error()); nackErr != nil {
			p.logger.Warn().Err(nackErr).Str("job_id", msg.JobID).Msg("Failed to nack delivery")
		}
		return nil
	}

	if err := delivery.Ack(); err != nil {
		p.logger.Warn().Err(err).Str("job_id", msg.JobID).Msg("Failed to ack delivery")
	}
	return nil
}
