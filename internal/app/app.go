// Package app wires configuration, storage, the queue, the deployment
// engine, the worker pool and the HTTP handlers into one lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/common"
	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/deploy"
	"github.com/myinstaller/deployd/internal/handlers"
	"github.com/myinstaller/deployd/internal/jobs"
	"github.com/myinstaller/deployd/internal/queue"
	"github.com/myinstaller/deployd/internal/ratelimit"
	"github.com/myinstaller/deployd/internal/scheduler"
	storagebadger "github.com/myinstaller/deployd/internal/storage/badger"
	"github.com/myinstaller/deployd/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storagebadger.Manager
	Queue          *queue.Queue
	Codec          *crypto.Codec
	Engine         *deploy.Engine
	JobService     *jobs.Service
	WorkerPool     *worker.Pool
	Scheduler      *scheduler.Scheduler
	RateLimiter    *ratelimit.KeyedLimiter

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	JobHandler       *handlers.JobHandler
	ProfileHandler   *handlers.ProfileHandler
	BootstrapHandler *handlers.BootstrapHandler
	LogStreamHandler *handlers.LogStreamHandler
}

// New initializes the application. Fails fast on misconfiguration; nothing
// is started until Start is called.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := crypto.NewCodec(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	storageManager, err := storagebadger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := storagebadger.LoadProfilesFromFiles(context.Background(), storageManager.ProfileStorage(), cfg.Profiles.Dir, logger); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	q, err := queue.New(storageManager.DB(), queue.Options{
		Name:              cfg.Queue.QueueName,
		VisibilityTimeout: cfg.VisibilityTimeoutDuration(),
		MaxReceive:        cfg.Queue.MaxReceive,
		BackoffBase:       cfg.BackoffBaseDuration(),
	}, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	engine := deploy.NewEngine(logger, nil)
	jobService := jobs.NewService(storageManager, q, codec, logger)
	processor := worker.NewProcessor(storageManager, codec, engine, logger)
	pool := worker.NewPool(q, processor, logger, worker.PoolOptions{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.PollIntervalDuration(),
		MaxReceive:   cfg.Queue.MaxReceive,
	})
	limiter := ratelimit.New(cfg.RateLimit.CreatePerMinute, cfg.RateLimit.Burst, cfg.RateLimitTTLDuration())

	a := &App{
		Config:         cfg,
		Logger:         logger,
		StorageManager: storageManager,
		Queue:          q,
		Codec:          codec,
		Engine:         engine,
		JobService:     jobService,
		WorkerPool:     pool,
		Scheduler:      scheduler.New(q, storageManager, limiter, logger),
		RateLimiter:    limiter,
	}

	a.APIHandler = handlers.NewAPIHandler(jobService, logger)
	a.JobHandler = handlers.NewJobHandler(jobService, limiter, logger)
	a.ProfileHandler = handlers.NewProfileHandler(storageManager.ProfileStorage(), logger)
	a.BootstrapHandler = handlers.NewBootstrapHandler(storageManager.ProfileStorage(), cfg.Bootstrap.BaseURL, logger)
	a.LogStreamHandler = handlers.NewLogStreamHandler(jobService, logger)

	logger.Info().Str("queue", cfg.Queue.QueueName).Msg("Application initialized")

	return a, nil
}

// Start launches the background components
func (a *App) Start() error {
	a.WorkerPool.Start()
	if err := a.Scheduler.Start(a.Config.Maintenance.StatsSchedule, a.Config.Maintenance.GCSchedule); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close stops background components and closes storage
func (a *App) Close() error {
	a.Scheduler.Stop()
	a.WorkerPool.Stop()
	a.Queue.Close()
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing storage")
		return err
	}
	a.Logger.Info().Msg("Application closed")
	return nil
}
