package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
)

// Engine orchestrates adapter selection and invocation. It converts adapter
// panics into a uniform failed Result: callers always get a Result back.
//
// Adapter selection priority:
//  1. SimulationAdapter (always used for dry-run)
//  2. CloudInitAdapter (when a cloud-init template is available)
//  3. GenericSSHAdapter (for SSH-based deployments)
//
// Workflows the engine cannot safely execute in a provider-agnostic way
// (OS reinstallation, disk partitioning, bootloader changes) are routed to
// the SimulationAdapter.
type Engine struct {
	adapters []Adapter
	fallback Adapter
	logger   arbor.ILogger
}

// NewEngine creates an engine with the standard adapter set. A nil executor
// gives the SSH adapter its pending (no network I/O) default.
func NewEngine(logger arbor.ILogger, executor RemoteExecutor) *Engine {
	simulation := NewSimulationAdapter()
	return &Engine{
		adapters: []Adapter{
			simulation,
			NewCloudInitAdapter(),
			NewGenericSSHAdapter(executor),
		},
		fallback: simulation,
		logger:   logger,
	}
}

// SelectAdapter returns the adapter that will execute the context. Dry runs
// always get the SimulationAdapter; otherwise adapters are tried in priority
// order, and a context nothing can handle falls back to simulation with a
// warning. Selection never fails.
func (e *Engine) SelectAdapter(dctx *Context) Adapter {
	if dctx.DryRun {
		return e.fallback
	}

	for _, adapter := range e.adapters {
		if adapter.CanHandle(dctx) {
			return adapter
		}
	}

	e.logger.Warn().
		Str("job_id", dctx.JobID).
		Msg("No suitable adapter found. Falling back to simulation mode.")
	return e.fallback
}

// Execute selects an adapter and runs the deployment. Any panic escaping the
// adapter is converted into a single-step failed Result ("engine_error")
// rather than propagating.
func (e *Engine) Execute(ctx context.Context, dctx *Context) (result *Result) {
	e.logger.Info().
		Str("job_id", dctx.JobID).
		Bool("dry_run", dctx.DryRun).
		Str("profile", dctx.ProfileSlug).
		Msg("Starting deployment")

	adapter := e.SelectAdapter(dctx)
	e.logger.Info().
		Str("job_id", dctx.JobID).
		Str("adapter", adapter.Name()).
		Msg("Selected deployment adapter")

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			e.logger.Error().
				Str("job_id", dctx.JobID).
				Str("panic", msg).
				Msg("Deployment engine error")
			result = &Result{
				Success:     false,
				AdapterUsed: adapter.Name(),
				Steps: []StepResult{{
					Step:    "engine_error",
					Success: false,
					Message: fmt.Sprintf("Deployment engine error: %s", msg),
				}},
				Error:         msg,
				TotalDuration: time.Since(start),
			}
		}
	}()

	result = adapter.Execute(ctx, dctx)

	if result.Success {
		e.logger.Info().
			Str("job_id", dctx.JobID).
			Str("adapter", adapter.Name()).
			Dur("duration", result.TotalDuration).
			Msg("Deployment completed successfully")
	} else {
		e.logger.Error().
			Str("job_id", dctx.JobID).
			Str("adapter", adapter.Name()).
			Str("error", result.Error).
			Msg("Deployment failed")
	}

	return result
}
