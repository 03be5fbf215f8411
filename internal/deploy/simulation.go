package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SimulationAdapterName is recorded on jobs executed by the simulation path.
const SimulationAdapterName = "SimulationAdapter"

// SimulationAdapter simulates the full deployment pipeline with realistic
// timings and progressive log output. It handles every dry run and is the
// mandatory fallback when no other adapter can handle a context; workflows
// that would need provider-specific APIs always land here.
type SimulationAdapter struct {
	sleep sleepFunc
}

// NewSimulationAdapter creates the simulation adapter with real step delays.
func NewSimulationAdapter() *SimulationAdapter {
	return &SimulationAdapter{sleep: defaultSleep}
}

func (a *SimulationAdapter) Name() string { return SimulationAdapterName }

func (a *SimulationAdapter) Description() string {
	return "Simulates deployment steps without making real changes. Used for dry-run mode and unsupported provider-specific workflows."
}

// CanHandle returns true whenever the job is a dry run.
func (a *SimulationAdapter) CanHandle(dctx *Context) bool {
	return dctx.DryRun
}

// ValidateTarget simulates target validation and always passes.
func (a *SimulationAdapter) ValidateTarget(dctx *Context) StepResult {
	return StepResult{
		Step:     "validate_target",
		Success:  true,
		Message:  fmt.Sprintf("[SIMULATION] Target %s:%d configuration looks valid", dctx.Target.Host, dctx.Target.Port),
		Duration: 500 * time.Millisecond,
		Metadata: map[string]interface{}{
			"host":      dctx.Target.Host,
			"port":      dctx.Target.Port,
			"username":  dctx.Target.Username,
			"simulated": true,
		},
	}
}

// Execute runs the fixed pseudo-step sequence. Each step carries a
// deliberate delay so progress output looks like a real deployment; the
// sleeps are cooperative and respect ctx cancellation on shutdown.
func (a *SimulationAdapter) Execute(ctx context.Context, dctx *Context) *Result {
	start := time.Now()
	var steps []StepResult

	a.sleep(ctx, 500*time.Millisecond)
	steps = append(steps, a.ValidateTarget(dctx))

	a.sleep(ctx, 800*time.Millisecond)
	steps = append(steps, StepResult{
		Step:     "test_connectivity",
		Success:  true,
		Message:  fmt.Sprintf("[SIMULATION] SSH connectivity to %s would be tested", dctx.Target.Host),
		Duration: 800 * time.Millisecond,
		Metadata: map[string]interface{}{"simulated": true},
	})

	a.sleep(ctx, 300*time.Millisecond)
	steps = append(steps, StepResult{
		Step:     "render_script",
		Success:  true,
		Message:  fmt.Sprintf("[SIMULATION] Script rendered for profile %q (%d bytes)", dctx.ProfileName, len(dctx.ScriptContent)),
		Duration: 300 * time.Millisecond,
		Metadata: map[string]interface{}{
			"script_length": len(dctx.ScriptContent),
			"profile_slug":  dctx.ProfileSlug,
			"simulated":     true,
		},
	})

	a.sleep(ctx, 600*time.Millisecond)
	steps = append(steps, StepResult{
		Step:     "upload_script",
		Success:  true,
		Message:  fmt.Sprintf("[SIMULATION] Script would be uploaded to /tmp/deployd_%s.sh", dctx.JobID),
		Duration: 600 * time.Millisecond,
		Metadata: map[string]interface{}{"simulated": true},
	})

	a.sleep(ctx, 2*time.Second)
	steps = append(steps, StepResult{
		Step:     "execute_script",
		Success:  true,
		Message:  "[SIMULATION] Script execution simulated successfully",
		Duration: 2 * time.Second,
		Metadata: map[string]interface{}{
			"simulated":         true,
			"extra_packages":    dctx.ExtraPackages,
			"post_install_cmds": len(dctx.PostInstallCmds),
		},
	})

	if len(dctx.ExtraPackages) > 0 {
		a.sleep(ctx, time.Second)
		steps = append(steps, StepResult{
			Step:     "install_packages",
			Success:  true,
			Message:  fmt.Sprintf("[SIMULATION] Would install packages: %s", strings.Join(dctx.ExtraPackages, ", ")),
			Duration: time.Second,
			Metadata: map[string]interface{}{"simulated": true, "packages": dctx.ExtraPackages},
		})
	}

	if len(dctx.PostInstallCmds) > 0 {
		a.sleep(ctx, 500*time.Millisecond)
		steps = append(steps, StepResult{
			Step:     "post_install_commands",
			Success:  true,
			Message:  fmt.Sprintf("[SIMULATION] Would execute %d post-install commands", len(dctx.PostInstallCmds)),
			Duration: 500 * time.Millisecond,
			Metadata: map[string]interface{}{"simulated": true, "command_count": len(dctx.PostInstallCmds)},
		})
	}

	if dctx.AutoReboot {
		a.sleep(ctx, 3*time.Second)
		steps = append(steps, StepResult{
			Step:     "reboot",
			Success:  true,
			Message:  "[SIMULATION] System reboot would be triggered",
			Duration: 3 * time.Second,
			Metadata: map[string]interface{}{"simulated": true},
		})
	}

	if dctx.HealthCheck {
		a.sleep(ctx, time.Second)
		steps = append(steps, StepResult{
			Step:     "health_check",
			Success:  true,
			Message:  "[SIMULATION] Post-deployment health check passed",
			Duration: time.Second,
			Metadata: map[string]interface{}{"simulated": true},
		})
	}

	a.sleep(ctx, 200*time.Millisecond)
	steps = append(steps, StepResult{
		Step:     "cleanup",
		Success:  true,
		Message:  "[SIMULATION] Temporary files cleaned up",
		Duration: 200 * time.Millisecond,
		Metadata: map[string]interface{}{"simulated": true},
	})

	return &Result{
		Success:       true,
		AdapterUsed:   a.Name(),
		Steps:         steps,
		TotalDuration: time.Since(start),
	}
}
