package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/models"
)

// newTestEngine builds an engine whose simulation adapter runs without
// artificial delays.
func newTestEngine(executor RemoteExecutor) *Engine {
	e := NewEngine(arbor.NewLogger(), executor)
	e.adapters[0].(*SimulationAdapter).sleep = noSleep
	e.fallback.(*SimulationAdapter).sleep = noSleep
	return e
}

func passwordContext() *Context {
	return &Context{
		JobID: models.NewJobID(),
		Target: Target{
			Host:       "203.0.113.10",
			Port:       22,
			Username:   "root",
			AuthMethod: models.AuthMethodPassword,
			Credential: "hunter2",
		},
		ProfileName:   "Ubuntu 24.04 Minimal",
		ProfileSlug:   "ubuntu-2404-minimal",
		ScriptContent: "#!/bin/bash\necho hi\n",
	}
}

func TestSelectAdapter_DryRunAlwaysSimulation(t *testing.T) {
	engine := newTestEngine(nil)

	// Even with a cloud-init template and SSH credentials present, dry run
	// overrides everything else.
	dctx := passwordContext()
	dctx.DryRun = true
	dctx.CloudInitContent = "#cloud-config\n"

	adapter := engine.SelectAdapter(dctx)
	assert.Equal(t, SimulationAdapterName, adapter.Name())
}

func TestSelectAdapter_PriorityOrder(t *testing.T) {
	engine := newTestEngine(nil)

	// Cloud-init template present wins over SSH.
	dctx := passwordContext()
	dctx.CloudInitContent = "#cloud-config\n"
	assert.Equal(t, CloudInitAdapterName, engine.SelectAdapter(dctx).Name())

	// SSH when only an auth method is set.
	dctx = passwordContext()
	assert.Equal(t, GenericSSHAdapterName, engine.SelectAdapter(dctx).Name())
}

func TestSelectAdapter_FallbackWhenNothingMatches(t *testing.T) {
	engine := newTestEngine(nil)

	// Not a dry run, no cloud-init, no auth method: nothing can handle it.
	dctx := &Context{JobID: models.NewJobID()}

	adapter := engine.SelectAdapter(dctx)
	require.NotNil(t, adapter)
	assert.Equal(t, SimulationAdapterName, adapter.Name())
}

func TestSimulationAdapter_DryRunStepSequence(t *testing.T) {
	engine := newTestEngine(nil)

	dctx := passwordContext()
	dctx.DryRun = true
	dctx.ExtraPackages = []string{"htop"}
	dctx.PostInstallCmds = []string{"systemctl restart nginx"}
	dctx.AutoReboot = true
	dctx.HealthCheck = true

	result := engine.Execute(context.Background(), dctx)
	require.True(t, result.Success)
	assert.Equal(t, SimulationAdapterName, result.AdapterUsed)

	// Full sequence: validate, connectivity, render, upload, execute,
	// packages, post-install, reboot, health check, cleanup.
	require.Len(t, result.Steps, 10)
	assert.Equal(t, "validate_target", result.Steps[0].Step)
	assert.Equal(t, "cleanup", result.Steps[len(result.Steps)-1].Step)
	for _, step := range result.Steps {
		assert.True(t, step.Success, "step %s", step.Step)
	}
}

func TestSimulationAdapter_SkipsConditionalSteps(t *testing.T) {
	engine := newTestEngine(nil)

	dctx := passwordContext()
	dctx.DryRun = true

	result := engine.Execute(context.Background(), dctx)
	require.True(t, result.Success)

	// No packages, post-install, reboot or health check requested.
	require.Len(t, result.Steps, 6)
	steps := make(map[string]bool)
	for _, s := range result.Steps {
		steps[s.Step] = true
	}
	assert.False(t, steps["install_packages"])
	assert.False(t, steps["reboot"])
	assert.False(t, steps["health_check"])
}

func TestCloudInitAdapter_Execute(t *testing.T) {
	engine := newTestEngine(nil)

	dctx := passwordContext()
	dctx.CloudInitContent = "#cloud-config\npackages:\n  - docker.io\n"

	result := engine.Execute(context.Background(), dctx)
	require.True(t, result.Success)
	assert.Equal(t, CloudInitAdapterName, result.AdapterUsed)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "render_cloudinit", result.Steps[1].Step)
	assert.Equal(t, "generate_output", result.Steps[2].Step)
}

func TestGenericSSHAdapter_ValidateTarget(t *testing.T) {
	adapter := NewGenericSSHAdapter(nil)

	tests := []struct {
		name    string
		mutate  func(*Context)
		message string
	}{
		{"missing host", func(c *Context) { c.Target.Host = "" }, "Target host is required"},
		{"port too low", func(c *Context) { c.Target.Port = 0 }, "Invalid SSH port"},
		{"port too high", func(c *Context) { c.Target.Port = 70000 }, "Invalid SSH port"},
		{"missing credential", func(c *Context) { c.Target.Credential = "" }, "Authentication credential is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dctx := passwordContext()
			tt.mutate(dctx)

			step := adapter.ValidateTarget(dctx)
			assert.False(t, step.Success)
			assert.Equal(t, tt.message, step.Message)
			assert.Equal(t, "validate_target", step.Step)
		})
	}
}

func TestGenericSSHAdapter_ValidateTarget_BadPrivateKey(t *testing.T) {
	adapter := NewGenericSSHAdapter(nil)

	dctx := passwordContext()
	dctx.Target.AuthMethod = models.AuthMethodPrivateKey
	dctx.Target.Credential = "not a pem key"

	step := adapter.ValidateTarget(dctx)
	assert.False(t, step.Success)
	assert.Equal(t, "Private key is not a valid SSH key", step.Message)
}

func TestGenericSSHAdapter_ValidationFailureFailsExecution(t *testing.T) {
	engine := newTestEngine(nil)

	dctx := passwordContext()
	dctx.Target.Host = ""

	result := engine.Execute(context.Background(), dctx)
	require.False(t, result.Success)
	assert.Equal(t, GenericSSHAdapterName, result.AdapterUsed)
	assert.Equal(t, "Target host is required", result.Error)
	require.Len(t, result.Steps, 1)
	assert.False(t, result.Steps[0].Success)
}

func TestGenericSSHAdapter_PendingExecution(t *testing.T) {
	engine := newTestEngine(nil)

	dctx := passwordContext()
	dctx.HealthCheck = true

	result := engine.Execute(context.Background(), dctx)
	require.True(t, result.Success)
	assert.Equal(t, GenericSSHAdapterName, result.AdapterUsed)

	// validate + ssh_connect + render_script + execute + health_check
	require.Len(t, result.Steps, 5)
	assert.Contains(t, result.Steps[1].Message, "[PENDING]")
	assert.Equal(t, "health_check", result.Steps[4].Step)
}

type panickingExecutor struct{}

func (e *panickingExecutor) Run(ctx context.Context, dctx *Context) ([]StepResult, error) {
	panic("executor blew up")
}

func TestEngine_ConvertsPanicToEngineError(t *testing.T) {
	engine := newTestEngine(&panickingExecutor{})

	dctx := passwordContext()

	result := engine.Execute(context.Background(), dctx)
	require.NotNil(t, result)
	require.False(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "engine_error", result.Steps[0].Step)
	assert.Contains(t, result.Steps[0].Message, "executor blew up")
	assert.Equal(t, "executor blew up", result.Error)
}

type failingExecutor struct{}

func (e *failingExecutor) Run(ctx context.Context, dctx *Context) ([]StepResult, error) {
	return []StepResult{{Step: "ssh_connect", Success: false, Message: "connection refused"}}, assert.AnError
}

func TestGenericSSHAdapter_ExecutorErrorFailsResult(t *testing.T) {
	engine := newTestEngine(&failingExecutor{})

	result := engine.Execute(context.Background(), passwordContext())
	require.False(t, result.Success)
	assert.Equal(t, assert.AnError.Error(), result.Error)
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[1].Success)
}
