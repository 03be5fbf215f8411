package deploy

import (
	"context"
	"fmt"
	"time"
)

// CloudInitAdapterName is recorded on jobs executed by the cloud-init path.
const CloudInitAdapterName = "CloudInitAdapter"

// CloudInitAdapter generates cloud-init user-data for cloud instance
// provisioning. Its entire contract is "produce configuration text": it
// never opens a network connection; the cloud provider's init system applies
// the output on first boot.
type CloudInitAdapter struct{}

// NewCloudInitAdapter creates the cloud-init adapter.
func NewCloudInitAdapter() *CloudInitAdapter {
	return &CloudInitAdapter{}
}

func (a *CloudInitAdapter) Name() string { return CloudInitAdapterName }

func (a *CloudInitAdapter) Description() string {
	return "Generates cloud-init user-data for cloud instance provisioning. Does not execute remote commands."
}

// CanHandle returns true iff a cloud-init template is present on the context.
func (a *CloudInitAdapter) CanHandle(dctx *Context) bool {
	return dctx.CloudInitContent != ""
}

// ValidateTarget checks only that a rendered cloud-init document exists.
func (a *CloudInitAdapter) ValidateTarget(dctx *Context) StepResult {
	if dctx.CloudInitContent == "" {
		return StepResult{
			Step:    "validate_target",
			Success: false,
			Message: "No cloud-init template available for this profile",
		}
	}
	return StepResult{
		Step:    "validate_target",
		Success: true,
		Message: "Cloud-init template validates successfully",
		Metadata: map[string]interface{}{
			"template_length": len(dctx.CloudInitContent),
		},
	}
}

func (a *CloudInitAdapter) Execute(ctx context.Context, dctx *Context) *Result {
	start := time.Now()

	validate := a.ValidateTarget(dctx)
	steps := []StepResult{validate}
	if !validate.Success {
		return &Result{
			Success:       false,
			AdapterUsed:   a.Name(),
			Steps:         steps,
			Error:         validate.Message,
			TotalDuration: time.Since(start),
		}
	}

	steps = append(steps, StepResult{
		Step:    "render_cloudinit",
		Success: true,
		Message: fmt.Sprintf("Cloud-init user-data rendered (%d bytes)", len(dctx.CloudInitContent)),
		Metadata: map[string]interface{}{
			"format": "yaml",
			"size":   len(dctx.CloudInitContent),
		},
	})

	steps = append(steps, StepResult{
		Step:    "generate_output",
		Success: true,
		Message: "Cloud-init YAML is ready. Apply it to your cloud instance as user-data during creation.",
		Metadata: map[string]interface{}{
			"note": "This adapter generates configuration only. No remote execution is performed.",
		},
	})

	return &Result{
		Success:       true,
		AdapterUsed:   a.Name(),
		Steps:         steps,
		TotalDuration: time.Since(start),
	}
}
