// Package render turns profile templates into the exact payload a target
// receives. All functions are pure: same inputs, byte-identical output, no
// I/O and no hidden randomness.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/myinstaller/deployd/internal/crypto"
)

// ScriptVars carries the named variables substituted into a shell-script
// template.
type ScriptVars struct {
	ProfileName     string
	ProfileSlug     string
	Variables       map[string]string
	ExtraPackages   []string
	EnvVars         map[string]string
	PostInstallCmds []string
	AutoReboot      bool
}

// CloudInitVars carries the variables substituted into a cloud-init template.
type CloudInitVars struct {
	ProfileName string
	ProfileSlug string
	Variables   map[string]string
}

// ShellScript renders a shell-script template: substitutes {{VAR}}-style
// placeholders and appends the requested environment, package, post-install
// and reboot blocks. Unresolved placeholders are left as literal text.
func ShellScript(template string, vars ScriptVars) string {
	script := substitute(template, vars.ProfileName, vars.ProfileSlug, vars.Variables)

	var b strings.Builder
	b.WriteString(script)
	if !strings.HasSuffix(script, "\n") {
		b.WriteString("\n")
	}

	if len(vars.EnvVars) > 0 {
		b.WriteString("\n# --- Environment variables ---\n")
		for _, key := range sortedKeys(vars.EnvVars) {
			fmt.Fprintf(&b, "export %s=%q\n", key, vars.EnvVars[key])
		}
	}

	if len(vars.ExtraPackages) > 0 {
		b.WriteString("\n# --- Extra packages ---\n")
		fmt.Fprintf(&b, "apt-get install -y %s\n", strings.Join(vars.ExtraPackages, " "))
	}

	if len(vars.PostInstallCmds) > 0 {
		b.WriteString("\n# --- Post-install commands ---\n")
		for _, cmd := range vars.PostInstallCmds {
			b.WriteString(cmd)
			b.WriteString("\n")
		}
	}

	if vars.AutoReboot {
		b.WriteString("\n# --- Reboot ---\n")
		fmt.Fprintf(&b, "echo \"Setup for %s complete. Rebooting...\"\n", vars.ProfileName)
		b.WriteString("reboot\n")
	}

	return b.String()
}

// CloudInit renders a cloud-init template with {{VAR}}-style placeholders.
// Unresolved placeholders are left as literal text rather than failing; a
// cloud-init document may legitimately contain {{...}} sequences the renderer
// does not know about (permissive policy).
func CloudInit(template string, vars CloudInitVars) string {
	return substitute(template, vars.ProfileName, vars.ProfileSlug, vars.Variables)
}

// DryRunScript generates a script that prints what a deployment would do
// without changing anything. Used for the user-facing download flow.
func DryRunScript(profileName string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("# Dry-run preview - makes no changes to this system.\n")
	b.WriteString("set -euo pipefail\n\n")
	fmt.Fprintf(&b, "echo \"=== Dry run: %s ===\"\n", profileName)
	b.WriteString("echo \"[1/5] Would validate target configuration\"\n")
	b.WriteString("echo \"[2/5] Would update package lists\"\n")
	fmt.Fprintf(&b, "echo \"[3/5] Would apply profile: %s\"\n", profileName)
	b.WriteString("echo \"[4/5] Would run post-install commands\"\n")
	b.WriteString("echo \"[5/5] Would verify service health\"\n")
	b.WriteString("echo \"Dry run complete. No changes were made.\"\n")
	return b.String()
}

// BootstrapCommand builds the curl-pipe command a user runs to fetch and
// execute a rendered script, with the script checksum attached so the
// download can be verified out of band.
func BootstrapCommand(script, baseURL, slug string) string {
	base := strings.TrimRight(baseURL, "/")
	checksum := crypto.Checksum(script)
	return fmt.Sprintf("curl -fsSL %s/api/bootstrap/%s.sh | bash  # sha256:%s", base, slug, checksum[:16])
}

// substitute replaces {{PROFILE_NAME}}, {{PROFILE_SLUG}} and one {{KEY}}
// placeholder per extra variable. Variable keys are applied in sorted order
// so output is deterministic regardless of map iteration.
func substitute(template, profileName, profileSlug string, variables map[string]string) string {
	out := strings.ReplaceAll(template, "{{PROFILE_NAME}}", profileName)
	out = strings.ReplaceAll(out, "{{PROFILE_SLUG}}", profileSlug)
	for _, key := range sortedKeys(variables) {
		out = strings.ReplaceAll(out, "{{"+key+"}}", variables[key])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
