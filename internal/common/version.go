package common

import (
	"os"
	"path/filepath"
	"strings"
)

// Build identity, injected at link time:
//
//	go build -ldflags "-X .../internal/common.Version=1.2.3 ..."
//
// Version falls back to a .version file next to the binary so packaged
// installs report something useful without a rebuild.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

func GetVersion() string   { return Version }
func GetBuild() string     { return Build }
func GetGitCommit() string { return GitCommit }

// LoadVersionFromFile overrides Version from a .version file in the
// executable's directory, when present. Missing or empty files leave the
// linked-in value alone.
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return Version
	}

	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
