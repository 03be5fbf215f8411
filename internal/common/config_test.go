package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "deployments", config.Queue.QueueName)
	assert.Equal(t, 2, config.Queue.Concurrency)
	assert.Equal(t, 3, config.Queue.MaxReceive)
	assert.Equal(t, time.Second, config.PollIntervalDuration())
	assert.Equal(t, 5*time.Minute, config.VisibilityTimeoutDuration())
	assert.Equal(t, 5*time.Second, config.BackoffBaseDuration())
}

func TestLoadFromFiles_FileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[queue]
concurrency = 5
`), 0644))

	t.Setenv("DEPLOYD_QUEUE_CONCURRENCY", "7")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 7, config.Queue.Concurrency, "env should override file")
	assert.Equal(t, "deployments", config.Queue.QueueName, "defaults survive partial files")
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 7000, "0.0.0.0")

	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 7000, config.Server.Port, "zero values leave config untouched")
}

func TestConfigValidate_RejectsShortEncryptionKey(t *testing.T) {
	config := NewDefaultConfig()
	config.Security.EncryptionKey = "too-short"
	assert.Error(t, config.Validate())

	config.Security.EncryptionKey = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, config.Validate())
}
