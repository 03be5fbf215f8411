package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const ubuntuProfileTOML = `
slug = "ubuntu-docker"
name = "Ubuntu 22.04 + Docker"
os_family = "ubuntu"
os_version = "22.04"
category = "container"
description = "Docker CE on Ubuntu 22.04"
script_template = "#!/bin/bash\necho 'installing {{PROFILE_NAME}}'"
cloud_init_template = "#cloud-config\nhostname: {{PROFILE_SLUG}}"
`

func TestLoadProfilesFromFiles(t *testing.T) {
	db := newTestDB(t)
	storage := NewProfileStorage(db, arbor.NewLogger())
	logger := arbor.NewLogger()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ubuntu-docker.toml"), []byte(ubuntuProfileTOML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("slug = ["), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-script.toml"), []byte(`slug = "empty"`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("not a profile"), 0644))

	require.NoError(t, LoadProfilesFromFiles(ctx, storage, dir, logger))

	profile, err := storage.GetProfileBySlug(ctx, "ubuntu-docker")
	require.NoError(t, err)
	assert.Equal(t, "prof_ubuntu-docker", profile.ID)
	assert.Equal(t, "Ubuntu 22.04 + Docker", profile.Name)
	assert.True(t, profile.HasCloudInit())
	assert.False(t, profile.CreatedAt.IsZero())

	// Broken and incomplete files are skipped, not fatal
	profiles, err := storage.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestLoadProfilesFromFiles_MissingDir(t *testing.T) {
	db := newTestDB(t)
	storage := NewProfileStorage(db, arbor.NewLogger())

	err := LoadProfilesFromFiles(context.Background(), storage, filepath.Join(t.TempDir(), "nope"), arbor.NewLogger())
	assert.NoError(t, err)
}

func TestLoadProfilesFromFiles_ReloadUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	storage := NewProfileStorage(db, arbor.NewLogger())
	logger := arbor.NewLogger()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "ubuntu-docker.toml")
	require.NoError(t, os.WriteFile(path, []byte(ubuntuProfileTOML), 0644))
	require.NoError(t, LoadProfilesFromFiles(ctx, storage, dir, logger))

	updated := []byte(`
slug = "ubuntu-docker"
name = "Ubuntu 24.04 + Docker"
os_family = "ubuntu"
os_version = "24.04"
script_template = "#!/bin/bash\necho hi"
`)
	require.NoError(t, os.WriteFile(path, updated, 0644))
	require.NoError(t, LoadProfilesFromFiles(ctx, storage, dir, logger))

	profile, err := storage.GetProfileBySlug(ctx, "ubuntu-docker")
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu 24.04 + Docker", profile.Name)
	assert.Equal(t, "24.04", profile.OSVersion)

	profiles, err := storage.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}
