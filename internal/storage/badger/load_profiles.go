package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// LoadProfilesFromFiles loads deployment profiles from TOML files in the
// specified directory. Files that fail to read or parse are skipped with a
// warning; a missing directory is not an error.
func LoadProfilesFromFiles(ctx context.Context, profileStorage interfaces.ProfileStorage, profilesDir string, logger arbor.ILogger) error {
	if _, err := os.Stat(profilesDir); os.IsNotExist(err) {
		logger.Debug().Str("dir", profilesDir).Msg("Profiles directory does not exist, skipping")
		return nil
	}

	logger.Info().Str("dir", profilesDir).Msg("Loading deployment profiles from files")

	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return fmt.Errorf("failed to read profiles directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}

		filePath := filepath.Join(profilesDir, entry.Name())

		tomlBytes, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read profile file")
			continue
		}

		var profile models.Profile
		if err := toml.Unmarshal(tomlBytes, &profile); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse profile TOML")
			continue
		}

		if profile.Slug == "" {
			logger.Warn().Str("file", entry.Name()).Msg("Profile file has no slug, skipping")
			continue
		}
		if profile.ID == "" {
			profile.ID = "prof_" + profile.Slug
		}
		if profile.Name == "" {
			profile.Name = profile.Slug
		}
		if profile.ScriptTemplate == "" {
			logger.Warn().Str("file", entry.Name()).Str("slug", profile.Slug).Msg("Profile file has no script template, skipping")
			continue
		}
		profile.CreatedAt = time.Now()

		if err := profileStorage.SaveProfile(ctx, &profile); err != nil {
			logger.Warn().Err(err).Str("slug", profile.Slug).Msg("Failed to save profile")
			continue
		}

		logger.Debug().Str("slug", profile.Slug).Str("name", profile.Name).Msg("Loaded deployment profile")
		loadedCount++
	}

	logger.Info().Int("count", loadedCount).Msg("Deployment profiles loaded")
	return nil
}
