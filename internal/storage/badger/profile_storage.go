package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// ProfileStorage implements the ProfileStorage interface for Badger
type ProfileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProfileStorage creates a new ProfileStorage instance
func NewProfileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProfileStorage {
	return &ProfileStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProfileStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	if profile.ID == "" {
		return fmt.Errorf("profile ID is required")
	}
	if profile.Slug == "" {
		return fmt.Errorf("profile slug is required")
	}

	if err := s.db.Store().Upsert(profile.ID, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *ProfileStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("profile not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

func (s *ProfileStorage) GetProfileBySlug(ctx context.Context, slug string) (*models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("Slug").Eq(slug)); err != nil {
		return nil, fmt.Errorf("failed to get profile by slug: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("profile not found: %s", slug)
	}
	return &profiles[0], nil
}

func (s *ProfileStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	result := make([]*models.Profile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}
