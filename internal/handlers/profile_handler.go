package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// ProfileHandler serves the deployment profile catalog
type ProfileHandler struct {
	profileStorage interfaces.ProfileStorage
	logger         arbor.ILogger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profileStorage interfaces.ProfileStorage, logger arbor.ILogger) *ProfileHandler {
	return &ProfileHandler{
		profileStorage: profileStorage,
		logger:         logger,
	}
}

// profileSummary is the list representation; templates are omitted because
// they can be large.
type profileSummary struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	OSFamily    string `json:"os_family"`
	OSVersion   string `json:"os_version"`
	Category    string `json:"category"`
	Description string `json:"description"`
	CloudInit   bool   `json:"cloud_init"`
}

// ListProfilesHandler returns the profile catalog
// GET /api/profiles
func (h *ProfileHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	profiles, err := h.profileStorage.ListProfiles(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list profiles")
		WriteError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	summaries := make([]profileSummary, len(profiles))
	for i, p := range profiles {
		summaries[i] = profileSummary{
			ID:          p.ID,
			Slug:        p.Slug,
			Name:        p.Name,
			OSFamily:    p.OSFamily,
			OSVersion:   p.OSVersion,
			Category:    p.Category,
			Description: p.Description,
			CloudInit:   p.HasCloudInit(),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"profiles": summaries})
}

// GetProfileHandler returns one profile by id or slug, including templates
// GET /api/profiles/{idOrSlug}
func (h *ProfileHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request, idOrSlug string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	profile, err := h.lookup(r, idOrSlug)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Profile not found")
			return
		}
		h.logger.Error().Err(err).Str("profile", idOrSlug).Msg("Failed to get profile")
		WriteError(w, http.StatusInternalServerError, "Failed to get profile")
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) lookup(r *http.Request, idOrSlug string) (*models.Profile, error) {
	if profile, err := h.profileStorage.GetProfile(r.Context(), idOrSlug); err == nil {
		return profile, nil
	}
	return h.profileStorage.GetProfileBySlug(r.Context(), idOrSlug)
}
