package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/crypto"
	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/render"
)

// BootstrapHandler serves the public install surface: the rendered install
// script per profile and the one-line command that fetches it.
type BootstrapHandler struct {
	profileStorage interfaces.ProfileStorage
	baseURL        string
	logger         arbor.ILogger
}

// NewBootstrapHandler creates a new bootstrap handler
func NewBootstrapHandler(profileStorage interfaces.ProfileStorage, baseURL string, logger arbor.ILogger) *BootstrapHandler {
	return &BootstrapHandler{
		profileStorage: profileStorage,
		baseURL:        strings.TrimRight(baseURL, "/"),
		logger:         logger,
	}
}

// ServeScriptHandler serves the rendered install script as plain shell
// GET /api/bootstrap/{slug}.sh
func (h *BootstrapHandler) ServeScriptHandler(w http.ResponseWriter, r *http.Request, slug string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	script, _, err := h.renderScript(r, slug)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Profile not found")
			return
		}
		h.logger.Error().Err(err).Str("slug", slug).Msg("Failed to render bootstrap script")
		WriteError(w, http.StatusInternalServerError, "Failed to render bootstrap script")
		return
	}

	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(script))
}

// CommandHandler returns the one-line install command for a profile
// GET /api/profiles/{slug}/bootstrap
func (h *BootstrapHandler) CommandHandler(w http.ResponseWriter, r *http.Request, slug string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	script, checksum, err := h.renderScript(r, slug)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Profile not found")
			return
		}
		h.logger.Error().Err(err).Str("slug", slug).Msg("Failed to build bootstrap command")
		WriteError(w, http.StatusInternalServerError, "Failed to build bootstrap command")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"slug":     slug,
		"command":  render.BootstrapCommand(script, h.baseURL, slug),
		"checksum": checksum,
	})
}

// renderScript renders the profile's install script with only the profile
// variables; per-job options are not part of the public bootstrap surface.
func (h *BootstrapHandler) renderScript(r *http.Request, slug string) (string, string, error) {
	profile, err := h.profileStorage.GetProfileBySlug(r.Context(), slug)
	if err != nil {
		return "", "", err
	}

	script := render.ShellScript(profile.ScriptTemplate, render.ScriptVars{
		ProfileName: profile.Name,
		ProfileSlug: profile.Slug,
	})
	return script, crypto.Checksum(script), nil
}
