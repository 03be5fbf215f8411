package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/common"
	"github.com/myinstaller/deployd/internal/jobs"
)

type APIHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

func NewAPIHandler(jobService *jobs.Service, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health check status including queue depth
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.jobService.QueueStats(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check could not read queue stats")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  "queue unavailable",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"queue":  stats,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
