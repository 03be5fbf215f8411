package server

import (
	"net/http"
	"strings"

	"github.com/myinstaller/deployd/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id}, /{id}/cancel, /{id}/retry, /{id}/logs

	// API routes - Profiles
	mux.HandleFunc("/api/profiles", s.app.ProfileHandler.ListProfilesHandler)
	mux.HandleFunc("/api/profiles/", s.handleProfileRoutes) // /{idOrSlug}, /{slug}/bootstrap

	// Public bootstrap scripts
	mux.HandleFunc("/api/bootstrap/", s.handleBootstrapRoute) // /{slug}.sh

	// WebSocket log streaming
	mux.HandleFunc("/ws/jobs/", s.handleLogStreamRoute) // /{id}/logs

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all 404 for anything else
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.app.APIHandler.NotFoundHandler(w, r)
	})

	return mux
}

// handleJobsRoute dispatches /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleJobRoutes dispatches /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		handlers.WriteError(w, http.StatusBadRequest, "Job id is required")
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		if !handlers.RequireMethod(w, r, "GET") {
			return
		}
		s.app.JobHandler.GetJobHandler(w, r, jobID)
		return
	}

	switch parts[1] {
	case "cancel":
		if !handlers.RequireMethod(w, r, "POST") {
			return
		}
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
	case "retry":
		if !handlers.RequireMethod(w, r, "POST") {
			return
		}
		s.app.JobHandler.RetryJobHandler(w, r, jobID)
	case "logs":
		if !handlers.RequireMethod(w, r, "GET") {
			return
		}
		s.app.JobHandler.GetJobLogsHandler(w, r, jobID)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleProfileRoutes dispatches /api/profiles/{idOrSlug} and /{slug}/bootstrap
func (s *Server) handleProfileRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		handlers.WriteError(w, http.StatusBadRequest, "Profile id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "bootstrap" {
		s.app.BootstrapHandler.CommandHandler(w, r, parts[0])
		return
	}
	if len(parts) == 1 {
		s.app.ProfileHandler.GetProfileHandler(w, r, parts[0])
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleBootstrapRoute dispatches /api/bootstrap/{slug}.sh
func (s *Server) handleBootstrapRoute(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/bootstrap/")
	if !strings.HasSuffix(name, ".sh") || strings.Contains(name, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.BootstrapHandler.ServeScriptHandler(w, r, strings.TrimSuffix(name, ".sh"))
}

// handleLogStreamRoute dispatches /ws/jobs/{id}/logs
func (s *Server) handleLogStreamRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 || parts[0] == "" || parts[1] != "logs" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.LogStreamHandler.StreamHandler(w, r, parts[0])
}
