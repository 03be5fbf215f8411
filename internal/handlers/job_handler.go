package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/jobs"
	"github.com/myinstaller/deployd/internal/models"
	"github.com/myinstaller/deployd/internal/ratelimit"
)

// JobHandler handles deployment job API requests
type JobHandler struct {
	jobService *jobs.Service
	limiter    *ratelimit.KeyedLimiter
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, limiter *ratelimit.KeyedLimiter, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		limiter:    limiter,
		logger:     logger,
	}
}

// CreateJobHandler creates a deployment job
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	if h.limiter != nil && !h.limiter.Allow(owner) {
		WriteError(w, http.StatusTooManyRequests, "Too many deployment requests, slow down")
		return
	}

	var input jobs.CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	input.OwnerID = owner

	job, err := h.jobService.CreateJob(r.Context(), &input)
	if err != nil {
		var verr *jobs.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, verr.Message)
			return
		}
		h.logger.Error().Err(err).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	WriteJSON(w, http.StatusCreated, job.Sanitized())
}

// ListJobsHandler returns a paginated list of the owner's jobs
// GET /api/jobs?limit=50&offset=0&status=FAILED&profile_id=prof_x&search=web
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed > 0 {
		offset = parsed
	}

	opts := &interfaces.JobListOptions{
		OwnerID:   OwnerID(r),
		Status:    models.JobStatus(r.URL.Query().Get("status")),
		ProfileID: r.URL.Query().Get("profile_id"),
		Search:    r.URL.Query().Get("search"),
		Limit:     limit,
		Offset:    offset,
	}

	jobList, total, err := h.jobService.ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	sanitized := make([]*models.Job, len(jobList))
	for i, job := range jobList {
		sanitized[i] = job.Sanitized()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   sanitized,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJobStatsHandler returns job counts by lifecycle family for the owner
// GET /api/jobs/stats
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.jobService.GetStats(r.Context(), OwnerID(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get job stats")
		WriteError(w, http.StatusInternalServerError, "Failed to get job stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// GetJobHandler returns a single job
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.fetchOwnedJob(w, r, jobID)
	if job == nil || err != nil {
		return
	}
	WriteJSON(w, http.StatusOK, job.Sanitized())
}

// CancelJobHandler cancels a queued or validating job
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if job, err := h.fetchOwnedJob(w, r, jobID); job == nil || err != nil {
		return
	}

	job, err := h.jobService.CancelJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotCancellable) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}
	WriteJSON(w, http.StatusOK, job.Sanitized())
}

// RetryJobHandler re-queues a failed or cancelled job
// POST /api/jobs/{id}/retry
func (h *JobHandler) RetryJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if job, err := h.fetchOwnedJob(w, r, jobID); job == nil || err != nil {
		return
	}

	job, err := h.jobService.RetryJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotRetryable) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to retry job")
		WriteError(w, http.StatusInternalServerError, "Failed to retry job")
		return
	}
	WriteJSON(w, http.StatusOK, job.Sanitized())
}

// GetJobLogsHandler returns a job's log entries in append order
// GET /api/jobs/{id}/logs
func (h *JobHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if job, err := h.fetchOwnedJob(w, r, jobID); job == nil || err != nil {
		return
	}

	logs, err := h.jobService.GetJobLogs(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job logs")
		WriteError(w, http.StatusInternalServerError, "Failed to get job logs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"logs":   logs,
	})
}

// fetchOwnedJob loads the job and enforces owner scoping. On any failure a
// response has already been written and nil is returned.
func (h *JobHandler) fetchOwnedJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, error) {
	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Job not found")
			return nil, err
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return nil, err
	}
	if job.OwnerID != OwnerID(r) {
		// Do not leak existence of other owners' jobs
		WriteError(w, http.StatusNotFound, "Job not found")
		return nil, nil
	}
	return job, nil
}
