package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/jobs"
	"github.com/myinstaller/deployd/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// logStreamMessage is one frame pushed to a log stream client.
type logStreamMessage struct {
	Type     string              `json:"type"` // "log" or "status"
	Entry    *models.JobLogEntry `json:"entry,omitempty"`
	Status   models.JobStatus    `json:"status,omitempty"`
	Progress int                 `json:"progress,omitempty"`
}

// LogStreamHandler streams a job's log entries over a websocket. Existing
// entries are replayed first, then new entries are pushed as the worker
// appends them, until the job reaches a terminal state.
type LogStreamHandler struct {
	jobService   *jobs.Service
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewLogStreamHandler creates a websocket log stream handler
func NewLogStreamHandler(jobService *jobs.Service, logger arbor.ILogger) *LogStreamHandler {
	return &LogStreamHandler{
		jobService:   jobService,
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}
}

// StreamHandler handles GET /ws/jobs/{id}/logs
func (h *LogStreamHandler) StreamHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.jobService.GetJob(ctx, jobID)
	if err != nil || job.OwnerID != OwnerID(r) {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine: surface client disconnects to the write loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSeq uint64
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		entries, err := h.jobService.GetJobLogs(ctx, jobID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Log stream read failed")
			return
		}
		for i := range entries {
			if entries[i].Seq <= lastSeq {
				continue
			}
			if err := conn.WriteJSON(&logStreamMessage{Type: "log", Entry: &entries[i]}); err != nil {
				return
			}
			lastSeq = entries[i].Seq
		}

		job, err := h.jobService.GetJob(ctx, jobID)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(&logStreamMessage{Type: "status", Status: job.Status, Progress: job.Progress}); err != nil {
			return
		}
		if job.Status.IsTerminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
