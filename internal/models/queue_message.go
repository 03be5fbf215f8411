package models

import "encoding/json"

// QueueMessage is the structure stored in the work queue.
// Keep it small - just enough to route the attempt back to the job record.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // References Job.ID
	Payload json.RawMessage `json:"payload"` // Attempt-specific data (passed through)
}
