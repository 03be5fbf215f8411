package models

import "time"

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarn    LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelSuccess LogLevel = "SUCCESS"
)

// JobLogEntry is one append-only log line for a job. Entries are never
// mutated or deleted by the engine; Seq gives a strict per-job order even
// when two entries share a timestamp.
type JobLogEntry struct {
	JobID     string                 `json:"job_id"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Step      string                 `json:"step,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Seq       uint64                 `json:"seq"`
	CreatedAt time.Time              `json:"created_at"`
}
