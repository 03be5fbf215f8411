package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// logSequence is a global counter to ensure unique log keys and a strict
// order even when two entries share a nanosecond timestamp
var logSequence uint64

// JobLogStorage implements the JobLogStorage interface for Badger
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobLogStorage) AppendLog(ctx context.Context, entry *models.JobLogEntry) error {
	if entry == nil {
		return fmt.Errorf("log entry is required")
	}
	if entry.JobID == "" {
		return fmt.Errorf("log entry job ID is required")
	}

	entry.Seq = atomic.AddUint64(&logSequence, 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	key := fmt.Sprintf("%s_%d_%d", entry.JobID, entry.CreatedAt.UnixNano(), entry.Seq)
	if err := s.db.Store().Insert(key, entry); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// GetLogs returns all entries for a job in append order
func (s *JobLogStorage) GetLogs(ctx context.Context, jobID string) ([]models.JobLogEntry, error) {
	var entries []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt", "Seq")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return entries, nil
}

func (s *JobLogStorage) CountLogs(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.JobLogEntry{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return int(count), nil
}
