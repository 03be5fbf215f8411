package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/common"
	"github.com/myinstaller/deployd/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	job     interfaces.JobStorage
	jobLog  interfaces.JobLogStorage
	profile interfaces.ProfileStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		job:     NewJobStorage(db, logger),
		jobLog:  NewJobLogStorage(db, logger),
		profile: NewProfileStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// JobLogStorage returns the JobLog storage interface
func (m *Manager) JobLogStorage() interfaces.JobLogStorage {
	return m.jobLog
}

// ProfileStorage returns the Profile storage interface
func (m *Manager) ProfileStorage() interfaces.ProfileStorage {
	return m.profile
}

// DB returns the raw Badger database so the queue can share the connection
func (m *Manager) DB() *badgerdb.DB {
	return m.db.DB()
}

// RunValueLogGC runs one round of Badger value-log garbage collection
func (m *Manager) RunValueLogGC() error {
	return m.db.RunValueLogGC()
}

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
