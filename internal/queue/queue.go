// Package queue implements the durable Badger-backed work queue: FIFO
// dispatch of job ids with visibility-timeout redelivery, per-job-id
// deduplication, exponential nack backoff and dead-lettering.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/myinstaller/deployd/internal/interfaces"
	"github.com/myinstaller/deployd/internal/models"
)

// ErrNoMessage is returned when no message is ready for delivery.
var ErrNoMessage = errors.New("no messages in queue")

// record is the internal structure stored in Badger.
type record struct {
	ID           string              `json:"id"`
	Message      models.QueueMessage `json:"message"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
	LastError    string              `json:"last_error,omitempty"`
}

// Options tunes redelivery behavior.
type Options struct {
	Name              string
	VisibilityTimeout time.Duration // redelivery window for crashed workers
	MaxReceive        int           // attempts before dead-letter
	BackoffBase       time.Duration // initial nack backoff, doubles per attempt
}

// Queue is a durable queue on top of a shared Badger database. Keys are
// namespaced by queue name:
//
//	queue:{name}:msg:{id}        message record
//	queue:{name}:index:{ts}:{id} visibility index, ordered by VisibleAt
//	queue:{name}:dedup:{jobID}   dedup marker while waiting/active
//	queue:{name}:dead:{id}       dead-lettered record
//	queue:{name}:counter:{kind}  completed/failed counters
type Queue struct {
	db     *badger.DB
	opts   Options
	logger arbor.ILogger
}

// New creates a queue manager on the given Badger database.
func New(db *badger.DB, opts Options, logger arbor.ILogger) (*Queue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if opts.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxReceive <= 0 {
		opts.MaxReceive = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	return &Queue{db: db, opts: opts, logger: logger}, nil
}

// Enqueue adds a work item referencing jobID. A job that is already waiting
// or active is coalesced into the existing entry rather than duplicated, so
// at most one delivery per job id is ever in flight.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	rec := record{
		ID: uuid.New().String(),
		Message: models.QueueMessage{
			JobID:   jobID,
			Payload: payload,
		},
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal queue record: %w", err)
	}

	coalesced := false
	err = q.db.Update(func(txn *badger.Txn) error {
		dedupKey := q.dedupKey(jobID)
		if _, err := txn.Get(dedupKey); err == nil {
			coalesced = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(q.msgKey(rec.ID), data); err != nil {
			return err
		}
		if err := txn.Set(q.indexKey(rec.VisibleAt, rec.ID), nil); err != nil {
			return err
		}
		return txn.Set(dedupKey, []byte(rec.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	if coalesced {
		q.logger.Debug().Str("job_id", jobID).Msg("Enqueue coalesced with existing queue entry")
	}
	return nil
}

// Receive claims the next visible message. The claim extends the message's
// visibility so other workers skip it; a worker that crashes without acking
// lets the visibility expire and the message is redelivered. Returns
// ErrNoMessage when nothing is ready.
func (q *Queue) Receive(ctx context.Context) (*models.QueueMessage, interfaces.Delivery, error) {
	var claimed record

	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: q.indexPrefix()})
		defer it.Close()

		now := time.Now()
		for it.Rewind(); it.Valid(); it.Next() {
			indexKey := it.Item().KeyCopy(nil)
			ts, id, err := q.parseIndexKey(indexKey)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by VisibleAt; nothing later is ready either.
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if err == badger.ErrKeyNotFound {
				// Orphaned index entry; clean it up and keep scanning.
				if err := txn.Delete(indexKey); err != nil {
					return err
				}
				continue
			} else if err != nil {
				return err
			}

			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}

			// Receive budget exhausted (crash-redelivery path): dead-letter.
			if rec.ReceiveCount >= q.opts.MaxReceive {
				if err := q.deadLetter(txn, &rec, indexKey, "receive budget exhausted"); err != nil {
					return err
				}
				continue
			}

			rec.ReceiveCount++
			rec.VisibleAt = now.Add(q.opts.VisibilityTimeout)

			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(q.msgKey(rec.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(indexKey); err != nil {
				return err
			}
			if err := txn.Set(q.indexKey(rec.VisibleAt, rec.ID), nil); err != nil {
				return err
			}

			claimed = rec
			return nil
		}
		return ErrNoMessage
	})
	if err != nil {
		return nil, nil, err
	}

	msg := claimed.Message
	return &msg, &delivery{queue: q, rec: claimed}, nil
}

// Stats reports queue depth for health reporting. Waiting counts messages
// ready for delivery, active counts claimed messages inside their visibility
// window, completed/failed are monotonic counters, dead is the dead-letter
// backlog.
func (q *Queue) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	stats := &interfaces.QueueStats{}

	err := q.db.View(func(txn *badger.Txn) error {
		now := time.Now()

		it := txn.NewIterator(badger.IteratorOptions{Prefix: q.prefix("msg")})
		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if rec.ReceiveCount > 0 && rec.VisibleAt.After(now) {
				stats.Active++
			} else {
				stats.Waiting++
			}
		}
		it.Close()

		it = txn.NewIterator(badger.IteratorOptions{Prefix: q.prefix("dead"), PrefetchValues: false})
		for it.Rewind(); it.Valid(); it.Next() {
			stats.Dead++
		}
		it.Close()

		var err error
		if stats.Completed, err = q.readCounter(txn, "completed"); err != nil {
			return err
		}
		if stats.Failed, err = q.readCounter(txn, "failed"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// Close is a no-op; the Badger database is managed by the storage layer.
func (q *Queue) Close() error {
	return nil
}

// delivery implements interfaces.Delivery for one claimed message.
type delivery struct {
	queue *Queue
	rec   record
}

func (d *delivery) Attempt() int {
	return d.rec.ReceiveCount
}

// Ack removes the message and releases the job id for future enqueues.
func (d *delivery) Ack() error {
	q := d.queue
	err := q.db.Update(func(txn *badger.Txn) error {
		cur, err := q.loadRecord(txn, d.rec.ID)
		if err == badger.ErrKeyNotFound {
			return nil // already removed
		} else if err != nil {
			return err
		}

		if err := q.removeRecord(txn, cur); err != nil {
			return err
		}
		return q.bumpCounter(txn, "completed")
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.rec.ID, err)
	}
	return nil
}

// Nack schedules redelivery with exponential backoff (base delay doubling
// per attempt), or dead-letters the message once its receive budget is
// spent.
func (d *delivery) Nack(reason string) error {
	q := d.queue
	err := q.db.Update(func(txn *badger.Txn) error {
		cur, err := q.loadRecord(txn, d.rec.ID)
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		cur.LastError = reason

		if cur.ReceiveCount >= q.opts.MaxReceive {
			return q.deadLetter(txn, cur, q.indexKey(cur.VisibleAt, cur.ID), reason)
		}

		backoff := q.opts.BackoffBase << (cur.ReceiveCount - 1)
		oldVisible := cur.VisibleAt
		cur.VisibleAt = time.Now().Add(backoff)

		data, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(cur.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(oldVisible, cur.ID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(cur.VisibleAt, cur.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to nack message %s: %w", d.rec.ID, err)
	}

	q.logger.Warn().
		Str("job_id", d.rec.Message.JobID).
		Int("attempt", d.rec.ReceiveCount).
		Str("reason", reason).
		Msg("Queue message nacked for redelivery")
	return nil
}

// deadLetter moves a record to the dead-letter prefix and releases its dedup
// marker.
func (q *Queue) deadLetter(txn *badger.Txn, rec *record, indexKey []byte, reason string) error {
	rec.LastError = reason
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := txn.Set(q.deadKey(rec.ID), data); err != nil {
		return err
	}
	if err := q.removeRecord(txn, rec); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := q.bumpCounter(txn, "failed"); err != nil {
		return err
	}
	q.logger.Error().
		Str("job_id", rec.Message.JobID).
		Int("receive_count", rec.ReceiveCount).
		Str("reason", reason).
		Msg("Queue message dead-lettered")
	return nil
}

func (q *Queue) loadRecord(txn *badger.Txn, id string) (*record, error) {
	item, err := txn.Get(q.msgKey(id))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// removeRecord deletes the message, its visibility index entry and its dedup
// marker.
func (q *Queue) removeRecord(txn *badger.Txn, rec *record) error {
	if err := txn.Delete(q.msgKey(rec.ID)); err != nil {
		return err
	}
	if err := txn.Delete(q.indexKey(rec.VisibleAt, rec.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(q.dedupKey(rec.Message.JobID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

func (q *Queue) readCounter(txn *badger.Txn, kind string) (int, error) {
	item, err := txn.Get(q.counterKey(kind))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		parsed, perr := strconv.Atoi(string(val))
		if perr != nil {
			return perr
		}
		n = parsed
		return nil
	})
	return n, err
}

func (q *Queue) bumpCounter(txn *badger.Txn, kind string) error {
	n, err := q.readCounter(txn, kind)
	if err != nil {
		return err
	}
	return txn.Set(q.counterKey(kind), []byte(strconv.Itoa(n+1)))
}

// Key helpers

func (q *Queue) prefix(kind string) []byte {
	return []byte(fmt.Sprintf("queue:%s:%s:", q.opts.Name, kind))
}

func (q *Queue) msgKey(id string) []byte {
	return append(q.prefix("msg"), id...)
}

func (q *Queue) dedupKey(jobID string) []byte {
	return append(q.prefix("dedup"), jobID...)
}

func (q *Queue) deadKey(id string) []byte {
	return append(q.prefix("dead"), id...)
}

func (q *Queue) counterKey(kind string) []byte {
	return []byte(fmt.Sprintf("queue:%s:counter:%s", q.opts.Name, kind))
}

func (q *Queue) indexPrefix() []byte {
	return q.prefix("index")
}

func (q *Queue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero-padded nanos so lexical order matches time order.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.opts.Name, visibleAt.UnixNano(), id))
}

func (q *Queue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := q.indexPrefix()
	if len(key) <= len(prefix)+21 {
		return time.Time{}, "", errors.New("invalid index key")
	}
	suffix := string(key[len(prefix):])
	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
