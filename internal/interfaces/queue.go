package interfaces

import (
	"context"

	"github.com/myinstaller/deployd/internal/models"
)

// QueueStats exposes queue depth for health reporting.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

// Delivery is one received work item. Exactly one of Ack or Nack must be
// called: Ack removes the item, Nack schedules redelivery with backoff (or
// dead-letters the item once its receive budget is spent).
type Delivery interface {
	// Attempt is the 1-based receive count of this delivery.
	Attempt() int
	Ack() error
	Nack(reason string) error
}

// WorkQueue is the durable dispatch collaborator. Enqueue deduplicates by
// job id: enqueuing a job that is already waiting or active coalesces into
// the existing entry.
type WorkQueue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) error
	Receive(ctx context.Context) (*models.QueueMessage, Delivery, error)
	Stats(ctx context.Context) (*QueueStats, error)
	Close() error
}
