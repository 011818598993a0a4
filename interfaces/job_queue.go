package interfaces

import (
	"context"
	"time"

	"github.com/customeros/draftsync/internal/models"
)

// JobQueue is the durable outbox. A key has at most one queued and one
// running job at any time.
type JobQueue interface {
	// EnqueueUnique stores job, replacing a queued job with the same key.
	EnqueueUnique(ctx context.Context, job *models.OutboxJob) error
	// Dequeue leases the next due job whose key is not already running.
	// It returns nil when nothing is ready.
	Dequeue(ctx context.Context, now time.Time) (*models.OutboxJob, error)
	Complete(ctx context.Context, job *models.OutboxJob) error
	// Reschedule returns a running job to the queue unless a newer job with
	// the same key was queued meanwhile, in which case the running one is dropped.
	// The stored attempt count is taken from job.
	Reschedule(ctx context.Context, job *models.OutboxJob, runAt time.Time, lastError string) error
	// Cancel removes the queued job for key. Running jobs are left alone.
	Cancel(ctx context.Context, key string) error
	// Rekey moves every job of oldDraftID onto newDraftID.
	Rekey(ctx context.Context, oldDraftID, newDraftID string) error
	// RecoverStale requeues running jobs leased before cutoff.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, key string) ([]*models.OutboxJob, error)
	List(ctx context.Context) ([]*models.OutboxJob, error)
	Close() error
}
