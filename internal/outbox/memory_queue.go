package outbox

import (
	"context"
	"sync"
	"time"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
)

type memoryJobQueue struct {
	mu     sync.Mutex
	table  *jobTable
	closed bool
}

func NewInMemoryJobQueue() interfaces.JobQueue {
	return &memoryJobQueue{table: newJobTable()}
}

func (q *memoryJobQueue) EnqueueUnique(_ context.Context, job *models.OutboxJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return draftsyncerrors.ErrQueueClosed
	}
	q.table.enqueueUnique(job)
	return nil
}

func (q *memoryJobQueue) Dequeue(_ context.Context, now time.Time) (*models.OutboxJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, draftsyncerrors.ErrQueueClosed
	}
	return q.table.dequeue(now), nil
}

func (q *memoryJobQueue) Complete(_ context.Context, job *models.OutboxJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table.complete(job)
	return nil
}

func (q *memoryJobQueue) Reschedule(_ context.Context, job *models.OutboxJob, runAt time.Time, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table.reschedule(job, runAt, lastError)
	return nil
}

func (q *memoryJobQueue) Cancel(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table.cancel(key)
	return nil
}

func (q *memoryJobQueue) Rekey(_ context.Context, oldDraftID, newDraftID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table.rekey(oldDraftID, newDraftID)
	return nil
}

func (q *memoryJobQueue) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.recoverStale(cutoff), nil
}

func (q *memoryJobQueue) Get(_ context.Context, key string) ([]*models.OutboxJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.byKey(key), nil
}

func (q *memoryJobQueue) List(_ context.Context) ([]*models.OutboxJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.all(), nil
}

func (q *memoryJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func validateJob(job *models.OutboxJob) error {
	if job == nil || !job.Kind.IsValid() || job.OwnerID == "" || job.Target() == "" {
		return draftsyncerrors.ErrInvalidInput
	}
	return nil
}
