package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
)

// fileJobQueue keeps the whole queue in memory and rewrites a JSON snapshot
// after every mutation. Suitable for a single process.
type fileJobQueue struct {
	path   string
	mu     sync.Mutex
	table  *jobTable
	closed bool
}

type fileJobQueueState struct {
	Jobs []*models.OutboxJob `json:"jobs"`
}

func NewFileJobQueue(path string) (interfaces.JobQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, draftsyncerrors.ErrInvalidInput
	}
	q := &fileJobQueue{path: path, table: newJobTable()}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// mutate applies fn and persists. On a failed write the previous snapshot is restored.
func (q *fileJobQueue) mutate(fn func(t *jobTable)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return draftsyncerrors.ErrQueueClosed
	}
	before := q.table.all()
	fn(q.table)
	if err := q.saveLocked(); err != nil {
		q.table.load(before)
		return err
	}
	return nil
}

func (q *fileJobQueue) EnqueueUnique(_ context.Context, job *models.OutboxJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	return q.mutate(func(t *jobTable) { t.enqueueUnique(job) })
}

func (q *fileJobQueue) Dequeue(_ context.Context, now time.Time) (*models.OutboxJob, error) {
	var job *models.OutboxJob
	err := q.mutate(func(t *jobTable) { job = t.dequeue(now) })
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (q *fileJobQueue) Complete(_ context.Context, job *models.OutboxJob) error {
	return q.mutate(func(t *jobTable) { t.complete(job) })
}

func (q *fileJobQueue) Reschedule(_ context.Context, job *models.OutboxJob, runAt time.Time, lastError string) error {
	return q.mutate(func(t *jobTable) { t.reschedule(job, runAt, lastError) })
}

func (q *fileJobQueue) Cancel(_ context.Context, key string) error {
	return q.mutate(func(t *jobTable) { t.cancel(key) })
}

func (q *fileJobQueue) Rekey(_ context.Context, oldDraftID, newDraftID string) error {
	return q.mutate(func(t *jobTable) { t.rekey(oldDraftID, newDraftID) })
}

func (q *fileJobQueue) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	var n int
	err := q.mutate(func(t *jobTable) { n = t.recoverStale(cutoff) })
	return n, err
}

func (q *fileJobQueue) Get(_ context.Context, key string) ([]*models.OutboxJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.byKey(key), nil
}

func (q *fileJobQueue) List(_ context.Context) ([]*models.OutboxJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.all(), nil
}

func (q *fileJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *fileJobQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileJobQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	q.table.load(snapshot.Jobs)
	return nil
}

func (q *fileJobQueue) saveLocked() error {
	snapshot := fileJobQueueState{Jobs: q.table.all()}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
