package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
)

type queueFactory func(t *testing.T) interfaces.JobQueue

func queueBackends() map[string]queueFactory {
	return map[string]queueFactory{
		"memory": func(t *testing.T) interfaces.JobQueue {
			return NewInMemoryJobQueue()
		},
		"file": func(t *testing.T) interfaces.JobQueue {
			q, err := NewFileJobQueue(filepath.Join(t.TempDir(), "queue.json"))
			require.NoError(t, err)
			return q
		},
		"sqlite": func(t *testing.T) interfaces.JobQueue {
			q, err := NewSQLiteJobQueue(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
	}
}

func syncJob(draftID string) *models.OutboxJob {
	return &models.OutboxJob{Kind: enum.JobKindSyncDraft, OwnerID: "owner-1", DraftID: draftID}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, q interfaces.JobQueue)) {
	for name, factory := range queueBackends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestJobQueue_EnqueueUniqueReplacesQueued(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()

		first := syncJob("d1")
		first.Revision = 1
		require.NoError(t, q.EnqueueUnique(ctx, first))
		second := syncJob("d1")
		second.Revision = 2
		require.NoError(t, q.EnqueueUnique(ctx, second))

		jobs, err := q.Get(ctx, "sync-draft-d1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, int64(2), jobs[0].Revision)
		assert.Equal(t, enum.JobStateQueued, jobs[0].State)
	})
}

func TestJobQueue_OneRunningPerKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))
		running, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, running)
		assert.Equal(t, enum.JobStateRunning, running.State)
		assert.Equal(t, 1, running.Attempt)

		// an edit during the run queues a follow-up but does not start it
		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))
		next, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, next)

		jobs, err := q.Get(ctx, "sync-draft-d1")
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		require.NoError(t, q.Complete(ctx, running))
		next, err = q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.NotEqual(t, running.ID, next.ID)
	})
}

func TestJobQueue_DifferentKeysRunConcurrently(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))
		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d2")))
		require.NoError(t, q.EnqueueUnique(ctx, &models.OutboxJob{Kind: enum.JobKindSendDraft, OwnerID: "owner-1", DraftID: "d1"}))

		seen := map[string]bool{}
		for i := 0; i < 3; i++ {
			job, err := q.Dequeue(ctx, now)
			require.NoError(t, err)
			require.NotNil(t, job)
			seen[job.Key] = true
		}
		assert.True(t, seen["sync-draft-d1"])
		assert.True(t, seen["sync-draft-d2"])
		assert.True(t, seen["send-draft-d1"])
	})
}

func TestJobQueue_DequeueRespectsRunAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		job := syncJob("d1")
		job.RunAt = now.Add(time.Minute)
		require.NoError(t, q.EnqueueUnique(ctx, job))

		got, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = q.Dequeue(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestJobQueue_RescheduleKeepsOrDropsSuperseded(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))
		running, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NoError(t, q.Reschedule(ctx, running, now.Add(time.Second), "timeout"))

		jobs, err := q.Get(ctx, "sync-draft-d1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, enum.JobStateQueued, jobs[0].State)
		assert.Equal(t, "timeout", jobs[0].LastError)
		assert.Equal(t, 1, jobs[0].Attempt)

		again, err := q.Dequeue(ctx, now.Add(2*time.Second))
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 2, again.Attempt)

		newer := syncJob("d1")
		require.NoError(t, q.EnqueueUnique(ctx, newer))
		require.NoError(t, q.Reschedule(ctx, again, now.Add(time.Second), "timeout"))

		jobs, err = q.Get(ctx, "sync-draft-d1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, newer.ID, jobs[0].ID)
	})
}

func TestJobQueue_CancelOnlyQueued(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))
		running, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NoError(t, q.EnqueueUnique(ctx, syncJob("d1")))

		require.NoError(t, q.Cancel(ctx, "sync-draft-d1"))

		jobs, err := q.Get(ctx, "sync-draft-d1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, running.ID, jobs[0].ID)
	})
}

func TestJobQueue_Rekey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		now := time.Now().UTC().Add(time.Second)

		require.NoError(t, q.EnqueueUnique(ctx, syncJob("local-1")))
		running, err := q.Dequeue(ctx, now)
		require.NoError(t, err)
		require.NoError(t, q.EnqueueUnique(ctx, syncJob("local-1")))
		require.NoError(t, q.EnqueueUnique(ctx, &models.OutboxJob{Kind: enum.JobKindUploadAttachments, OwnerID: "owner-1", DraftID: "local-1"}))

		require.NoError(t, q.Rekey(ctx, "local-1", "remote-1"))

		old, err := q.Get(ctx, "sync-draft-local-1")
		require.NoError(t, err)
		assert.Empty(t, old)

		moved, err := q.Get(ctx, "sync-draft-remote-1")
		require.NoError(t, err)
		assert.Len(t, moved, 2)
		for _, j := range moved {
			assert.Equal(t, "remote-1", j.DraftID)
		}
		uploads, err := q.Get(ctx, "upload-attachments-remote-1")
		require.NoError(t, err)
		assert.Len(t, uploads, 1)

		// the running job can still be completed by id
		require.NoError(t, q.Complete(ctx, running))
		moved, err = q.Get(ctx, "sync-draft-remote-1")
		require.NoError(t, err)
		assert.Len(t, moved, 1)
	})
}

func TestJobQueue_RecoverStale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		leasedAt := time.Now().UTC().Add(-time.Hour)

		job := syncJob("d1")
		job.RunAt = leasedAt
		require.NoError(t, q.EnqueueUnique(ctx, job))
		leased, err := q.Dequeue(ctx, leasedAt)
		require.NoError(t, err)
		require.NotNil(t, leased)

		n, err := q.RecoverStale(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		jobs, err := q.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, enum.JobStateQueued, jobs[0].State)
		assert.Nil(t, jobs[0].LeasedAt)
	})
}

func TestJobQueue_DeleteAttachmentKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		ctx := context.Background()
		job := &models.OutboxJob{Kind: enum.JobKindDeleteAttachment, OwnerID: "owner-1", DraftID: "d1", AttachmentID: "att_1"}
		require.NoError(t, q.EnqueueUnique(ctx, job))
		assert.Equal(t, "delete-attachment-att_1", job.Key)

		require.NoError(t, q.Rekey(ctx, "d1", "d2"))
		jobs, err := q.Get(ctx, "delete-attachment-att_1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "d2", jobs[0].DraftID)
	})
}

func TestJobQueue_RejectsInvalidJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q interfaces.JobQueue) {
		err := q.EnqueueUnique(context.Background(), &models.OutboxJob{Kind: "bogus", OwnerID: "o", DraftID: "d"})
		assert.Error(t, err)
	})
}
