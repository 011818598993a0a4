package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository/inmemory"
)

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal(uuid.NewString()))
	assert.False(t, IsLocal(""))
	assert.False(t, IsLocal("Zu2b8Wq-pR_xLm0a9KdN1g=="))
	assert.False(t, IsLocal("12345"))
}

func TestReconciler_Reconcile(t *testing.T) {
	// Arrange
	ctx := context.Background()
	db := inmemory.NewDB()
	drafts := inmemory.NewDraftRepository(db)
	queue := outbox.NewInMemoryJobQueue()
	r := NewReconciler(drafts, queue, logger.NewNopAppLogger())

	draft := &models.Draft{OwnerID: "owner-1", Action: enum.DraftActionCompose}
	require.NoError(t, drafts.Create(ctx, draft))
	localID := draft.ID
	require.True(t, r.IsLocal(localID))
	require.NoError(t, queue.EnqueueUnique(ctx, &models.OutboxJob{Kind: enum.JobKindUploadAttachments, OwnerID: "owner-1", DraftID: localID}))

	// Act
	reconciled, err := r.Reconcile(ctx, "owner-1", localID, "remote-abc")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "remote-abc", reconciled.ID)
	assert.False(t, r.IsLocal(reconciled.ID))

	jobs, err := queue.Get(ctx, "upload-attachments-remote-abc")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestReconciler_SecondCallIsNoop(t *testing.T) {
	ctx := context.Background()
	db := inmemory.NewDB()
	drafts := inmemory.NewDraftRepository(db)
	r := NewReconciler(drafts, outbox.NewInMemoryJobQueue(), logger.NewNopAppLogger())

	draft := &models.Draft{OwnerID: "owner-1", Action: enum.DraftActionCompose}
	require.NoError(t, drafts.Create(ctx, draft))

	_, err := r.Reconcile(ctx, "owner-1", draft.ID, "remote-abc")
	require.NoError(t, err)
	again, err := r.Reconcile(ctx, "owner-1", draft.ID, "remote-abc")
	require.NoError(t, err)
	assert.Equal(t, "remote-abc", again.ID)
}

func TestReconciler_RejectsBadIds(t *testing.T) {
	r := NewReconciler(inmemory.NewDraftRepository(inmemory.NewDB()), outbox.NewInMemoryJobQueue(), logger.NewNopAppLogger())

	_, err := r.Reconcile(context.Background(), "owner-1", "not-a-uuid", "remote")
	assert.Error(t, err)
	_, err = r.Reconcile(context.Background(), "owner-1", uuid.NewString(), uuid.NewString())
	assert.Error(t, err)
}
