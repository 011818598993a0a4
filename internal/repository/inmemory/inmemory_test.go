package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
)

func newDraft(t *testing.T, db *DB, owner string) *models.Draft {
	t.Helper()
	draft := &models.Draft{OwnerID: owner, Action: enum.DraftActionCompose, Subject: "hello"}
	require.NoError(t, NewDraftRepository(db).Create(context.Background(), draft))
	return draft
}

func TestDraftRepository_CreateAssignsLocalID(t *testing.T) {
	db := NewDB()
	draft := newDraft(t, db, "owner-1")

	assert.NotEmpty(t, draft.ID)
	assert.Equal(t, draft.ID, draft.LocalID)

	got, err := NewDraftRepository(db).Get(context.Background(), "owner-1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
}

func TestDraftRepository_GetOtherOwnerReturnsNil(t *testing.T) {
	db := NewDB()
	draft := newDraft(t, db, "owner-1")

	got, err := NewDraftRepository(db).Get(context.Background(), "owner-2", draft.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftRepository_UpdateIsAtomic(t *testing.T) {
	db := NewDB()
	repo := NewDraftRepository(db)
	draft := newDraft(t, db, "owner-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(context.Background(), "owner-1", draft.ID, func(d *models.Draft) error {
				d.Revision++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(context.Background(), "owner-1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Revision)
}

func TestDraftRepository_UpdateCannotChangeIdentity(t *testing.T) {
	db := NewDB()
	repo := NewDraftRepository(db)
	draft := newDraft(t, db, "owner-1")

	updated, err := repo.Update(context.Background(), "owner-1", draft.ID, func(d *models.Draft) error {
		d.ID = "hijacked"
		d.Subject = "changed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, updated.ID)
	assert.Equal(t, "changed", updated.Subject)
}

func TestDraftRepository_UpdateMissing(t *testing.T) {
	_, err := NewDraftRepository(NewDB()).Update(context.Background(), "owner-1", "nope", func(d *models.Draft) error { return nil })
	assert.ErrorIs(t, err, draftsyncerrors.ErrDraftNotFound)
}

func TestDraftRepository_ReassignIDMovesDependents(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	drafts := NewDraftRepository(db)
	attachments := NewDraftAttachmentRepository(db)
	states := NewDraftSyncStateRepository(db)

	draft := newDraft(t, db, "owner-1")
	localID := draft.ID
	require.NoError(t, attachments.Create(ctx, &models.DraftAttachment{OwnerID: "owner-1", DraftID: localID, Filename: "a.txt"}))
	_, err := states.Modify(ctx, "owner-1", localID, func(s *models.DraftSyncState) error {
		s.ContentRevision = 3
		return nil
	})
	require.NoError(t, err)

	reassigned, err := drafts.ReassignID(ctx, "owner-1", localID, "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", reassigned.ID)
	assert.Equal(t, localID, reassigned.LocalID)

	byLocal, err := drafts.Get(ctx, "owner-1", localID)
	require.NoError(t, err)
	require.NotNil(t, byLocal)
	assert.Equal(t, "remote-1", byLocal.ID)

	atts, err := attachments.ListByDraft(ctx, "owner-1", "remote-1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "remote-1", atts[0].DraftID)

	state, err := states.Get(ctx, "owner-1", "remote-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(3), state.ContentRevision)

	byLocalState, err := states.Get(ctx, "owner-1", localID)
	require.NoError(t, err)
	require.NotNil(t, byLocalState)
	assert.Equal(t, "remote-1", byLocalState.DraftID)
}

func TestDraftSyncStateRepository_LocalIDAfterReassignReachesCurrentRow(t *testing.T) {
	// Arrange
	ctx := context.Background()
	db := NewDB()
	drafts := NewDraftRepository(db)
	states := NewDraftSyncStateRepository(db)
	draft := newDraft(t, db, "owner-1")
	localID := draft.ID
	_, err := drafts.ReassignID(ctx, "owner-1", localID, "remote-1")
	require.NoError(t, err)

	// Act
	written, err := states.Modify(ctx, "owner-1", localID, func(s *models.DraftSyncState) error {
		s.ContentRevision = 2
		return nil
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "remote-1", written.DraftID)
	all, err := states.ListByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "remote-1", all[0].DraftID)

	require.NoError(t, states.Delete(ctx, "owner-1", localID))
	gone, err := states.Get(ctx, "owner-1", "remote-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDraftRepository_ReassignIDKeepsFurtherStateOnClash(t *testing.T) {
	// Arrange
	ctx := context.Background()
	db := NewDB()
	drafts := NewDraftRepository(db)
	states := NewDraftSyncStateRepository(db)
	draft := newDraft(t, db, "owner-1")
	localID := draft.ID
	for i := 0; i < 3; i++ {
		_, err := states.Modify(ctx, "owner-1", "remote-1", func(s *models.DraftSyncState) error {
			s.Status = enum.SyncStatusSynced
			return nil
		})
		require.NoError(t, err)
	}
	_, err := states.Modify(ctx, "owner-1", localID, func(s *models.DraftSyncState) error { return nil })
	require.NoError(t, err)

	// Act
	_, err = drafts.ReassignID(ctx, "owner-1", localID, "remote-1")

	// Assert
	require.NoError(t, err)
	all, err := states.ListByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "remote-1", all[0].DraftID)
	assert.Equal(t, enum.SyncStatusSynced, all[0].Status)
	assert.Equal(t, int64(3), all[0].Version)
}

func TestDraftRepository_ReassignIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	drafts := NewDraftRepository(db)
	draft := newDraft(t, db, "owner-1")

	_, err := drafts.ReassignID(ctx, "owner-1", draft.ID, "remote-1")
	require.NoError(t, err)
	again, err := drafts.ReassignID(ctx, "owner-1", draft.ID, "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", again.ID)

	_, err = drafts.ReassignID(ctx, "owner-1", draft.ID, "remote-2")
	assert.Error(t, err)
}

func TestDraftSyncStateRepository_ModifyCreatesPending(t *testing.T) {
	ctx := context.Background()
	states := NewDraftSyncStateRepository(NewDB())

	var seen enum.DraftSyncStatus
	state, err := states.Modify(ctx, "owner-1", "d1", func(s *models.DraftSyncState) error {
		seen = s.Status
		s.Status = enum.SyncStatusSyncingDraft
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStatusPending, seen)
	assert.Equal(t, enum.SyncStatusSyncingDraft, state.Status)

	listed, err := states.ListByStatus(ctx, enum.SyncStatusSyncingDraft)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = states.ListByStatus(ctx, enum.SyncStatusSynced)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDraftAttachmentRepository_DeleteByDraft(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	attachments := NewDraftAttachmentRepository(db)
	draft := newDraft(t, db, "owner-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, attachments.Create(ctx, &models.DraftAttachment{OwnerID: "owner-1", DraftID: draft.ID}))
	}
	require.NoError(t, attachments.Create(ctx, &models.DraftAttachment{OwnerID: "owner-1", DraftID: "other"}))

	require.NoError(t, attachments.DeleteByDraft(ctx, "owner-1", draft.ID))

	left, err := attachments.ListByDraft(ctx, "owner-1", draft.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
	other, err := attachments.ListByDraft(ctx, "owner-1", "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
