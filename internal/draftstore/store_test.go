package draftstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/repository/inmemory"
	"github.com/customeros/draftsync/services/storage"
)

const owner = "owner-1"

func newStore() (*draftstore.Store, *storage.MemoryStorageService) {
	db := inmemory.NewDB()
	blobs := storage.NewMemoryStorageService()
	return draftstore.NewStore(inmemory.NewDraftRepository(db), inmemory.NewDraftAttachmentRepository(db), blobs), blobs
}

func createDraft(t *testing.T, s *draftstore.Store) *models.Draft {
	t.Helper()
	d := &models.Draft{OwnerID: owner, Action: enum.DraftActionCompose, Subject: "hello"}
	require.NoError(t, s.Create(context.Background(), d))
	return d
}

func TestStore_CreateAssignsLocalIdentity(t *testing.T) {
	// Arrange
	s, _ := newStore()

	// Act
	d := createDraft(t, s)

	// Assert
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, d.ID, d.LocalID)
	assert.Equal(t, int64(1), d.Revision)

	got, err := s.MustGet(context.Background(), owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
}

func TestStore_CreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		draft *models.Draft
	}{
		{"unknown action", &models.Draft{OwnerID: owner, Action: "draft"}},
		{"reply without parent", &models.Draft{OwnerID: owner, Action: enum.DraftActionReply}},
		{"forward without parent", &models.Draft{OwnerID: owner, Action: enum.DraftActionForward}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newStore()

			err := s.Create(context.Background(), tt.draft)

			assert.ErrorIs(t, err, draftsyncerrors.ErrInvalidInput)
		})
	}
}

func TestStore_MustGetMissing(t *testing.T) {
	s, _ := newStore()

	_, err := s.MustGet(context.Background(), owner, "nope")

	assert.ErrorIs(t, err, draftsyncerrors.ErrDraftNotFound)
}

func TestStore_SaveContentBumpsRevision(t *testing.T) {
	// Arrange
	s, _ := newStore()
	d := createDraft(t, s)

	// Act
	updated, err := s.SaveContent(context.Background(), owner, d.ID, models.DraftContent{
		Subject:     "second",
		ToAddresses: []string{"a@example.com"},
		MIMEType:    enum.MIMETypePlainText,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, "second", updated.Subject)
	assert.Equal(t, []string{"a@example.com"}, updated.Recipients())
	assert.Equal(t, enum.MIMETypePlainText, updated.MIMEType)
}

func TestStore_AttachmentLifecycle(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s, blobs := newStore()
	d := createDraft(t, s)
	att := &models.DraftAttachment{OwnerID: owner, DraftID: d.ID, Filename: "a.txt", ContentType: "text/plain"}

	// Act
	require.NoError(t, s.AddAttachment(ctx, att, []byte("abc")))

	// Assert
	assert.NotEmpty(t, att.ID)
	assert.Equal(t, int64(3), att.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", att.ContentHash)
	assert.Equal(t, draftstore.StorageKey(owner, att.ID), att.StorageKey)
	assert.Equal(t, enum.AttachmentPending, att.UploadStatus)
	assert.Equal(t, 1, blobs.Len())

	content, err := s.AttachmentContent(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), content)

	pending, err := s.PendingAttachments(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = s.UpdateAttachment(ctx, owner, att.ID, func(a *models.DraftAttachment) error {
		a.UploadStatus = enum.AttachmentUploaded
		a.RemoteID = "remote-att"
		return nil
	})
	require.NoError(t, err)
	pending, err = s.PendingAttachments(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	removed, err := s.RemoveAttachment(ctx, owner, att.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "remote-att", removed.RemoteID)
	got, err := s.GetAttachment(ctx, owner, att.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, blobs.Len())

	// removing twice is a no-op
	removed, err = s.RemoveAttachment(ctx, owner, att.ID)
	assert.NoError(t, err)
	assert.Nil(t, removed)
}

func TestStore_AddAttachmentToMissingDraft(t *testing.T) {
	s, blobs := newStore()

	err := s.AddAttachment(context.Background(), &models.DraftAttachment{OwnerID: owner, DraftID: "missing"}, []byte("x"))

	assert.ErrorIs(t, err, draftsyncerrors.ErrDraftNotFound)
	assert.Equal(t, 0, blobs.Len())
}

func TestStore_DeleteRemovesAttachments(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s, blobs := newStore()
	d := createDraft(t, s)
	require.NoError(t, s.AddAttachment(ctx, &models.DraftAttachment{OwnerID: owner, DraftID: d.ID}, []byte("1")))
	require.NoError(t, s.AddAttachment(ctx, &models.DraftAttachment{OwnerID: owner, DraftID: d.ID}, []byte("2")))

	// Act
	require.NoError(t, s.Delete(ctx, owner, d.ID))

	// Assert
	got, err := s.Get(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	atts, err := s.Attachments(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
	assert.Equal(t, 0, blobs.Len())

	assert.NoError(t, s.Delete(ctx, owner, d.ID))
}

func TestStore_ObserveStreamsUntilDelete(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s, _ := newStore()
	d := createDraft(t, s)

	ch, cancel, err := s.Observe(ctx, owner, d.ID)
	require.NoError(t, err)
	defer cancel()

	// Act / Assert
	first := receive(t, ch)
	assert.Equal(t, int64(1), first.Revision)

	_, err = s.SaveContent(ctx, owner, d.ID, models.DraftContent{Subject: "v2"})
	require.NoError(t, err)
	second := receive(t, ch)
	assert.Equal(t, "v2", second.Subject)

	require.NoError(t, s.Delete(ctx, owner, d.ID))
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed after delete")
	}
}

func TestStore_ObserveMissingDraft(t *testing.T) {
	s, _ := newStore()

	_, _, err := s.Observe(context.Background(), owner, "missing")

	assert.ErrorIs(t, err, draftsyncerrors.ErrDraftNotFound)
}

func receive(t *testing.T, ch <-chan *models.Draft) *models.Draft {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "stream closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no draft received")
		return nil
	}
}
