// Package draftstore is the local source of truth for drafts and their
// attachments. Nothing here touches the network.
package draftstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/opentracing/opentracing-go"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/pubsub"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/internal/utils"
)

type draftKey struct {
	ownerID string
	draftID string
}

type Store struct {
	drafts      interfaces.DraftRepository
	attachments interfaces.DraftAttachmentRepository
	blobs       interfaces.StorageService
	broker      *pubsub.Broker[draftKey, *models.Draft]
}

func NewStore(drafts interfaces.DraftRepository, attachments interfaces.DraftAttachmentRepository, blobs interfaces.StorageService) *Store {
	return &Store{
		drafts:      drafts,
		attachments: attachments,
		blobs:       blobs,
		broker:      pubsub.NewBroker[draftKey, *models.Draft](4),
	}
}

func (s *Store) Create(ctx context.Context, draft *models.Draft) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Store.Create")
	defer span.Finish()

	if !draft.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", draftsyncerrors.ErrInvalidInput, draft.Action)
	}
	if draft.Action.RequiresParent() && draft.ParentID == "" {
		return fmt.Errorf("%w: %s requires a parent message", draftsyncerrors.ErrInvalidInput, draft.Action)
	}
	if draft.Revision == 0 {
		draft.Revision = 1
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.publish(draft)
	return nil
}

func (s *Store) Get(ctx context.Context, ownerID, id string) (*models.Draft, error) {
	return s.drafts.Get(ctx, ownerID, id)
}

// MustGet is Get with a missing draft reported as ErrDraftNotFound.
func (s *Store) MustGet(ctx context.Context, ownerID, id string) (*models.Draft, error) {
	draft, err := s.drafts.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, draftsyncerrors.ErrDraftNotFound
	}
	return draft, nil
}

func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error) {
	return s.drafts.List(ctx, ownerID, limit, offset)
}

// Update is the atomic save: fn sees the stored draft and its changes are
// written back in the same step.
func (s *Store) Update(ctx context.Context, ownerID, id string, fn func(*models.Draft) error) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Store.Update")
	defer span.Finish()
	tracing.TagDraft(span, id)

	draft, err := s.drafts.Update(ctx, ownerID, id, fn)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.publish(draft)
	return draft, nil
}

// SaveContent replaces the editable fields and bumps the revision.
func (s *Store) SaveContent(ctx context.Context, ownerID, id string, content models.DraftContent) (*models.Draft, error) {
	return s.Update(ctx, ownerID, id, func(d *models.Draft) error {
		d.ApplyContent(content)
		return nil
	})
}

// Delete removes the draft, its attachments and their stored content.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Store.Delete")
	defer span.Finish()
	tracing.TagDraft(span, id)

	draft, err := s.drafts.Get(ctx, ownerID, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if draft == nil {
		return nil
	}
	attachments, err := s.attachments.ListByDraft(ctx, ownerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, a := range attachments {
		s.deleteBlob(ctx, a)
	}
	if err := s.attachments.DeleteByDraft(ctx, ownerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.drafts.Delete(ctx, ownerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.broker.Close(draftKey{ownerID: ownerID, draftID: draft.ID})
	return nil
}

// Observe streams the draft, starting with its current value. The stream
// closes when the draft is deleted. Received drafts must not be modified.
func (s *Store) Observe(ctx context.Context, ownerID, id string) (<-chan *models.Draft, func(), error) {
	draft, err := s.MustGet(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	key := draftKey{ownerID: ownerID, draftID: draft.ID}
	if _, ok := s.broker.Last(key); !ok {
		s.broker.Publish(key, draft)
	}
	ch, cancel := s.broker.Subscribe(ctx, key)
	return ch, cancel, nil
}

// Rename moves observers of a local placeholder onto the remote id.
func (s *Store) Rename(ownerID, localID, remoteID string) {
	s.broker.Rename(draftKey{ownerID: ownerID, draftID: localID}, draftKey{ownerID: ownerID, draftID: remoteID})
}

func (s *Store) AddAttachment(ctx context.Context, attachment *models.DraftAttachment, content []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Store.AddAttachment")
	defer span.Finish()

	draft, err := s.MustGet(ctx, attachment.OwnerID, attachment.DraftID)
	if err != nil {
		return err
	}
	attachment.DraftID = draft.ID
	if attachment.ID == "" {
		attachment.ID = utils.GenerateNanoIDWithPrefix("att", 16)
	}
	sum := sha256.Sum256(content)
	attachment.ContentHash = hex.EncodeToString(sum[:])
	attachment.Size = int64(len(content))
	attachment.StorageKey = StorageKey(attachment.OwnerID, attachment.ID)
	attachment.UploadStatus = enum.AttachmentPending

	if err := s.blobs.Upload(ctx, attachment.StorageKey, content, attachment.ContentType); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to store attachment content: %w", err)
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		tracing.TraceErr(span, err)
		s.deleteBlob(ctx, attachment)
		return err
	}
	return nil
}

func (s *Store) GetAttachment(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	return s.attachments.Get(ctx, ownerID, id)
}

func (s *Store) Attachments(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error) {
	return s.attachments.ListByDraft(ctx, ownerID, draftID)
}

// PendingAttachments lists attachments not yet uploaded.
func (s *Store) PendingAttachments(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error) {
	all, err := s.attachments.ListByDraft(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	pending := make([]*models.DraftAttachment, 0, len(all))
	for _, a := range all {
		if a.UploadStatus.NeedsUpload() {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

func (s *Store) UpdateAttachment(ctx context.Context, ownerID, id string, fn func(*models.DraftAttachment) error) (*models.DraftAttachment, error) {
	return s.attachments.Update(ctx, ownerID, id, fn)
}

// RemoveAttachment returns the row as it was when removed, nil if it was already gone.
func (s *Store) RemoveAttachment(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	attachment, err := s.attachments.Delete(ctx, ownerID, id)
	if err != nil || attachment == nil {
		return nil, err
	}
	s.deleteBlob(ctx, attachment)
	return attachment, nil
}

func (s *Store) AttachmentContent(ctx context.Context, attachment *models.DraftAttachment) ([]byte, error) {
	return s.blobs.Download(ctx, attachment.StorageKey)
}

func (s *Store) deleteBlob(ctx context.Context, attachment *models.DraftAttachment) {
	if attachment.StorageKey == "" {
		return
	}
	if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
		span := opentracing.SpanFromContext(ctx)
		tracing.TraceErr(span, err)
	}
}

func (s *Store) publish(draft *models.Draft) {
	s.broker.Publish(draftKey{ownerID: draft.OwnerID, draftID: draft.ID}, draft.Clone())
}

func StorageKey(ownerID, attachmentID string) string {
	return fmt.Sprintf("drafts/%s/%s", ownerID, attachmentID)
}
