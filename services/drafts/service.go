// Package drafts is the command facade the UI talks to. Every call returns
// once local state is written; network work happens in outbox jobs.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/jobs"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/orchestrator"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/internal/tracing"
)

var (
	ErrRecipientsMissing = errors.New("recipients missing")
	ErrInvalidRecipient  = errors.New("recipient address is invalid")
	ErrInvalidSender     = errors.New("sender address is invalid")
)

type CreateDraftInput struct {
	Action   enum.DraftAction
	ParentID string
	Content  models.DraftContent
}

type AttachmentInput struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

type Service struct {
	store        *draftstore.Store
	tracker      *syncstate.Tracker
	orchestrator *orchestrator.Orchestrator
	cancels      *jobs.CancelRegistry
	log          logger.Logger
}

func NewDraftService(store *draftstore.Store, tracker *syncstate.Tracker, orchestrator *orchestrator.Orchestrator, cancels *jobs.CancelRegistry, log logger.Logger) *Service {
	return &Service{
		store:        store,
		tracker:      tracker,
		orchestrator: orchestrator,
		cancels:      cancels,
		log:          log,
	}
}

func (s *Service) CreateDraft(ctx context.Context, ownerID string, input CreateDraftInput) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.CreateDraft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)

	if ownerID == "" {
		return nil, draftsyncerrors.ErrOwnerMissing
	}
	if input.Action == "" {
		input.Action = enum.DraftActionCompose
	}
	draft := &models.Draft{
		OwnerID:  ownerID,
		Action:   input.Action,
		ParentID: input.ParentID,
		MIMEType: enum.MIMETypeHTML,
	}
	draft.ApplyContent(input.Content)
	if err := s.store.Create(ctx, draft); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagDraft(span, draft.ID)

	if err := s.changed(ctx, draft, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return draft, nil
}

func (s *Service) GetDraft(ctx context.Context, ownerID, draftID string) (*models.Draft, error) {
	return s.store.MustGet(ctx, ownerID, draftID)
}

func (s *Service) ListDrafts(ctx context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error) {
	return s.store.List(ctx, ownerID, limit, offset)
}

// UpdateDraft saves new content. Any sync state goes back to pending and a
// sync is queued; a job already in flight cannot mark the older content synced.
func (s *Service) UpdateDraft(ctx context.Context, ownerID, draftID string, content models.DraftContent) (*models.Draft, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.UpdateDraft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	draft, err := s.store.SaveContent(ctx, ownerID, draftID, content)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err = s.changed(ctx, draft, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return draft, nil
}

// DiscardDraft drops the draft locally with its queued jobs.
func (s *Service) DiscardDraft(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.DiscardDraft")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return err
	}
	for _, kind := range []enum.JobKind{enum.JobKindSyncDraft, enum.JobKindUploadAttachments, enum.JobKindSendDraft} {
		if err = s.orchestrator.CancelQueued(ctx, kind, draft.ID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	attachments, err := s.store.Attachments(ctx, ownerID, draft.ID)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		s.cancels.Cancel(a.ID)
	}
	if err = s.store.Delete(ctx, ownerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err = s.tracker.Forget(ctx, ownerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Info("draft discarded", zap.String("ownerId", ownerID), zap.String("draftId", draft.ID))
	return nil
}

func (s *Service) AddAttachment(ctx context.Context, ownerID, draftID string, input AttachmentInput) (*models.DraftAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.AddAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	if input.Filename == "" {
		return nil, fmt.Errorf("%w: attachment filename is empty", draftsyncerrors.ErrInvalidInput)
	}
	attachment := &models.DraftAttachment{
		DraftID:     draftID,
		OwnerID:     ownerID,
		Filename:    input.Filename,
		ContentType: input.ContentType,
		ContentID:   input.ContentID,
		IsInline:    input.Inline,
	}
	if attachment.ContentType == "" {
		attachment.ContentType = "application/octet-stream"
	}
	if err := s.store.AddAttachment(ctx, attachment, input.Content); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	draft, err := s.store.MustGet(ctx, ownerID, attachment.DraftID)
	if err != nil {
		return nil, err
	}
	if err = s.changed(ctx, draft, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error) {
	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	return s.store.Attachments(ctx, ownerID, draft.ID)
}

// DeleteAttachment removes an attachment. An upload in flight is stopped and
// not retried; an attachment already on the server is deleted there by a job.
func (s *Service) DeleteAttachment(ctx context.Context, ownerID, attachmentID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.DeleteAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagEntity(span, attachmentID)

	attachment, err := s.store.GetAttachment(ctx, ownerID, attachmentID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if attachment == nil {
		return draftsyncerrors.ErrAttachmentNotFound
	}

	// the row goes first so the running batch skips it on re-read
	removed, err := s.store.RemoveAttachment(ctx, ownerID, attachmentID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if s.cancels.Cancel(attachmentID) {
		s.log.Info("in-flight attachment upload cancelled",
			zap.String("ownerId", ownerID), zap.String("draftId", attachment.DraftID), zap.String("attachmentId", attachmentID))
	}
	// An upload that finishes after the removal sees the row gone and deletes
	// the server copy itself, so only the removed row's remote id counts here.
	if removed != nil {
		attachment = removed
	}
	if removed != nil && attachment.RemoteID != "" {
		if err = s.orchestrator.EnqueueDeleteAttachment(ctx, ownerID, attachment.DraftID, attachment.ID, attachment.RemoteID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	draft, err := s.store.Get(ctx, ownerID, attachment.DraftID)
	if err != nil || draft == nil {
		return err
	}
	return s.changed(ctx, draft, false)
}

// CancelAttachment stops the upload of an attachment the user removed
// before it reached the server.
func (s *Service) CancelAttachment(ctx context.Context, ownerID, attachmentID string) error {
	return s.DeleteAttachment(ctx, ownerID, attachmentID)
}

// RequestSync queues a sync, clearing a previous error. Used for manual retry.
func (s *Service) RequestSync(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.RequestSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return err
	}
	pending, err := s.store.PendingAttachments(ctx, ownerID, draft.ID)
	if err != nil {
		return err
	}
	return s.changed(ctx, draft, len(pending) > 0)
}

// RequestSend validates recipients and queues the whole chain. The send
// job only runs after sync and upload have succeeded.
func (s *Service) RequestSend(ctx context.Context, ownerID, draftID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftService.RequestSend")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagOwner(span, ownerID)
	tracing.TagDraft(span, draftID)

	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return err
	}
	if err = validateRecipients(draft); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	state, err := s.tracker.RequestSend(ctx, ownerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !state.DraftSynced() || state.SyncedRevision < draft.Revision {
		if err = s.orchestrator.EnqueueSync(ctx, ownerID, draft.ID); err != nil {
			return err
		}
	}
	pending, err := s.store.PendingAttachments(ctx, ownerID, draft.ID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		if err = s.orchestrator.EnqueueUpload(ctx, ownerID, draft.ID); err != nil {
			return err
		}
	}
	return s.orchestrator.EnqueueSend(ctx, ownerID, draft.ID)
}

func (s *Service) GetSyncState(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	return s.tracker.Get(ctx, ownerID, draft.ID)
}

// ObserveSyncState streams the sync state, starting with the current value.
func (s *Service) ObserveSyncState(ctx context.Context, ownerID, draftID string) (<-chan syncstate.Snapshot, func(), error) {
	draft, err := s.store.MustGet(ctx, ownerID, draftID)
	if err != nil {
		return nil, nil, err
	}
	return s.tracker.Subscribe(ctx, ownerID, draft.ID)
}

func (s *Service) ObserveDraft(ctx context.Context, ownerID, draftID string) (<-chan *models.Draft, func(), error) {
	return s.store.Observe(ctx, ownerID, draftID)
}

// changed marks the draft pending and queues a sync, plus an upload when
// attachments changed.
func (s *Service) changed(ctx context.Context, draft *models.Draft, attachments bool) error {
	if _, err := s.tracker.MarkPending(ctx, draft.OwnerID, draft.ID, draft.Revision); err != nil {
		return err
	}
	if err := s.orchestrator.EnqueueSync(ctx, draft.OwnerID, draft.ID); err != nil {
		return err
	}
	if attachments {
		return s.orchestrator.EnqueueUpload(ctx, draft.OwnerID, draft.ID)
	}
	return nil
}

func validateRecipients(draft *models.Draft) error {
	recipients := draft.Recipients()
	if len(recipients) == 0 {
		return ErrRecipientsMissing
	}
	for _, r := range recipients {
		if !validAddress(r) {
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, r)
		}
	}
	if draft.FromAddress != "" && !validAddress(draft.FromAddress) {
		return ErrInvalidSender
	}
	return nil
}

func validAddress(raw string) bool {
	address := raw
	if parsed, err := mail.ParseAddress(raw); err == nil {
		address = parsed.Address
	}
	return mailvalidate.ValidateEmailSyntax(address).IsValid
}
