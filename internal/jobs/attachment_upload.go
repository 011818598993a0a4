package jobs

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/dto"
	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/identity"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/services/mailapi"
)

// AttachmentUploadJob uploads every attachment of a draft that is not on the
// server yet. One failure does not stop the others.
type AttachmentUploadJob struct {
	store     *draftstore.Store
	tracker   *syncstate.Tracker
	api       interfaces.MailAPI
	encryptor interfaces.Encryptor
	queue     interfaces.JobQueue
	cancels   *CancelRegistry
	log       logger.Logger
}

func NewAttachmentUploadJob(store *draftstore.Store, tracker *syncstate.Tracker, api interfaces.MailAPI, encryptor interfaces.Encryptor, queue interfaces.JobQueue, cancels *CancelRegistry, log logger.Logger) *AttachmentUploadJob {
	return &AttachmentUploadJob{
		store:     store,
		tracker:   tracker,
		api:       api,
		encryptor: encryptor,
		queue:     queue,
		cancels:   cancels,
		log:       log,
	}
}

func (j *AttachmentUploadJob) Kind() enum.JobKind {
	return enum.JobKindUploadAttachments
}

type uploadOutcome int

const (
	uploadDone uploadOutcome = iota
	uploadCancelled
	uploadFailed
)

func (j *AttachmentUploadJob) Run(ctx context.Context, job *models.OutboxJob) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentUploadJob.Run")
	defer span.Finish()
	tracing.SetDefaultJobSpanTags(ctx, span, job.Kind.String())
	tracing.TagOwner(span, job.OwnerID)
	tracing.TagDraft(span, job.DraftID)

	draft, err := j.store.Get(ctx, job.OwnerID, job.DraftID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	if draft == nil {
		return Skipped{Reason: "draft discarded"}
	}
	if identity.IsLocal(draft.ID) {
		return NotReady{Reason: draftsyncerrors.ErrDraftIDStillLocal.Error()}
	}

	pending, err := j.store.PendingAttachments(ctx, draft.OwnerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	if len(pending) == 0 {
		if _, err = j.tracker.CompleteUpload(ctx, draft.OwnerID, draft.ID); err != nil {
			return RetryableFailure{Reason: err.Error()}
		}
		return Success{}
	}
	if _, err = j.tracker.BeginUpload(ctx, draft.OwnerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}

	var (
		failed       int
		retryable    = true
		sendingError = enum.SendingErrorNone
		reason       string
	)
	for _, attachment := range pending {
		outcome, cl := j.uploadOne(ctx, draft, attachment.ID)
		if outcome != uploadFailed {
			continue
		}
		failed++
		if !cl.Retryable {
			retryable = false
		}
		if cl.SendingError.Priority() > sendingError.Priority() {
			sendingError = cl.SendingError
		}
		if reason == "" {
			reason = cl.Reason
		}
	}
	if ctx.Err() != nil {
		return RetryableFailure{Reason: ctx.Err().Error()}
	}

	if failed > 0 {
		j.log.Warn("attachment upload incomplete",
			zap.String("ownerId", draft.OwnerID),
			zap.String("draftId", draft.ID),
			zap.String("jobKind", job.Kind.String()),
			zap.Int("attempt", job.Attempt),
			zap.Int("failed", failed),
			zap.Int("pending", len(pending)))
		if retryable && sendingError == enum.SendingErrorNone {
			return RetryableFailure{Reason: reason}
		}
		return TerminalFailure{Reason: reason, SendingError: sendingError}
	}

	if _, err = j.tracker.CompleteUpload(ctx, draft.OwnerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	j.log.Info("attachments uploaded",
		zap.String("ownerId", draft.OwnerID),
		zap.String("draftId", draft.ID),
		zap.String("jobKind", job.Kind.String()),
		zap.Int("attempt", job.Attempt),
		zap.Int("count", len(pending)))
	return Success{}
}

// uploadOne re-reads the attachment so rows removed since the batch started
// are not sent.
func (j *AttachmentUploadJob) uploadOne(ctx context.Context, draft *models.Draft, attachmentID string) (uploadOutcome, mailapi.Classification) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentUploadJob.uploadOne")
	defer span.Finish()
	tracing.TagEntity(span, attachmentID)

	attachment, err := j.store.GetAttachment(ctx, draft.OwnerID, attachmentID)
	if err != nil {
		tracing.TraceErr(span, err)
		return uploadFailed, mailapi.Classification{Retryable: true, Reason: err.Error()}
	}
	if attachment == nil || !attachment.UploadStatus.NeedsUpload() {
		return uploadCancelled, mailapi.Classification{}
	}

	attCtx, done := j.cancels.register(ctx, attachment.ID)
	defer done()

	if _, err = j.store.UpdateAttachment(ctx, draft.OwnerID, attachment.ID, func(a *models.DraftAttachment) error {
		a.UploadStatus = enum.AttachmentUploading
		return nil
	}); err != nil {
		if errors.Is(err, draftsyncerrors.ErrAttachmentNotFound) {
			return uploadCancelled, mailapi.Classification{}
		}
		return j.markFailed(ctx, attachment, mailapi.Classification{Retryable: true, Reason: err.Error()})
	}

	content, err := j.store.AttachmentContent(attCtx, attachment)
	if err != nil {
		if j.cancelled(ctx, attCtx) {
			return uploadCancelled, mailapi.Classification{}
		}
		return j.markFailed(ctx, attachment, mailapi.Classification{Retryable: true, Reason: "failed to read content: " + err.Error()})
	}
	encrypted, err := j.encryptor.EncryptAttachment(attCtx, draft.OwnerID, content)
	if err != nil {
		return j.markFailed(ctx, attachment, mailapi.Classification{Reason: "failed to encrypt: " + err.Error()})
	}

	resp, err := j.api.UploadAttachment(attCtx, draft.OwnerID, &dto.UploadAttachmentRequest{
		MessageID:  draft.ID,
		Filename:   attachment.Filename,
		MIMEType:   attachment.ContentType,
		ContentID:  attachment.ContentID,
		Inline:     attachment.IsInline,
		KeyPackets: encrypted.KeyPackets,
		DataPacket: encrypted.DataPacket,
		Signature:  encrypted.Signature,
	})
	if err != nil {
		if j.cancelled(ctx, attCtx) {
			j.log.Info("attachment upload cancelled",
				zap.String("ownerId", draft.OwnerID), zap.String("draftId", draft.ID), zap.String("attachmentId", attachment.ID))
			return uploadCancelled, mailapi.Classification{}
		}
		tracing.TraceErr(span, err)
		return j.markFailed(ctx, attachment, mailapi.Classify(err))
	}

	keyPackets := resp.KeyPackets
	if keyPackets == "" {
		keyPackets = base64.StdEncoding.EncodeToString(encrypted.KeyPackets)
	}
	signature := resp.Signature
	if signature == "" {
		signature = base64.StdEncoding.EncodeToString(encrypted.Signature)
	}
	_, err = j.store.UpdateAttachment(ctx, draft.OwnerID, attachment.ID, func(a *models.DraftAttachment) error {
		a.UploadStatus = enum.AttachmentUploaded
		a.RemoteID = resp.ID
		a.KeyPackets = keyPackets
		a.Signature = signature
		a.LastError = ""
		return nil
	})
	if errors.Is(err, draftsyncerrors.ErrAttachmentNotFound) {
		// deleted while the request was on the wire
		j.scheduleRemoteDelete(ctx, draft, attachment.ID, resp.ID)
		return uploadCancelled, mailapi.Classification{}
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return uploadFailed, mailapi.Classification{Retryable: true, Reason: err.Error()}
	}
	return uploadDone, mailapi.Classification{}
}

// cancelled is true when the attachment context was cancelled but the job's was not.
func (j *AttachmentUploadJob) cancelled(jobCtx, attCtx context.Context) bool {
	return attCtx.Err() != nil && jobCtx.Err() == nil
}

func (j *AttachmentUploadJob) markFailed(ctx context.Context, attachment *models.DraftAttachment, cl mailapi.Classification) (uploadOutcome, mailapi.Classification) {
	_, err := j.store.UpdateAttachment(ctx, attachment.OwnerID, attachment.ID, func(a *models.DraftAttachment) error {
		a.UploadStatus = enum.AttachmentFailed
		a.LastError = cl.Reason
		return nil
	})
	if errors.Is(err, draftsyncerrors.ErrAttachmentNotFound) {
		return uploadCancelled, mailapi.Classification{}
	}
	j.log.Warn("attachment upload failed",
		zap.String("ownerId", attachment.OwnerID),
		zap.String("draftId", attachment.DraftID),
		zap.String("attachmentId", attachment.ID),
		zap.Bool("retryable", cl.Retryable),
		zap.String("reason", cl.Reason))
	return uploadFailed, cl
}

func (j *AttachmentUploadJob) scheduleRemoteDelete(ctx context.Context, draft *models.Draft, attachmentID, remoteID string) {
	err := j.queue.EnqueueUnique(ctx, &models.OutboxJob{
		Kind:               enum.JobKindDeleteAttachment,
		OwnerID:            draft.OwnerID,
		DraftID:            draft.ID,
		AttachmentID:       attachmentID,
		RemoteAttachmentID: remoteID,
	})
	if err != nil {
		j.log.Error("failed to schedule remote attachment delete",
			zap.String("ownerId", draft.OwnerID), zap.String("attachmentId", attachmentID), zap.Error(err))
	}
}
