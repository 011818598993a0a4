package jobs

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/draftstore"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/identity"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/syncstate"
	"github.com/customeros/draftsync/internal/tracing"
)

// DraftSyncJob pushes the current content of a draft to the server, creating
// it on first run and updating it afterwards.
type DraftSyncJob struct {
	store      *draftstore.Store
	tracker    *syncstate.Tracker
	reconciler *identity.Reconciler
	api        interfaces.MailAPI
	encryptor  interfaces.Encryptor
	log        logger.Logger
}

func NewDraftSyncJob(store *draftstore.Store, tracker *syncstate.Tracker, reconciler *identity.Reconciler, api interfaces.MailAPI, encryptor interfaces.Encryptor, log logger.Logger) *DraftSyncJob {
	return &DraftSyncJob{
		store:      store,
		tracker:    tracker,
		reconciler: reconciler,
		api:        api,
		encryptor:  encryptor,
		log:        log,
	}
}

func (j *DraftSyncJob) Kind() enum.JobKind {
	return enum.JobKindSyncDraft
}

func (j *DraftSyncJob) Run(ctx context.Context, job *models.OutboxJob) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DraftSyncJob.Run")
	defer span.Finish()
	tracing.SetDefaultJobSpanTags(ctx, span, job.Kind.String())
	tracing.TagOwner(span, job.OwnerID)
	tracing.TagDraft(span, job.DraftID)

	// content is read now, not when the job was queued
	draft, err := j.store.Get(ctx, job.OwnerID, job.DraftID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	if draft == nil {
		return Skipped{Reason: "draft discarded"}
	}
	revision := draft.Revision

	if _, err = j.tracker.BeginDraftSync(ctx, draft.OwnerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}

	message, err := buildTemplate(ctx, j.encryptor, draft)
	if err != nil {
		tracing.TraceErr(span, err)
		return TerminalFailure{Reason: "failed to encrypt body: " + err.Error()}
	}
	attachments, err := j.store.Attachments(ctx, draft.OwnerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	keyPackets := attachmentKeyPackets(attachments)

	remoteID := draft.ID
	if identity.IsLocal(draft.ID) {
		resp, err := j.api.CreateDraft(ctx, draft.OwnerID, &dto.CreateDraftRequest{
			Message:              message,
			ParentID:             draft.ParentID,
			Action:               createAction(draft.Action),
			AttachmentKeyPackets: keyPackets,
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return failureOf(err)
		}
		if _, err = j.reconciler.Reconcile(ctx, draft.OwnerID, draft.ID, resp.ID); err != nil {
			// the server holds a draft we could not link; retrying would create a second one
			tracing.TraceErr(span, err)
			j.log.Error("failed to reconcile created draft",
				zap.String("ownerId", draft.OwnerID), zap.String("draftId", draft.ID), zap.String("remoteId", resp.ID), zap.Error(err))
			return TerminalFailure{Reason: "failed to reconcile draft id: " + err.Error()}
		}
		j.store.Rename(draft.OwnerID, draft.ID, resp.ID)
		j.tracker.Rename(draft.OwnerID, draft.ID, resp.ID)
		remoteID = resp.ID
	} else {
		if _, err = j.api.UpdateDraft(ctx, draft.OwnerID, remoteID, &dto.UpdateDraftRequest{
			Message:              message,
			AttachmentKeyPackets: keyPackets,
		}); err != nil {
			tracing.TraceErr(span, err)
			return failureOf(err)
		}
	}

	state, err := j.tracker.CompleteDraftSync(ctx, draft.OwnerID, remoteID, revision)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	j.log.Info("draft synced",
		zap.String("ownerId", draft.OwnerID),
		zap.String("draftId", remoteID),
		zap.String("jobKind", job.Kind.String()),
		zap.Int("attempt", job.Attempt),
		zap.Int64("revision", revision),
		zap.String("status", state.Status.String()))
	return Success{}
}
