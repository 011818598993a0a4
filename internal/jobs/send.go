package jobs

import (
	"context"

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

type SendJob struct {
	store   *draftstore.Store
	tracker *syncstate.Tracker
	api     interfaces.MailAPI
	queue   interfaces.JobQueue
	log     logger.Logger
}

func NewSendJob(store *draftstore.Store, tracker *syncstate.Tracker, api interfaces.MailAPI, queue interfaces.JobQueue, log logger.Logger) *SendJob {
	return &SendJob{
		store:   store,
		tracker: tracker,
		api:     api,
		queue:   queue,
		log:     log,
	}
}

func (j *SendJob) Kind() enum.JobKind {
	return enum.JobKindSendDraft
}

func (j *SendJob) Run(ctx context.Context, job *models.OutboxJob) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SendJob.Run")
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
		return Skipped{Reason: "draft discarded or already sent"}
	}
	if identity.IsLocal(draft.ID) {
		err = draftsyncerrors.ErrDraftIDStillLocal
		tracing.TraceErr(span, err)
		j.log.Error("send requested for a draft without a server id",
			zap.String("ownerId", draft.OwnerID), zap.String("draftId", draft.ID))
		return TerminalFailure{Reason: err.Error()}
	}

	state, err := j.tracker.Get(ctx, draft.OwnerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	if state == nil || !state.DraftSynced() || state.SyncedRevision < draft.Revision {
		return NotReady{Reason: draftsyncerrors.ErrDraftNotSynced.Error()}
	}
	pending, err := j.store.PendingAttachments(ctx, draft.OwnerID, draft.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	if len(pending) > 0 {
		return NotReady{Reason: draftsyncerrors.ErrAttachmentsPending.Error()}
	}

	if _, err = j.tracker.BeginSend(ctx, draft.OwnerID, draft.ID); err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}

	_, err = j.api.SendMessage(ctx, draft.OwnerID, draft.ID, &dto.SendMessageRequest{})
	if err != nil {
		cl := mailapi.Classify(err)
		if cl.SendingError != enum.SendingErrorMessageAlreadySent {
			tracing.TraceErr(span, err)
			return failureOf(err)
		}
		// an earlier attempt went through server side
		j.log.Info("draft was already sent",
			zap.String("ownerId", draft.OwnerID), zap.String("draftId", draft.ID), zap.Int("attempt", job.Attempt))
	}

	if err = j.finish(ctx, draft); err != nil {
		tracing.TraceErr(span, err)
		return RetryableFailure{Reason: err.Error()}
	}
	j.log.Info("draft sent",
		zap.String("ownerId", draft.OwnerID),
		zap.String("draftId", draft.ID),
		zap.String("jobKind", job.Kind.String()),
		zap.Int("attempt", job.Attempt))
	return Success{}
}

// finish removes every local trace of a sent draft. Re-running it after a
// partial failure is safe.
func (j *SendJob) finish(ctx context.Context, draft *models.Draft) error {
	for _, kind := range []enum.JobKind{enum.JobKindSyncDraft, enum.JobKindUploadAttachments} {
		if err := j.queue.Cancel(ctx, models.JobKey(kind, draft.ID)); err != nil {
			return err
		}
	}
	if err := j.store.Delete(ctx, draft.OwnerID, draft.ID); err != nil {
		return err
	}
	return j.tracker.CompleteSend(ctx, draft.OwnerID, draft.ID)
}
