package jobs

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/tracing"
)

// DeleteAttachmentJob removes an uploaded attachment from the server after
// the user deleted it locally.
type DeleteAttachmentJob struct {
	api interfaces.MailAPI
	log logger.Logger
}

func NewDeleteAttachmentJob(api interfaces.MailAPI, log logger.Logger) *DeleteAttachmentJob {
	return &DeleteAttachmentJob{api: api, log: log}
}

func (j *DeleteAttachmentJob) Kind() enum.JobKind {
	return enum.JobKindDeleteAttachment
}

func (j *DeleteAttachmentJob) Run(ctx context.Context, job *models.OutboxJob) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeleteAttachmentJob.Run")
	defer span.Finish()
	tracing.SetDefaultJobSpanTags(ctx, span, job.Kind.String())
	tracing.TagOwner(span, job.OwnerID)
	tracing.TagEntity(span, job.AttachmentID)

	if job.RemoteAttachmentID == "" {
		return Skipped{Reason: "attachment was never uploaded"}
	}
	if err := j.api.DeleteAttachment(ctx, job.OwnerID, job.RemoteAttachmentID); err != nil {
		tracing.TraceErr(span, err)
		return failureOf(err)
	}
	j.log.Info("remote attachment deleted",
		zap.String("ownerId", job.OwnerID),
		zap.String("draftId", job.DraftID),
		zap.String("attachmentId", job.AttachmentID),
		zap.Int("attempt", job.Attempt))
	return Success{}
}
