// Package listeners turns broker commands into draft service calls.
package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/services/events"
)

// DraftCommands is the part of the draft service reachable from the broker.
type DraftCommands interface {
	RequestSync(ctx context.Context, ownerID, draftID string) error
	RequestSend(ctx context.Context, ownerID, draftID string) error
	CancelAttachment(ctx context.Context, ownerID, attachmentID string) error
}

type RequestSyncListener struct {
	events.BaseEventListener
	drafts DraftCommands
}

func NewRequestSyncListener(logger logger.Logger, drafts DraftCommands) interfaces.EventListener {
	return &RequestSyncListener{
		BaseEventListener: events.NewBaseEventListener(logger, events.GetEventType[dto.RequestSync](), events.QueueCommands),
		drafts:            drafts,
	}
}

func (l *RequestSyncListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RequestSyncListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	cmd, err := decode[dto.RequestSync](ctx, l.BaseEventListener, baseEvent)
	if err == nil {
		err = checkOwner(ctx, cmd.OwnerId)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagDraft(span, cmd.DraftId)

	if err = l.drafts.RequestSync(ctx, cmd.OwnerId, cmd.DraftId); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

type RequestSendListener struct {
	events.BaseEventListener
	drafts DraftCommands
}

func NewRequestSendListener(logger logger.Logger, drafts DraftCommands) interfaces.EventListener {
	return &RequestSendListener{
		BaseEventListener: events.NewBaseEventListener(logger, events.GetEventType[dto.RequestSend](), events.QueueCommands),
		drafts:            drafts,
	}
}

func (l *RequestSendListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RequestSendListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	cmd, err := decode[dto.RequestSend](ctx, l.BaseEventListener, baseEvent)
	if err == nil {
		err = checkOwner(ctx, cmd.OwnerId)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagDraft(span, cmd.DraftId)

	if err = l.drafts.RequestSend(ctx, cmd.OwnerId, cmd.DraftId); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

type CancelAttachmentListener struct {
	events.BaseEventListener
	drafts DraftCommands
}

func NewCancelAttachmentListener(logger logger.Logger, drafts DraftCommands) interfaces.EventListener {
	return &CancelAttachmentListener{
		BaseEventListener: events.NewBaseEventListener(logger, events.GetEventType[dto.CancelAttachment](), events.QueueCommands),
		drafts:            drafts,
	}
}

func (l *CancelAttachmentListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CancelAttachmentListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	cmd, err := decode[dto.CancelAttachment](ctx, l.BaseEventListener, baseEvent)
	if err == nil {
		err = checkOwner(ctx, cmd.OwnerId)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagDraft(span, cmd.DraftId)
	span.SetTag("attachment.id", cmd.AttachmentId)

	if err = l.drafts.CancelAttachment(ctx, cmd.OwnerId, cmd.AttachmentId); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// RegisterCommandListeners wires every command listener onto the subscriber.
func RegisterCommandListeners(subscriber interfaces.EventSubscriber, logger logger.Logger, drafts DraftCommands) error {
	subscriber.RegisterListener(NewRequestSyncListener(logger, drafts))
	subscriber.RegisterListener(NewRequestSendListener(logger, drafts))
	subscriber.RegisterListener(NewCancelAttachmentListener(logger, drafts))
	return subscriber.ListenQueue(events.QueueCommands)
}
