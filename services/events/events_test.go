package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/utils"
)

type recordingListener struct {
	BaseEventListener
	handled []dto.RequestSync
	owners  []string
	err     error
}

func newRecordingListener(queue string) *recordingListener {
	return &recordingListener{
		BaseEventListener: NewBaseEventListener(logger.NewNopAppLogger(), GetEventType[dto.RequestSync](), queue),
	}
}

func (l *recordingListener) Handle(ctx context.Context, baseEvent any) error {
	event, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		return err
	}
	cmd, err := DecodeEventData[dto.RequestSync](ctx, event)
	if err != nil {
		return err
	}
	l.handled = append(l.handled, cmd)
	l.owners = append(l.owners, utils.GetOwnerFromContext(ctx))
	return l.err
}

func commandBody(t *testing.T, owner string, message interface{}) []byte {
	t.Helper()
	ctx := utils.SetOwnerInContext(context.Background(), owner)
	body, err := json.Marshal(newEvent(ctx, "draft-1", enum.DRAFT, message, ""))
	require.NoError(t, err)
	return body
}

func TestNewEvent_Envelope(t *testing.T) {
	ctx := utils.SetOwnerInContext(context.Background(), "owner-1")

	event := newEvent(ctx, "draft-1", enum.DRAFT, &dto.DraftSyncStateChanged{DraftId: "draft-1"}, "trace")

	assert.Equal(t, "owner-1", event.Event.OwnerId)
	assert.Equal(t, "draft-1", event.Event.EntityId)
	assert.Equal(t, enum.DRAFT, event.Event.EntityType)
	assert.Equal(t, "DraftSyncStateChanged", event.Event.EventType)
	assert.Regexp(t, "^event_", event.Event.Id)
	assert.Equal(t, "trace", event.Metadata.UberTraceId)
	assert.Equal(t, AppSource, event.Metadata.AppSource)
}

func TestSubscriber_DispatchesToListener(t *testing.T) {
	// Arrange
	sub := newSubscriber("", logger.NewNopAppLogger(), nil)
	listener := newRecordingListener(QueueCommands)
	sub.RegisterListener(listener)
	body := commandBody(t, "owner-1", dto.RequestSync{OwnerId: "owner-1", DraftId: "draft-1"})

	// Act
	err := sub.processMessage(body, QueueCommands)

	// Assert
	require.NoError(t, err)
	require.Len(t, listener.handled, 1)
	assert.Equal(t, "draft-1", listener.handled[0].DraftId)
	assert.Equal(t, []string{"owner-1"}, listener.owners)
}

func TestSubscriber_IgnoresUnroutableMessages(t *testing.T) {
	sub := newSubscriber("", logger.NewNopAppLogger(), nil)
	listener := newRecordingListener(QueueCommands)
	sub.RegisterListener(listener)

	require.NoError(t, sub.processMessage(commandBody(t, "owner-1", dto.RequestSend{DraftId: "d"}), QueueCommands))
	require.NoError(t, sub.processMessage(commandBody(t, "owner-1", dto.RequestSync{DraftId: "d"}), "other-queue"))

	assert.Empty(t, listener.handled)
}

func TestSubscriber_ReportsFailures(t *testing.T) {
	sub := newSubscriber("", logger.NewNopAppLogger(), nil)
	listener := newRecordingListener(QueueCommands)
	listener.err = assert.AnError
	sub.RegisterListener(listener)

	assert.Error(t, sub.processMessage([]byte("{not json"), QueueCommands))
	assert.ErrorIs(t, sub.processMessage(commandBody(t, "owner-1", dto.RequestSync{DraftId: "d"}), QueueCommands), assert.AnError)
	// no owner on the event
	assert.Error(t, sub.processMessage(commandBody(t, "", dto.RequestSync{DraftId: "d"}), QueueCommands))
}

func TestValidateBaseEvent(t *testing.T) {
	listener := newRecordingListener(QueueCommands)
	ctx := utils.SetOwnerInContext(context.Background(), "owner-1")
	valid := newEvent(ctx, "draft-1", enum.DRAFT, dto.RequestSync{DraftId: "draft-1"}, "")

	cases := map[string]func(e *dto.Event){
		"nil data":    func(e *dto.Event) { e.Event.Data = nil },
		"no entity":   func(e *dto.Event) { e.Event.EntityId = "" },
		"no owner":    func(e *dto.Event) { e.Event.OwnerId = "" },
		"wrong event": func(e *dto.Event) { e.Event.EventType = "RequestSend" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			_, err := listener.ValidateBaseEvent(ctx, event)
			assert.Error(t, err)
		})
	}

	_, err := listener.ValidateBaseEvent(ctx, valid)
	assert.NoError(t, err)
	_, err = listener.ValidateBaseEvent(context.Background(), valid)
	assert.Error(t, err)
	_, err = listener.ValidateBaseEvent(ctx, "not an event")
	assert.Error(t, err)
}

func TestDecodeEventData_FromDecodedJSON(t *testing.T) {
	event := &dto.Event{Event: dto.EventDetails{Data: map[string]interface{}{
		"ownerId":      "owner-1",
		"draftId":      "draft-1",
		"attachmentId": "att-1",
	}}}

	cmd, err := DecodeEventData[dto.CancelAttachment](context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, dto.CancelAttachment{OwnerId: "owner-1", DraftId: "draft-1", AttachmentId: "att-1"}, cmd)
}

func TestQueueArgs(t *testing.T) {
	args := queueArgs(time.Hour)

	assert.Equal(t, ExchangeDeadLetter, args["x-dead-letter-exchange"])
	assert.Equal(t, int64(3600000), args["x-message-ttl"])
}
