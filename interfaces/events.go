package interfaces

import (
	"context"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/internal/enum"
)

type EventPublisher interface {
	PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error
	PublishDirectEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	Close() error
}

// SyncStateNotifier forwards sync state transitions outside the process.
type SyncStateNotifier interface {
	NotifySyncStateChanged(ctx context.Context, event dto.DraftSyncStateChanged) error
}
