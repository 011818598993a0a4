package listeners

import (
	"context"
	"fmt"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/internal/utils"
	"github.com/customeros/draftsync/services/events"
)

func decode[T any](ctx context.Context, base events.BaseEventListener, baseEvent any) (T, error) {
	var zero T
	event, err := base.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		return zero, err
	}
	return events.DecodeEventData[T](ctx, event)
}

// checkOwner rejects commands whose payload names an owner other than the
// one the event was published for.
func checkOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" || ownerID != utils.GetOwnerFromContext(ctx) {
		return fmt.Errorf("%w: command owner does not match event owner", draftsyncerrors.ErrInvalidInput)
	}
	return nil
}
