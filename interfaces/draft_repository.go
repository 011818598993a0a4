package interfaces

import (
	"context"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
)

// DraftRepository persists drafts. Lookups accept either the current id or
// the local placeholder the draft was created with. Missing rows are
// returned as nil without error.
type DraftRepository interface {
	Create(ctx context.Context, draft *models.Draft) error
	Get(ctx context.Context, ownerID, id string) (*models.Draft, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error)
	// Update runs fn against the stored draft as a single read-modify-write.
	Update(ctx context.Context, ownerID, id string, fn func(*models.Draft) error) (*models.Draft, error)
	Delete(ctx context.Context, ownerID, id string) error
	// ReassignID swaps localID for remoteID on the draft and every row keyed
	// by it (attachments, sync state) in one step.
	ReassignID(ctx context.Context, ownerID, localID, remoteID string) (*models.Draft, error)
}

type DraftAttachmentRepository interface {
	Create(ctx context.Context, attachment *models.DraftAttachment) error
	Get(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error)
	ListByDraft(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error)
	Update(ctx context.Context, ownerID, id string, fn func(*models.DraftAttachment) error) (*models.DraftAttachment, error)
	// Delete removes the attachment and returns the row as it was at removal,
	// or nil when there was none.
	Delete(ctx context.Context, ownerID, id string) (*models.DraftAttachment, error)
	DeleteByDraft(ctx context.Context, ownerID, draftID string) error
}

type DraftSyncStateRepository interface {
	Get(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error)
	// Modify applies fn to the stored state, creating a pending one first if none exists.
	Modify(ctx context.Context, ownerID, draftID string, fn func(*models.DraftSyncState) error) (*models.DraftSyncState, error)
	Delete(ctx context.Context, ownerID, draftID string) error
	ListByStatus(ctx context.Context, statuses ...enum.DraftSyncStatus) ([]*models.DraftSyncState, error)
}
