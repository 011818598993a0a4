// Package drafts exposes the draft service over REST and SSE.
package drafts

import (
	"context"
	"time"

	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/syncstate"
	draftservice "github.com/customeros/draftsync/services/drafts"
)

// DraftService is what the handlers need from services/drafts.
type DraftService interface {
	CreateDraft(ctx context.Context, ownerID string, input draftservice.CreateDraftInput) (*models.Draft, error)
	GetDraft(ctx context.Context, ownerID, draftID string) (*models.Draft, error)
	ListDrafts(ctx context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error)
	UpdateDraft(ctx context.Context, ownerID, draftID string, content models.DraftContent) (*models.Draft, error)
	DiscardDraft(ctx context.Context, ownerID, draftID string) error
	AddAttachment(ctx context.Context, ownerID, draftID string, input draftservice.AttachmentInput) (*models.DraftAttachment, error)
	ListAttachments(ctx context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error)
	DeleteAttachment(ctx context.Context, ownerID, attachmentID string) error
	RequestSync(ctx context.Context, ownerID, draftID string) error
	RequestSend(ctx context.Context, ownerID, draftID string) error
	GetSyncState(ctx context.Context, ownerID, draftID string) (*models.DraftSyncState, error)
	ObserveSyncState(ctx context.Context, ownerID, draftID string) (<-chan syncstate.Snapshot, func(), error)
}

type Config struct {
	MaxAttachmentSize int64
	// StreamKeepAlive is how often an idle state stream sends a comment line.
	StreamKeepAlive time.Duration
}

type DraftsHandler struct {
	drafts DraftService
	cfg    Config
}

func NewDraftsHandler(drafts DraftService, cfg Config) *DraftsHandler {
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = 25 << 20
	}
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = 15 * time.Second
	}
	return &DraftsHandler{drafts: drafts, cfg: cfg}
}
