package inmemory

import (
	"context"
	"sort"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/utils"
)

type draftAttachmentRepository struct {
	db *DB
}

func NewDraftAttachmentRepository(db *DB) interfaces.DraftAttachmentRepository {
	return &draftAttachmentRepository{db: db}
}

func (r *draftAttachmentRepository) Create(_ context.Context, attachment *models.DraftAttachment) error {
	if attachment.OwnerID == "" || attachment.DraftID == "" {
		return draftsyncerrors.ErrInvalidInput
	}
	if err := attachment.BeforeCreate(nil); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.attachments[attachment.ID] = attachment.Clone()
	return nil
}

func (r *draftAttachmentRepository) Get(_ context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attachments[id]
	if !ok || a.OwnerID != ownerID {
		return nil, nil
	}
	return a.Clone(), nil
}

func (r *draftAttachmentRepository) ListByDraft(_ context.Context, ownerID, draftID string) ([]*models.DraftAttachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	// accept the local placeholder of a reconciled draft
	if d := r.db.findDraft(ownerID, draftID); d != nil {
		draftID = d.ID
	}
	var out []*models.DraftAttachment
	for _, a := range r.db.attachments {
		if a.OwnerID == ownerID && a.DraftID == draftID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *draftAttachmentRepository) Update(_ context.Context, ownerID, id string, fn func(*models.DraftAttachment) error) (*models.DraftAttachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current, ok := r.db.attachments[id]
	if !ok || current.OwnerID != ownerID {
		return nil, draftsyncerrors.ErrAttachmentNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID, working.OwnerID, working.DraftID = current.ID, current.OwnerID, current.DraftID
	working.UpdatedAt = utils.Now()
	r.db.attachments[id] = working
	return working.Clone(), nil
}

func (r *draftAttachmentRepository) Delete(_ context.Context, ownerID, id string) (*models.DraftAttachment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.attachments[id]
	if !ok || a.OwnerID != ownerID {
		return nil, nil
	}
	delete(r.db.attachments, id)
	return a.Clone(), nil
}

func (r *draftAttachmentRepository) DeleteByDraft(_ context.Context, ownerID, draftID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if d := r.db.findDraft(ownerID, draftID); d != nil {
		draftID = d.ID
	}
	for id, a := range r.db.attachments {
		if a.OwnerID == ownerID && a.DraftID == draftID {
			delete(r.db.attachments, id)
		}
	}
	return nil
}
