package inmemory

import (
	"context"
	"fmt"
	"sort"

	draftsyncerrors "github.com/customeros/draftsync/errors"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/utils"
)

type draftRepository struct {
	db *DB
}

func NewDraftRepository(db *DB) interfaces.DraftRepository {
	return &draftRepository{db: db}
}

func (r *draftRepository) Create(_ context.Context, draft *models.Draft) error {
	if draft.OwnerID == "" {
		return draftsyncerrors.ErrInvalidInput
	}
	if err := draft.BeforeCreate(nil); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.findDraft(draft.OwnerID, draft.ID) != nil {
		return fmt.Errorf("failed to create draft: duplicate id %s", draft.ID)
	}
	r.db.drafts[draft.ID] = draft.Clone()
	return nil
}

func (r *draftRepository) Get(_ context.Context, ownerID, id string) (*models.Draft, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.findDraft(ownerID, id).Clone(), nil
}

func (r *draftRepository) List(_ context.Context, ownerID string, limit, offset int) ([]*models.Draft, int64, error) {
	r.db.mu.Lock()
	var drafts []*models.Draft
	for _, d := range r.db.drafts {
		if d.OwnerID == ownerID {
			drafts = append(drafts, d.Clone())
		}
	}
	r.db.mu.Unlock()

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
	})
	total := int64(len(drafts))
	if offset >= len(drafts) {
		return []*models.Draft{}, total, nil
	}
	drafts = drafts[offset:]
	if limit > 0 && limit < len(drafts) {
		drafts = drafts[:limit]
	}
	return drafts, total, nil
}

func (r *draftRepository) Update(_ context.Context, ownerID, id string, fn func(*models.Draft) error) (*models.Draft, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current := r.db.findDraft(ownerID, id)
	if current == nil {
		return nil, draftsyncerrors.ErrDraftNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID, working.LocalID, working.OwnerID = current.ID, current.LocalID, ownerID
	working.UpdatedAt = utils.Now()
	r.db.drafts[working.ID] = working
	return working.Clone(), nil
}

func (r *draftRepository) Delete(_ context.Context, ownerID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if d := r.db.findDraft(ownerID, id); d != nil {
		delete(r.db.drafts, d.ID)
	}
	return nil
}

func (r *draftRepository) ReassignID(_ context.Context, ownerID, localID, remoteID string) (*models.Draft, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var draft *models.Draft
	for _, d := range r.db.drafts {
		if d.OwnerID == ownerID && d.LocalID == localID {
			draft = d
			break
		}
	}
	if draft == nil {
		return nil, draftsyncerrors.ErrDraftNotFound
	}
	if draft.ID == remoteID {
		return draft.Clone(), nil
	}
	if draft.ID != localID {
		return nil, fmt.Errorf("draft %s already reconciled to %s", localID, draft.ID)
	}

	delete(r.db.drafts, localID)
	draft.ID = remoteID
	r.db.drafts[remoteID] = draft

	for _, a := range r.db.attachments {
		if a.OwnerID == ownerID && a.DraftID == localID {
			a.DraftID = remoteID
		}
	}
	oldKey := stateKey{ownerID: ownerID, draftID: localID}
	newKey := stateKey{ownerID: ownerID, draftID: remoteID}
	if s, ok := r.db.states[oldKey]; ok {
		delete(r.db.states, oldKey)
		// a row already under the remote id wins if it moved further
		if existing, clash := r.db.states[newKey]; !clash || existing.Version < s.Version {
			s.DraftID = remoteID
			r.db.states[newKey] = s
		}
	}
	return draft.Clone(), nil
}
