package inmemory

import (
	"context"
	"sort"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/utils"
)

type draftSyncStateRepository struct {
	db *DB
}

func NewDraftSyncStateRepository(db *DB) interfaces.DraftSyncStateRepository {
	return &draftSyncStateRepository{db: db}
}

// keyFor keys the state by the draft's current id, so a caller still holding
// the local id after reconciliation reaches the same row. Caller holds mu.
func (r *draftSyncStateRepository) keyFor(ownerID, draftID string) stateKey {
	if d := r.db.findDraft(ownerID, draftID); d != nil {
		draftID = d.ID
	}
	return stateKey{ownerID: ownerID, draftID: draftID}
}

func (r *draftSyncStateRepository) Get(_ context.Context, ownerID, draftID string) (*models.DraftSyncState, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.states[r.keyFor(ownerID, draftID)].Clone(), nil
}

func (r *draftSyncStateRepository) Modify(_ context.Context, ownerID, draftID string, fn func(*models.DraftSyncState) error) (*models.DraftSyncState, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	key := r.keyFor(ownerID, draftID)
	working := r.db.states[key].Clone()
	if working == nil {
		now := utils.Now()
		working = &models.DraftSyncState{
			OwnerID:   key.ownerID,
			DraftID:   key.draftID,
			Status:    enum.SyncStatusPending,
			CreatedAt: now,
		}
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.OwnerID, working.DraftID = key.ownerID, key.draftID
	working.Version++
	working.UpdatedAt = utils.Now()
	r.db.states[key] = working
	return working.Clone(), nil
}

func (r *draftSyncStateRepository) Delete(_ context.Context, ownerID, draftID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.states, r.keyFor(ownerID, draftID))
	return nil
}

func (r *draftSyncStateRepository) ListByStatus(_ context.Context, statuses ...enum.DraftSyncStatus) ([]*models.DraftSyncState, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []*models.DraftSyncState
	for _, s := range r.db.states {
		if len(statuses) == 0 || containsStatus(statuses, s.Status) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func containsStatus(statuses []enum.DraftSyncStatus, s enum.DraftSyncStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
