// Package inmemory keeps drafts, attachments and sync states in process
// memory. All repositories built on the same DB share one lock, so
// cross-table operations such as ReassignID are atomic.
package inmemory

import (
	"sync"

	"github.com/customeros/draftsync/internal/models"
)

type stateKey struct {
	ownerID string
	draftID string
}

type DB struct {
	mu          sync.Mutex
	drafts      map[string]*models.Draft
	attachments map[string]*models.DraftAttachment
	states      map[stateKey]*models.DraftSyncState
}

func NewDB() *DB {
	return &DB{
		drafts:      make(map[string]*models.Draft),
		attachments: make(map[string]*models.DraftAttachment),
		states:      make(map[stateKey]*models.DraftSyncState),
	}
}

// findDraft resolves an id against current and local ids. Caller holds mu.
func (db *DB) findDraft(ownerID, id string) *models.Draft {
	if d, ok := db.drafts[id]; ok && d.OwnerID == ownerID {
		return d
	}
	for _, d := range db.drafts {
		if d.OwnerID == ownerID && d.LocalID == id {
			return d
		}
	}
	return nil
}
