package models

import (
	"time"

	"github.com/customeros/draftsync/internal/enum"
)

// DraftSyncState is the per-draft outcome of the most recent outbox job.
type DraftSyncState struct {
	OwnerID      string               `gorm:"column:owner_id;type:varchar(100);primaryKey"`
	DraftID      string               `gorm:"column:draft_id;type:varchar(100);primaryKey"`
	Status       enum.DraftSyncStatus `gorm:"column:status;type:varchar(50);index;not null"`
	SendingError enum.SendingError    `gorm:"column:sending_error;type:varchar(50)"`
	LastError    string               `gorm:"column:last_error;type:text"`

	// ContentRevision is the newest local revision known to need syncing,
	// SyncedRevision the newest one the server acknowledged.
	ContentRevision int64 `gorm:"column:content_revision;not null;default:0"`
	SyncedRevision  int64 `gorm:"column:synced_revision;not null;default:0"`
	SendRequested   bool  `gorm:"column:send_requested;default:false"`

	// Version grows by one with every committed change.
	Version int64 `gorm:"column:version;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (DraftSyncState) TableName() string {
	return "draft_sync_states"
}

// DraftSynced is true when the server holds the newest local content.
func (s *DraftSyncState) DraftSynced() bool {
	return s != nil && s.SyncedRevision >= s.ContentRevision && s.SyncedRevision > 0
}

func (s *DraftSyncState) Clone() *DraftSyncState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
