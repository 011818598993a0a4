package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/utils"
)

// DraftAttachment is a file attached to a draft. Content lives in blob
// storage under StorageKey; key packets and signature are recorded from the
// last successful upload.
type DraftAttachment struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey"`
	DraftID     string `gorm:"column:draft_id;type:varchar(100);index;not null"`
	OwnerID     string `gorm:"column:owner_id;type:varchar(100);index;not null"`
	Filename    string `gorm:"column:filename;type:varchar(500)"`
	ContentType string `gorm:"column:content_type;type:varchar(255)"`
	ContentID   string `gorm:"column:content_id;type:varchar(255)"`
	IsInline    bool   `gorm:"column:is_inline;default:false"`
	Size        int64  `gorm:"column:size;default:0"`
	ContentHash string `gorm:"column:content_hash;type:varchar(64)"`
	StorageKey  string `gorm:"column:storage_key;type:varchar(1000)"`

	UploadStatus enum.AttachmentUploadStatus `gorm:"column:upload_status;type:varchar(20);index;not null;default:'pending'"`
	RemoteID     string                      `gorm:"column:remote_id;type:varchar(100)"`
	KeyPackets   string                      `gorm:"column:key_packets;type:text"`
	Signature    string                      `gorm:"column:signature;type:text"`
	LastError    string                      `gorm:"column:last_error;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (DraftAttachment) TableName() string {
	return "draft_attachments"
}

func (a *DraftAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("att", 16)
	}
	if a.UploadStatus == "" {
		a.UploadStatus = enum.AttachmentPending
	}
	a.CreatedAt = utils.Now()
	a.UpdatedAt = a.CreatedAt
	return nil
}

func (a *DraftAttachment) Clone() *DraftAttachment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
