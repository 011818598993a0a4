package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/utils"
)

// Draft is the locally owned record of a message being composed.
// ID holds the current identifier: the local placeholder until the first
// successful create, the server id afterwards. LocalID keeps the placeholder.
type Draft struct {
	ID       string           `gorm:"column:id;type:varchar(100);primaryKey"`
	LocalID  string           `gorm:"column:local_id;type:varchar(100);uniqueIndex;not null"`
	OwnerID  string           `gorm:"column:owner_id;type:varchar(100);index;not null"`
	Action   enum.DraftAction `gorm:"column:action;type:varchar(20);not null"`
	ParentID string           `gorm:"column:parent_id;type:varchar(100)"`

	Subject      string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255)"`
	FromName     string         `gorm:"column:from_name;type:varchar(255)"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]"`
	Body         string         `gorm:"column:body;type:text"`
	MIMEType     enum.MIMEType  `gorm:"column:mime_type;type:varchar(50);default:'text/html'"`
	Flags        pq.StringArray `gorm:"column:flags;type:text[]"`

	// Revision grows on every content save and is what sync jobs report back.
	Revision int64 `gorm:"column:revision;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Draft) TableName() string {
	return "drafts"
}

func (d *Draft) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.NewLocalDraftID()
	}
	if d.LocalID == "" {
		d.LocalID = d.ID
	}
	d.CreatedAt = utils.Now()
	d.UpdatedAt = d.CreatedAt
	return nil
}

// Content is the user-editable part of a draft.
type DraftContent struct {
	Subject      string
	FromAddress  string
	FromName     string
	ToAddresses  []string
	CcAddresses  []string
	BccAddresses []string
	Body         string
	MIMEType     enum.MIMEType
	Flags        []string
}

// ApplyContent overwrites the editable fields and bumps the revision.
func (d *Draft) ApplyContent(c DraftContent) {
	d.Subject = c.Subject
	d.FromAddress = c.FromAddress
	d.FromName = c.FromName
	d.ToAddresses = append(pq.StringArray(nil), c.ToAddresses...)
	d.CcAddresses = append(pq.StringArray(nil), c.CcAddresses...)
	d.BccAddresses = append(pq.StringArray(nil), c.BccAddresses...)
	d.Body = c.Body
	if c.MIMEType != "" {
		d.MIMEType = c.MIMEType
	}
	d.Flags = append(pq.StringArray(nil), c.Flags...)
	d.Revision++
	d.UpdatedAt = utils.Now()
}

func (d *Draft) Recipients() []string {
	all := make([]string, 0, len(d.ToAddresses)+len(d.CcAddresses)+len(d.BccAddresses))
	all = append(all, d.ToAddresses...)
	all = append(all, d.CcAddresses...)
	all = append(all, d.BccAddresses...)
	return all
}

func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	c.ToAddresses = append(pq.StringArray(nil), d.ToAddresses...)
	c.CcAddresses = append(pq.StringArray(nil), d.CcAddresses...)
	c.BccAddresses = append(pq.StringArray(nil), d.BccAddresses...)
	c.Flags = append(pq.StringArray(nil), d.Flags...)
	return &c
}
