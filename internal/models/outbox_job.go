package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/utils"
)

// OutboxJob is the durable scheduling record for one background job.
// Key is unique among queued jobs and among running jobs.
type OutboxJob struct {
	ID      string        `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Key     string        `gorm:"column:key;type:varchar(200);index;not null" json:"key"`
	Kind    enum.JobKind  `gorm:"column:kind;type:varchar(50);not null" json:"kind"`
	State   enum.JobState `gorm:"column:state;type:varchar(20);index;not null" json:"state"`
	OwnerID string        `gorm:"column:owner_id;type:varchar(100);not null" json:"ownerId"`
	DraftID string        `gorm:"column:draft_id;type:varchar(100);index" json:"draftId"`

	AttachmentID       string `gorm:"column:attachment_id;type:varchar(50)" json:"attachmentId,omitempty"`
	RemoteAttachmentID string `gorm:"column:remote_attachment_id;type:varchar(100)" json:"remoteAttachmentId,omitempty"`

	// Revision is the draft revision this job depends on.
	Revision int64 `gorm:"column:revision;not null;default:0" json:"revision"`

	Attempt   int        `gorm:"column:attempt;not null;default:0" json:"attempt"`
	RunAt     time.Time  `gorm:"column:run_at;type:timestamp;index;not null" json:"runAt"`
	LeasedAt  *time.Time `gorm:"column:leased_at;type:timestamp" json:"leasedAt,omitempty"`
	LastError string     `gorm:"column:last_error;type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (OutboxJob) TableName() string {
	return "outbox_jobs"
}

func (j *OutboxJob) BeforeCreate(tx *gorm.DB) error {
	j.Prepare()
	return nil
}

// Prepare fills identity and scheduling defaults before the job is stored.
func (j *OutboxJob) Prepare() {
	now := utils.Now()
	if j.ID == "" {
		j.ID = utils.GenerateNanoIDWithPrefix("job", 16)
	}
	if j.Key == "" {
		j.Key = JobKey(j.Kind, j.Target())
	}
	if j.State == "" {
		j.State = enum.JobStateQueued
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
}

// Target is the id the job is unique on.
func (j *OutboxJob) Target() string {
	if j.Kind == enum.JobKindDeleteAttachment {
		return j.AttachmentID
	}
	return j.DraftID
}

func (j *OutboxJob) Clone() *OutboxJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.LeasedAt != nil {
		t := *j.LeasedAt
		c.LeasedAt = &t
	}
	return &c
}

func JobKey(kind enum.JobKind, target string) string {
	return kind.String() + "-" + target
}
