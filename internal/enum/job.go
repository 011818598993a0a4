package enum

type JobKind string

const (
	JobKindSyncDraft         JobKind = "sync-draft"
	JobKindUploadAttachments JobKind = "upload-attachments"
	JobKindSendDraft         JobKind = "send-draft"
	JobKindDeleteAttachment  JobKind = "delete-attachment"
)

func (k JobKind) String() string {
	return string(k)
}

func (k JobKind) IsValid() bool {
	switch k {
	case JobKindSyncDraft, JobKindUploadAttachments, JobKindSendDraft, JobKindDeleteAttachment:
		return true
	default:
		return false
	}
}

type JobState string

const (
	JobStateQueued  JobState = "queued"
	JobStateRunning JobState = "running"
)

func (s JobState) String() string {
	return string(s)
}
