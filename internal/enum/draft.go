package enum

type DraftAction string

const (
	DraftActionCompose  DraftAction = "compose"
	DraftActionReply    DraftAction = "reply"
	DraftActionReplyAll DraftAction = "reply_all"
	DraftActionForward  DraftAction = "forward"
)

func (a DraftAction) String() string {
	return string(a)
}

// RequiresParent reports whether the action references an existing message.
func (a DraftAction) RequiresParent() bool {
	switch a {
	case DraftActionReply, DraftActionReplyAll, DraftActionForward:
		return true
	default:
		return false
	}
}

func (a DraftAction) IsValid() bool {
	switch a {
	case DraftActionCompose, DraftActionReply, DraftActionReplyAll, DraftActionForward:
		return true
	default:
		return false
	}
}

type MIMEType string

const (
	MIMETypePlainText MIMEType = "text/plain"
	MIMETypeHTML      MIMEType = "text/html"
)

func (t MIMEType) String() string {
	return string(t)
}

type AttachmentUploadStatus string

const (
	AttachmentPending   AttachmentUploadStatus = "pending"
	AttachmentUploading AttachmentUploadStatus = "uploading"
	AttachmentUploaded  AttachmentUploadStatus = "uploaded"
	AttachmentFailed    AttachmentUploadStatus = "failed"
)

func (s AttachmentUploadStatus) String() string {
	return string(s)
}

// NeedsUpload is true for attachments the next upload job must (re)send.
func (s AttachmentUploadStatus) NeedsUpload() bool {
	return s != AttachmentUploaded
}
