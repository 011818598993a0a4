package enum

type DraftSyncStatus string

const (
	SyncStatusPending                DraftSyncStatus = "pending"
	SyncStatusSyncingDraft           DraftSyncStatus = "syncing_draft"
	SyncStatusSynced                 DraftSyncStatus = "synced"
	SyncStatusErrorUploadDraft       DraftSyncStatus = "error_upload_draft"
	SyncStatusUploadingAttachments   DraftSyncStatus = "uploading_attachments"
	SyncStatusErrorUploadAttachments DraftSyncStatus = "error_upload_attachments"
	SyncStatusSending                DraftSyncStatus = "sending"
	SyncStatusErrorSending           DraftSyncStatus = "error_sending"
	SyncStatusSent                   DraftSyncStatus = "sent"
)

func (s DraftSyncStatus) String() string {
	return string(s)
}

func (s DraftSyncStatus) IsError() bool {
	switch s {
	case SyncStatusErrorUploadDraft, SyncStatusErrorUploadAttachments, SyncStatusErrorSending:
		return true
	default:
		return false
	}
}

func (s DraftSyncStatus) IsTerminal() bool {
	return s == SyncStatusSent
}

func (s DraftSyncStatus) InFlight() bool {
	switch s {
	case SyncStatusSyncingDraft, SyncStatusUploadingAttachments, SyncStatusSending:
		return true
	default:
		return false
	}
}

// SendingError narrows recognized server conflicts into values the composer can act on.
type SendingError string

const (
	SendingErrorNone                 SendingError = ""
	SendingErrorMessageAlreadySent   SendingError = "MessageAlreadySent"
	SendingErrorMessageSizeExceeded  SendingError = "MessageSizeExceeded"
	SendingErrorAttachmentTooLarge   SendingError = "AttachmentTooLarge"
	SendingErrorExternalSendDisabled SendingError = "ExternalAddressSendDisabled"
)

func (e SendingError) String() string {
	return string(e)
}

func (e SendingError) IsValid() bool {
	switch e {
	case SendingErrorMessageAlreadySent, SendingErrorMessageSizeExceeded,
		SendingErrorAttachmentTooLarge, SendingErrorExternalSendDisabled:
		return true
	default:
		return false
	}
}

// Priority orders sending errors when several attachments fail differently;
// the highest one is surfaced.
func (e SendingError) Priority() int {
	switch e {
	case SendingErrorMessageAlreadySent:
		return 3
	case SendingErrorExternalSendDisabled:
		return 2
	case SendingErrorMessageSizeExceeded, SendingErrorAttachmentTooLarge:
		return 1
	default:
		return 0
	}
}
