package dto

import "github.com/customeros/draftsync/internal/enum"

// DraftSyncStateChanged is published on every sync state transition.
type DraftSyncStateChanged struct {
	OwnerId      string               `json:"ownerId"`
	DraftId      string               `json:"draftId"`
	Status       enum.DraftSyncStatus `json:"status"`
	SendingError enum.SendingError    `json:"sendingError,omitempty"`
	Revision     int64                `json:"revision"`
	// Version orders events of one draft; consumers drop lower versions.
	Version int64 `json:"version"`
	Deleted bool  `json:"deleted,omitempty"`
}

// Commands accepted on the draftsync-commands queue.

type RequestSync struct {
	OwnerId string `json:"ownerId"`
	DraftId string `json:"draftId"`
}

type RequestSend struct {
	OwnerId string `json:"ownerId"`
	DraftId string `json:"draftId"`
}

type CancelAttachment struct {
	OwnerId      string `json:"ownerId"`
	DraftId      string `json:"draftId"`
	AttachmentId string `json:"attachmentId"`
}
