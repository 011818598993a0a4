package interfaces

import (
	"context"

	"github.com/customeros/draftsync/dto"
)

// MailAPI is the remote mail server. Returned errors are already classified
// as retryable or not by the implementation.
type MailAPI interface {
	CreateDraft(ctx context.Context, ownerID string, req *dto.CreateDraftRequest) (*dto.DraftResponse, error)
	UpdateDraft(ctx context.Context, ownerID, remoteID string, req *dto.UpdateDraftRequest) (*dto.DraftResponse, error)
	UploadAttachment(ctx context.Context, ownerID string, req *dto.UploadAttachmentRequest) (*dto.AttachmentResponse, error)
	DeleteAttachment(ctx context.Context, ownerID, remoteAttachmentID string) error
	SendMessage(ctx context.Context, ownerID, remoteID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
}

// Encryptor is applied to body and attachment bytes on every upload attempt.
type Encryptor interface {
	EncryptBody(ctx context.Context, ownerID string, body []byte) ([]byte, error)
	EncryptAttachment(ctx context.Context, ownerID string, content []byte) (*EncryptedAttachment, error)
}

type EncryptedAttachment struct {
	KeyPackets []byte
	DataPacket []byte
	Signature  []byte
}
