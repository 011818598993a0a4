package jobs

import (
	"context"
	"encoding/base64"
	"net/mail"

	"github.com/customeros/draftsync/dto"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
)

func toRecipient(raw string) dto.Recipient {
	if addr, err := mail.ParseAddress(raw); err == nil {
		return dto.Recipient{Address: addr.Address, Name: addr.Name}
	}
	return dto.Recipient{Address: raw}
}

func toRecipients(list []string) []dto.Recipient {
	out := make([]dto.Recipient, 0, len(list))
	for _, r := range list {
		out = append(out, toRecipient(r))
	}
	return out
}

// buildTemplate encrypts the body afresh on every call.
func buildTemplate(ctx context.Context, enc interfaces.Encryptor, draft *models.Draft) (dto.DraftTemplate, error) {
	body, err := enc.EncryptBody(ctx, draft.OwnerID, []byte(draft.Body))
	if err != nil {
		return dto.DraftTemplate{}, err
	}
	mimeType := draft.MIMEType
	if mimeType == "" {
		mimeType = enum.MIMETypeHTML
	}
	return dto.DraftTemplate{
		Subject:  draft.Subject,
		Sender:   dto.Recipient{Address: draft.FromAddress, Name: draft.FromName},
		ToList:   toRecipients(draft.ToAddresses),
		CCList:   toRecipients(draft.CcAddresses),
		BCCList:  toRecipients(draft.BccAddresses),
		Body:     base64.StdEncoding.EncodeToString(body),
		MIMEType: mimeType.String(),
		Flags:    append([]string(nil), draft.Flags...),
	}, nil
}

// attachmentKeyPackets lists key packets of attachments already on the server.
func attachmentKeyPackets(attachments []*models.DraftAttachment) map[string]string {
	packets := make(map[string]string)
	for _, a := range attachments {
		if a.UploadStatus == enum.AttachmentUploaded && a.RemoteID != "" && a.KeyPackets != "" {
			packets[a.RemoteID] = a.KeyPackets
		}
	}
	if len(packets) == 0 {
		return nil
	}
	return packets
}

func createAction(action enum.DraftAction) *int {
	var v int
	switch action {
	case enum.DraftActionReply:
		v = dto.CreateDraftActionReply
	case enum.DraftActionReplyAll:
		v = dto.CreateDraftActionReplyAll
	case enum.DraftActionForward:
		v = dto.CreateDraftActionForward
	default:
		return nil
	}
	return &v
}
